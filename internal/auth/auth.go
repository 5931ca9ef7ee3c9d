package auth

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/coinpeak/exchange-api/internal/types"
	"github.com/coinpeak/exchange-api/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

const tokenLifetime = 24 * time.Hour

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Service handles account registration, login and token validation. New
// accounts start with a configurable fiat balance so they can trade
// immediately.
type Service struct {
	db            *Database
	jwtSecret     []byte
	signupBalance decimal.Decimal
}

// NewService creates a new authentication service with the given JWT secret
func NewService(gormDB *gorm.DB, jwtSecret string, signupBalance decimal.Decimal) *Service {
	return &Service{
		db:            NewDatabase(gormDB),
		jwtSecret:     []byte(jwtSecret),
		signupBalance: signupBalance,
	}
}

// Register creates a new user account and returns it with a signed token.
func (s *Service) Register(name, email, password string) (*types.User, *TokenResponse, error) {
	existing, err := s.db.GetUserByEmail(email)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}

	user := &types.User{
		UserID:       "USR_" + uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Balance:      s.signupBalance,
	}
	if err := s.db.CreateUser(user); err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("service", "auth").
		Str("user_id", user.UserID).
		Str("balance", user.Balance.String()).
		Msg("user registered")

	token, err := s.GenerateToken(user)
	if err != nil {
		return nil, nil, err
	}
	return user, token, nil
}

// Login verifies the credentials and returns the user with a signed token.
func (s *Service) Login(email, password string) (*types.User, *TokenResponse, error) {
	user, err := s.db.GetUserByEmail(email)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}

	token, err := s.GenerateToken(user)
	if err != nil {
		return nil, nil, err
	}
	return user, token, nil
}

// GenerateToken signs a JWT for the user with a 24-hour expiration.
func (s *Service) GenerateToken(user *types.User) (*TokenResponse, error) {
	expiration := time.Now().Add(tokenLifetime)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
		UserID: user.UserID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
	}, nil
}

// ValidateToken verifies a JWT's signature and expiration and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// GetUser retrieves a user by their public id.
func (s *Service) GetUser(userID string) (*types.User, error) {
	return s.db.GetUserByUserID(userID)
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RegisterHandler handles POST requests to create user accounts
func (h *GinHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		user, token, err := h.service.Register(req.Name, req.Email, req.Password)
		if errors.Is(err, ErrEmailTaken) {
			response.Conflict(c, err.Error())
			return
		}
		if err != nil {
			response.InternalError(c, "Failed to register user")
			return
		}

		response.Success(c, gin.H{"user": user, "token": token})
	}
}

// LoginHandler handles POST requests to exchange credentials for a JWT
func (h *GinHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		user, token, err := h.service.Login(req.Email, req.Password)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		if err != nil {
			response.InternalError(c, "Failed to log in")
			return
		}

		response.Success(c, gin.H{"user": user, "token": token})
	}
}

// CurrentUserHandler handles GET requests for the authenticated account
func (h *GinHandlers) CurrentUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing authenticated user")
			return
		}

		user, err := h.service.GetUser(userID)
		if err != nil || user == nil {
			response.NotFound(c, "User not found")
			return
		}
		response.Success(c, user)
	}
}
