package trades

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/coinpeak/exchange-api/internal/types"
	"github.com/coinpeak/exchange-api/pkg/response"
)

const tradesPerPage = 20

// Service exposes read access to settled trades. Trades are immutable, so
// this service never mutates anything.
type Service struct {
	db *Database
}

// NewService creates a new trade query service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// GetUserTrades returns one page of trades where the user was buyer or
// seller, newest first.
func (s *Service) GetUserTrades(userID string, page int) ([]types.Trade, *types.Pagination, error) {
	if page < 1 {
		page = 1
	}

	results, total, err := s.db.GetUserTrades(userID, page, tradesPerPage)
	if err != nil {
		return nil, nil, err
	}

	lastPage := int((total + tradesPerPage - 1) / tradesPerPage)
	if lastPage < 1 {
		lastPage = 1
	}

	return results, &types.Pagination{
		Total:       total,
		PerPage:     tradesPerPage,
		CurrentPage: page,
		LastPage:    lastPage,
	}, nil
}

// GinHandlers contains HTTP handlers for trade endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for trade endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetUserTradesHandler handles GET requests listing the caller's trades.
// Optional query parameter: page
func (h *GinHandlers) GetUserTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing authenticated user")
			return
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		results, meta, err := h.service.GetUserTrades(userID, page)
		if err != nil {
			response.InternalError(c, "Failed to fetch trades")
			return
		}

		response.Success(c, gin.H{"data": results, "meta": meta})
	}
}
