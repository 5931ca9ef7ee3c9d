package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/coinpeak/exchange-api/internal/assets"
	"github.com/coinpeak/exchange-api/internal/auth"
	"github.com/coinpeak/exchange-api/internal/config"
	"github.com/coinpeak/exchange-api/internal/database"
	"github.com/coinpeak/exchange-api/internal/engine"
	"github.com/coinpeak/exchange-api/internal/events"
	"github.com/coinpeak/exchange-api/internal/ledger"
	"github.com/coinpeak/exchange-api/internal/orders"
	"github.com/coinpeak/exchange-api/internal/trades"
	"github.com/coinpeak/exchange-api/internal/ws"
	"github.com/coinpeak/exchange-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the exchange API server with graceful shutdown
// support. It wires the ledger, matching engine and order service around one
// database connection and one after-commit event dispatcher.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	dispatcher := events.NewDispatcher()

	authService := auth.NewService(db, cfg.JWTSecret, cfg.SignupBalance)
	authHandlers := auth.NewGinHandlers(authService)

	ledgerService := ledger.NewService(db)
	assetHandlers := assets.NewGinHandlers(ledgerService)

	matchingEngine := engine.New(ledgerService, cfg.CommissionRate)

	orderService := orders.NewService(db, ledgerService, matchingEngine, dispatcher, cfg)
	orderHandlers := orders.NewGinHandlers(orderService)

	tradeService := trades.NewService(db)
	tradeHandlers := trades.NewGinHandlers(tradeService)

	hub := ws.NewHub(authService, dispatcher)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg, authHandlers, orderHandlers, tradeHandlers, assetHandlers, hub)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for registration and login
// - Trading routes: Protected by JWT authentication
// - Websocket route: Public, with optional token for private channels
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	orderHandlers *orders.GinHandlers,
	tradeHandlers *trades.GinHandlers,
	assetHandlers *assets.GinHandlers,
	hub *ws.Hub,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandlers.RegisterHandler())
			authGroup.POST("/login", authHandlers.LoginHandler())
		}

		// Authenticated routes
		protected := v1.Group("")
		protected.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			protected.GET("/user", authHandlers.CurrentUserHandler())
			protected.GET("/orderbook", orderHandlers.GetOrderBookHandler())
			protected.GET("/assets", assetHandlers.GetUserAssetsHandler())
			protected.GET("/trades", tradeHandlers.GetUserTradesHandler())

			ordersGroup := protected.Group("/orders")
			{
				ordersGroup.POST("", orderHandlers.CreateOrderHandler())
				ordersGroup.GET("", orderHandlers.GetUserOrdersHandler())
				ordersGroup.GET("/:order_id", orderHandlers.GetOrderHandler())
				ordersGroup.DELETE("/:order_id", orderHandlers.CancelOrderHandler())
			}
		}

		// Real-time event stream
		v1.GET("/ws", hub.ServeWS())
	}
}
