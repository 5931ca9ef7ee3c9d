package orders

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coinpeak/exchange-api/internal/config"
	"github.com/coinpeak/exchange-api/internal/database"
	"github.com/coinpeak/exchange-api/internal/engine"
	"github.com/coinpeak/exchange-api/internal/events"
	"github.com/coinpeak/exchange-api/internal/ledger"
	"github.com/coinpeak/exchange-api/internal/types"
	"github.com/coinpeak/exchange-api/pkg/response"
)

const (
	orderBookDepth = 10
	ordersPerPage  = 10
)

// Service is the single entry point for order placement and cancellation. A
// placement validates, locks funds, creates the order and runs one match
// attempt as a single transaction; a cancellation re-locks the order, releases
// its funds and closes it the same way. Announcements for external listeners
// are dispatched only after the transaction has committed.
type Service struct {
	db         *gorm.DB
	repo       *Database
	ledger     *ledger.Service
	engine     *engine.Engine
	dispatcher *events.Dispatcher
	cfg        *config.Config
}

// NewService creates a new order service.
func NewService(db *gorm.DB, ledgerService *ledger.Service, matchingEngine *engine.Engine, dispatcher *events.Dispatcher, cfg *config.Config) *Service {
	return &Service{
		db:         db,
		repo:       NewDatabase(db),
		ledger:     ledgerService,
		engine:     matchingEngine,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
}

// PlaceOrderInput is a validated-shape placement intent.
type PlaceOrderInput struct {
	Symbol string
	Side   string
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// PlaceOrder locks the required funds, creates the order and synchronously
// attempts one match, all in one transaction. The returned result carries the
// order in its post-commit state and the trade when one executed.
func (s *Service) PlaceOrder(userID string, in PlaceOrderInput) (*types.PlacementResult, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("service", "orders").
		Str("user_id", userID).
		Str("symbol", in.Symbol).
		Str("side", in.Side).
		Logger()

	order := &types.Order{
		OrderID: "ORD_" + uuid.New().String(),
		UserID:  userID,
		Symbol:  in.Symbol,
		Side:    in.Side,
		Price:   in.Price,
		Amount:  in.Amount,
		Status:  types.StatusOpen,
	}

	var trade *types.Trade
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if in.Side == types.SideBuy {
			required := types.MulFixed(in.Price, in.Amount)
			ok, err := s.ledger.LockFiat(tx, userID, required)
			if err != nil {
				return err
			}
			if !ok {
				available, err := s.availableFiat(tx, userID)
				if err != nil {
					return err
				}
				return &InsufficientFundsError{Required: required, Available: available}
			}
			order.LockedFunds = required
		} else {
			ok, err := s.ledger.LockAsset(tx, userID, in.Symbol, in.Amount)
			if err != nil {
				return err
			}
			if !ok {
				available, err := s.availableAsset(tx, userID, in.Symbol)
				if err != nil {
					return err
				}
				return &InsufficientAssetError{Symbol: in.Symbol, Required: in.Amount, Available: available}
			}
			order.LockedFunds = in.Amount
		}

		if err := s.repo.CreateOrder(tx, order); err != nil {
			return err
		}

		matched, err := s.engine.AttemptMatch(tx, order)
		if err != nil {
			return err
		}
		trade = matched
		return nil
	})
	if err != nil {
		return nil, err
	}

	fresh, err := s.repo.GetOrder(order.OrderID)
	if err != nil || fresh == nil {
		// The commit succeeded; fall back to the in-memory copy.
		fresh = order
	}

	if trade != nil {
		logger.Info().
			Str("order_id", order.OrderID).
			Str("trade_id", trade.TradeID).
			Msg("order placed and matched")
		s.publishTrade(trade)
	} else {
		logger.Info().
			Str("order_id", order.OrderID).
			Str("price", order.Price.String()).
			Str("amount", order.Amount.String()).
			Msg("order placed")
		s.dispatcher.Dispatch(events.Event{
			Type:    events.TypeOrderCreated,
			Channel: events.OrderBookChannel(fresh.Symbol),
			Payload: events.OrderPayload{Order: fresh},
		})
	}

	return &types.PlacementResult{Order: fresh, Trade: trade}, nil
}

// CancelOrder closes an open order owned by userID and releases its locked
// funds. Ownership is rejected before any mutation; the state check happens
// under the order's exclusive lock so a concurrent match loses or wins
// cleanly, never both.
func (s *Service) CancelOrder(orderID, userID string) (*types.Order, error) {
	existing, err := s.repo.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrOrderNotFound
	}
	if existing.UserID != userID {
		return nil, ErrNotOrderOwner
	}

	var cancelled types.Order
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := database.LockForUpdate(tx).Where("order_id = ?", orderID).First(&cancelled).Error; err != nil {
			return err
		}
		if !cancelled.IsOpen() {
			return ErrOrderNotCancellable
		}

		if cancelled.Side == types.SideBuy {
			if err := s.ledger.UnlockFiat(tx, cancelled.UserID, cancelled.LockedFunds); err != nil {
				return err
			}
		} else {
			if err := s.ledger.UnlockAsset(tx, cancelled.UserID, cancelled.Symbol, cancelled.LockedFunds); err != nil {
				return err
			}
		}

		cancelled.Status = types.StatusCancelled
		cancelled.LockedFunds = decimal.Zero
		return tx.Save(&cancelled).Error
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "orders").
		Str("order_id", orderID).
		Str("user_id", userID).
		Msg("order cancelled")

	s.dispatcher.Dispatch(events.Event{
		Type:    events.TypeOrderCancelled,
		Channel: events.OrderBookChannel(cancelled.Symbol),
		Payload: events.OrderPayload{Order: &cancelled},
	})

	return &cancelled, nil
}

// GetOrderForUser returns the order when it exists and belongs to userID.
func (s *Service) GetOrderForUser(orderID, userID string) (*types.Order, error) {
	order, err := s.repo.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.UserID != userID {
		return nil, ErrNotOrderOwner
	}
	return order, nil
}

// GetUserOrders returns one page of the user's orders, newest first.
func (s *Service) GetUserOrders(userID, status string, page int) ([]types.Order, *types.Pagination, error) {
	if page < 1 {
		page = 1
	}
	results, total, err := s.repo.GetUserOrders(userID, status, page, ordersPerPage)
	if err != nil {
		return nil, nil, err
	}
	return results, paginate(total, ordersPerPage, page), nil
}

// GetOrderBook returns the public top-of-book snapshot for a symbol.
func (s *Service) GetOrderBook(symbol string) (*types.OrderBook, error) {
	if !s.cfg.ValidSymbol(symbol) {
		return nil, &ValidationError{Field: "symbol", Message: "unknown symbol " + symbol}
	}
	return s.repo.GetOrderBook(symbol, orderBookDepth)
}

func (s *Service) validate(in PlaceOrderInput) error {
	if !s.cfg.ValidSymbol(in.Symbol) {
		return &ValidationError{Field: "symbol", Message: "unknown symbol " + in.Symbol}
	}
	if in.Side != types.SideBuy && in.Side != types.SideSell {
		return &ValidationError{Field: "side", Message: "must be buy or sell"}
	}
	if !in.Price.IsPositive() {
		return &ValidationError{Field: "price", Message: "must be greater than 0"}
	}
	if !in.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Message: "must be greater than 0"}
	}
	return nil
}

// availableFiat reads the balance on the transaction's own snapshot so the
// shortfall reported by a failed lock matches what the lock saw.
func (s *Service) availableFiat(tx *gorm.DB, userID string) (decimal.Decimal, error) {
	var user types.User
	if err := tx.Where("user_id = ?", userID).First(&user).Error; err != nil {
		return decimal.Zero, err
	}
	return user.Balance, nil
}

func (s *Service) availableAsset(tx *gorm.DB, userID, symbol string) (decimal.Decimal, error) {
	var asset types.Asset
	err := tx.Where("user_id = ? AND symbol = ?", userID, symbol).First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return asset.Available(), nil
}

// publishTrade announces a settled trade: privately to both parties with
// their fresh balances, publicly as an order-book removal. Best-effort only;
// the trade is already durable.
func (s *Service) publishTrade(trade *types.Trade) {
	buyOrder, err := s.repo.GetOrder(trade.BuyOrderID)
	if err != nil || buyOrder == nil {
		log.Warn().Str("trade_id", trade.TradeID).Msg("skipping trade announcement: buy order not readable")
		return
	}
	sellOrder, err := s.repo.GetOrder(trade.SellOrderID)
	if err != nil || sellOrder == nil {
		log.Warn().Str("trade_id", trade.TradeID).Msg("skipping trade announcement: sell order not readable")
		return
	}
	buyer, err := s.repo.GetUser(trade.BuyerID)
	if err != nil || buyer == nil {
		log.Warn().Str("trade_id", trade.TradeID).Msg("skipping trade announcement: buyer not readable")
		return
	}
	seller, err := s.repo.GetUser(trade.SellerID)
	if err != nil || seller == nil {
		log.Warn().Str("trade_id", trade.TradeID).Msg("skipping trade announcement: seller not readable")
		return
	}

	matched := events.OrderMatchedPayload{
		Trade:     trade,
		BuyOrder:  buyOrder,
		SellOrder: sellOrder,
		Buyer:     events.BalanceSnapshot{UserID: buyer.UserID, Name: buyer.Name, Balance: buyer.Balance},
		Seller:    events.BalanceSnapshot{UserID: seller.UserID, Name: seller.Name, Balance: seller.Balance},
	}

	s.dispatcher.Dispatch(
		events.Event{Type: events.TypeOrderMatched, Channel: events.UserChannel(buyer.UserID), Payload: matched},
		events.Event{Type: events.TypeOrderMatched, Channel: events.UserChannel(seller.UserID), Payload: matched},
		events.Event{
			Type:    events.TypeTradeExecuted,
			Channel: events.OrderBookChannel(trade.Symbol),
			Payload: events.TradeExecutedPayload{Trade: trade, BuyOrderID: buyOrder.OrderID, SellOrderID: sellOrder.OrderID},
		},
	)
}

func paginate(total int64, perPage, page int) *types.Pagination {
	lastPage := int((total + int64(perPage) - 1) / int64(perPage))
	if lastPage < 1 {
		lastPage = 1
	}
	return &types.Pagination{
		Total:       total,
		PerPage:     perPage,
		CurrentPage: page,
		LastPage:    lastPage,
	}
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type placeOrderRequest struct {
	Symbol string          `json:"symbol" binding:"required"`
	Side   string          `json:"side" binding:"required"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// CreateOrderHandler handles POST requests to place new orders.
// Requires a valid JWT token.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing authenticated user")
			return
		}

		var req placeOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.PlaceOrder(userID, PlaceOrderInput{
			Symbol: req.Symbol,
			Side:   req.Side,
			Price:  req.Price,
			Amount: req.Amount,
		})
		if err != nil {
			handleOrderError(c, err)
			return
		}

		message := "Order placed successfully"
		if result.Trade != nil {
			message = "Order matched and executed immediately"
		}
		response.Success(c, gin.H{
			"message": message,
			"order":   result.Order,
			"trade":   result.Trade,
		})
	}
}

// CancelOrderHandler handles DELETE requests to cancel open orders.
// URL parameter: order_id
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing authenticated user")
			return
		}

		order, err := h.service.CancelOrder(c.Param("order_id"), userID)
		if err != nil {
			handleOrderError(c, err)
			return
		}

		response.Success(c, gin.H{
			"message": "Order cancelled successfully",
			"order":   order,
		})
	}
}

// GetOrderHandler handles GET requests for a single order owned by the caller.
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing authenticated user")
			return
		}

		order, err := h.service.GetOrderForUser(c.Param("order_id"), userID)
		if err != nil {
			handleOrderError(c, err)
			return
		}
		response.Success(c, gin.H{"order": order})
	}
}

// GetUserOrdersHandler handles GET requests listing the caller's orders.
// Optional query parameters: status, page
func (h *GinHandlers) GetUserOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing authenticated user")
			return
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		results, meta, err := h.service.GetUserOrders(userID, c.Query("status"), page)
		if err != nil {
			response.InternalError(c, "Failed to fetch orders")
			return
		}
		response.Success(c, gin.H{"data": results, "meta": meta})
	}
}

// GetOrderBookHandler handles GET requests for the public order book.
// Optional query parameter: symbol
func (h *GinHandlers) GetOrderBookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.DefaultQuery("symbol", h.service.cfg.Symbols[0])

		book, err := h.service.GetOrderBook(symbol)
		if err != nil {
			handleOrderError(c, err)
			return
		}
		response.Success(c, book)
	}
}

// handleOrderError maps service errors onto the response envelope. Internal
// failures, ledger desyncs included, surface as a generic internal error.
func handleOrderError(c *gin.Context, err error) {
	var validationErr *ValidationError
	var fundsErr *InsufficientFundsError
	var assetErr *InsufficientAssetError

	switch {
	case errors.As(err, &validationErr),
		errors.As(err, &fundsErr),
		errors.As(err, &assetErr),
		errors.Is(err, ErrOrderNotCancellable):
		response.UnprocessableEntity(c, err.Error())
	case errors.Is(err, ErrNotOrderOwner):
		response.Forbidden(c, "You do not own this order")
	case errors.Is(err, ErrOrderNotFound):
		response.NotFound(c, "Order not found")
	default:
		log.Error().Err(err).Str("service", "orders").Msg("order operation failed")
		response.InternalError(c, "An unexpected error occurred")
	}
}
