package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coinpeak/exchange-api/internal/database"
	"github.com/coinpeak/exchange-api/internal/ledger"
	"github.com/coinpeak/exchange-api/internal/types"
)

// Engine matches a newly opened order against the best compatible resting
// order and settles the resulting trade. Matching is full-or-nothing: only a
// counter-order of exactly the same amount is eligible, and a successful match
// fills both orders completely.
type Engine struct {
	ledger         *ledger.Service
	commissionRate decimal.Decimal
}

// New creates a matching engine. commissionRate is the fraction of trade
// notional charged to the seller at settlement.
func New(ledgerService *ledger.Service, commissionRate decimal.Decimal) *Engine {
	return &Engine{
		ledger:         ledgerService,
		commissionRate: commissionRate,
	}
}

// CommissionRate returns the configured seller commission rate.
func (e *Engine) CommissionRate() decimal.Decimal {
	return e.commissionRate
}

// AttemptMatch tries to execute exactly one trade against the given order,
// inside the caller's transaction. The order row is re-locked and re-checked
// first: a concurrent cancellation may have closed it between placement and
// this call, in which case the attempt returns no trade and no side effects.
// Returns nil when no compatible counter-order exists; the order stays open.
func (e *Engine) AttemptMatch(tx *gorm.DB, newOrder *types.Order) (*types.Trade, error) {
	var order types.Order
	err := database.LockForUpdate(tx).
		Where("order_id = ? AND status = ?", newOrder.OrderID, types.StatusOpen).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order for matching: %w", err)
	}

	counter, err := e.findCompatibleOrder(tx, &order)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, nil
	}

	return e.executeTrade(tx, &order, counter)
}

// findCompatibleOrder locates the single best counter-order: same symbol,
// exact same amount, open, opposite side, not the taker's own. Buys take the
// lowest-priced eligible sell, sells the highest-priced eligible buy; ties go
// to the earliest created. The winning row is locked before it is returned so
// a concurrent match cannot consume it twice.
func (e *Engine) findCompatibleOrder(tx *gorm.DB, order *types.Order) (*types.Order, error) {
	query := database.LockForUpdate(tx).
		Where("symbol = ?", order.Symbol).
		Where("amount = ?", order.Amount).
		Where("status = ?", types.StatusOpen).
		Where("user_id <> ?", order.UserID)

	if order.Side == types.SideBuy {
		query = query.
			Where("side = ?", types.SideSell).
			Where("price <= ?", order.Price).
			Order("price asc")
	} else {
		query = query.
			Where("side = ?", types.SideBuy).
			Where("price >= ?", order.Price).
			Order("price desc")
	}

	var counter types.Order
	err := query.Order("created_at asc").Order("id asc").First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search counter-orders: %w", err)
	}
	return &counter, nil
}

// executeTrade settles a match between the just-placed taker and the resting
// maker. The trade executes at the maker's price; when the taker's limit was
// less favorable the difference is refunded to the buyer after settlement.
// The commission is charged to the seller only. Any failure aborts the whole
// transaction, leaving no partial balance or status change behind.
func (e *Engine) executeTrade(tx *gorm.DB, taker, maker *types.Order) (*types.Trade, error) {
	buyOrder, sellOrder := taker, maker
	if taker.Side == types.SideSell {
		buyOrder, sellOrder = maker, taker
	}

	price := maker.Price
	amount := taker.Amount
	usdVolume := types.MulFixed(price, amount)
	fee := types.MulFixed(usdVolume, e.commissionRate)

	if err := e.ledger.SettleTrade(tx, buyOrder.UserID, sellOrder.UserID, taker.Symbol, usdVolume, fee, amount); err != nil {
		return nil, fmt.Errorf("settlement failed: %w", err)
	}

	// The buyer locked their own limit price times amount at placement; with
	// maker-price execution that can exceed the traded volume.
	excess := buyOrder.LockedFunds.Sub(usdVolume)
	if err := e.ledger.RefundExcessFiat(tx, buyOrder.UserID, excess); err != nil {
		return nil, fmt.Errorf("price-improvement refund failed: %w", err)
	}

	for _, o := range []*types.Order{buyOrder, sellOrder} {
		o.Status = types.StatusFilled
		o.LockedFunds = decimal.Zero
		if err := tx.Save(o).Error; err != nil {
			return nil, fmt.Errorf("failed to fill order %s: %w", o.OrderID, err)
		}
	}

	trade := &types.Trade{
		TradeID:     "TRD_" + uuid.New().String(),
		Symbol:      taker.Symbol,
		Price:       price,
		Amount:      amount,
		Total:       usdVolume,
		Fee:         fee,
		BuyerID:     buyOrder.UserID,
		SellerID:    sellOrder.UserID,
		BuyOrderID:  buyOrder.OrderID,
		SellOrderID: sellOrder.OrderID,
	}
	if err := tx.Create(trade).Error; err != nil {
		return nil, fmt.Errorf("failed to record trade: %w", err)
	}

	log.Info().
		Str("trade_id", trade.TradeID).
		Str("symbol", trade.Symbol).
		Str("price", trade.Price.String()).
		Str("amount", trade.Amount.String()).
		Str("fee", trade.Fee.String()).
		Str("buy_order_id", trade.BuyOrderID).
		Str("sell_order_id", trade.SellOrderID).
		Msg("trade executed")

	return trade, nil
}
