package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order sides
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order statuses. StatusPartial is reserved for a future partial-fill mode;
// the matching engine only ever moves orders between open, filled and cancelled.
const (
	StatusOpen      = "open"
	StatusPartial   = "partial"
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
)

// User holds the fiat side of the ledger. Balance is the spendable amount;
// fiat reserved against open buy orders lives on the order as LockedFunds.
type User struct {
	gorm.Model   `json:"-"`
	UserID       string          `gorm:"uniqueIndex" json:"user_id"`
	Name         string          `json:"name"`
	Email        string          `gorm:"uniqueIndex" json:"email"`
	PasswordHash string          `json:"-"`
	Balance      decimal.Decimal `gorm:"type:decimal(20,8);default:0" json:"balance"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Asset is one user's holding of one symbol. LockedAmount is the portion
// reserved by open sell orders; 0 <= LockedAmount <= Amount always.
type Asset struct {
	gorm.Model   `json:"-"`
	UserID       string          `gorm:"uniqueIndex:idx_assets_user_symbol" json:"user_id"`
	Symbol       string          `gorm:"uniqueIndex:idx_assets_user_symbol" json:"symbol"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,8);default:0" json:"amount"`
	LockedAmount decimal.Decimal `gorm:"type:decimal(20,8);default:0" json:"locked_amount"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Available returns the portion of the holding not reserved by open orders.
func (a *Asset) Available() decimal.Decimal {
	return a.Amount.Sub(a.LockedAmount)
}

// Order is a limit order. LockedFunds is the reserved fiat (price*amount) for
// buys or the reserved asset amount for sells, and is non-zero only while the
// order is open or partial.
type Order struct {
	gorm.Model  `json:"-"`
	OrderID     string          `gorm:"uniqueIndex" json:"order_id"`
	UserID      string          `gorm:"index:idx_orders_user_status" json:"user_id"`
	Symbol      string          `gorm:"index:idx_orders_book" json:"symbol"`
	Side        string          `gorm:"index:idx_orders_book" json:"side"`
	Price       decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,8)" json:"amount"`
	Status      string          `gorm:"index:idx_orders_book;index:idx_orders_user_status" json:"status"`
	LockedFunds decimal.Decimal `gorm:"type:decimal(20,8);default:0" json:"locked_funds"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsOpen reports whether the order can still be matched or cancelled.
func (o *Order) IsOpen() bool {
	return o.Status == StatusOpen || o.Status == StatusPartial
}

// Trade records a single settled match. Immutable once created; Total and Fee
// are fixed at execution time with 8-digit truncation.
type Trade struct {
	gorm.Model  `json:"-"`
	TradeID     string          `gorm:"uniqueIndex" json:"trade_id"`
	Symbol      string          `gorm:"index:idx_trades_symbol_time" json:"symbol"`
	Price       decimal.Decimal `gorm:"type:decimal(20,8)" json:"price"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,8)" json:"amount"`
	Total       decimal.Decimal `gorm:"type:decimal(20,8)" json:"total"`
	Fee         decimal.Decimal `gorm:"type:decimal(20,8);default:0" json:"fee"`
	BuyerID     string          `gorm:"index" json:"buyer_id"`
	SellerID    string          `gorm:"index" json:"seller_id"`
	BuyOrderID  string          `gorm:"index" json:"buy_order_id"`
	SellOrderID string          `gorm:"index" json:"sell_order_id"`
	CreatedAt   time.Time       `gorm:"index:idx_trades_symbol_time" json:"created_at"`
}
