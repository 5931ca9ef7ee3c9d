package events

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/coinpeak/exchange-api/internal/types"
)

// Event names, also used as the "event" field on the wire.
const (
	TypeOrderCreated   = "order.created"
	TypeOrderCancelled = "order.cancelled"
	TypeOrderMatched   = "order.matched"
	TypeTradeExecuted  = "trade.executed"
)

// OrderBookChannel is the public channel carrying book changes for a symbol.
func OrderBookChannel(symbol string) string {
	return "orderbook." + symbol
}

// UserChannel is the private channel for one user's fills and balance updates.
func UserChannel(userID string) string {
	return "user." + userID
}

// Event is one announcement queued during a transaction and delivered after
// it commits.
type Event struct {
	Type    string      `json:"event"`
	Channel string      `json:"channel"`
	Payload interface{} `json:"payload"`
}

// OrderPayload announces a public order-book addition or removal.
type OrderPayload struct {
	Order *types.Order `json:"order"`
}

// TradeExecutedPayload announces a public order-book removal caused by a
// trade: both resting entries identified by the order ids are gone.
type TradeExecutedPayload struct {
	Trade       *types.Trade `json:"trade"`
	BuyOrderID  string       `json:"buy_order_id"`
	SellOrderID string       `json:"sell_order_id"`
}

// BalanceSnapshot is a user's fiat balance as of the commit that produced the
// event.
type BalanceSnapshot struct {
	UserID  string          `json:"user_id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// OrderMatchedPayload is delivered on both parties' private channels after a
// trade settles.
type OrderMatchedPayload struct {
	Trade     *types.Trade    `json:"trade"`
	BuyOrder  *types.Order    `json:"buy_order"`
	SellOrder *types.Order    `json:"sell_order"`
	Buyer     BalanceSnapshot `json:"buyer"`
	Seller    BalanceSnapshot `json:"seller"`
}

// Listener receives every dispatched event. Listeners run synchronously on
// the dispatching goroutine and must not block for long.
type Listener func(Event)

// Dispatcher fans events out to registered listeners. Services stage events
// while a transaction is in flight and call Dispatch only once it has
// committed, so listeners never observe state that later rolled back.
// Delivery is best-effort: a panicking listener is logged and skipped, and
// never affects the committed state change.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register adds a listener for all subsequent dispatches.
func (d *Dispatcher) Register(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Dispatch delivers the events, in order, to every registered listener.
func (d *Dispatcher) Dispatch(events ...Event) {
	d.mu.RLock()
	listeners := make([]Listener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, event := range events {
		for _, l := range listeners {
			d.deliver(l, event)
		}
	}
}

func (d *Dispatcher) deliver(l Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event", event.Type).
				Str("channel", event.Channel).
				Msg("event listener panicked")
		}
	}()
	l(event)
}
