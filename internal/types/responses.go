package types

// OrderBook is the public top-of-book snapshot for one symbol. Buy orders are
// sorted best (highest) price first, sell orders best (lowest) price first,
// ties broken by creation time.
type OrderBook struct {
	Symbol     string  `json:"symbol"`
	BuyOrders  []Order `json:"buy_orders"`
	SellOrders []Order `json:"sell_orders"`
}

// Pagination carries list metadata for paginated endpoints.
type Pagination struct {
	Total       int64 `json:"total"`
	PerPage     int   `json:"per_page"`
	CurrentPage int   `json:"current_page"`
	LastPage    int   `json:"last_page"`
}

// PlacementResult is what a successful order placement returns. Trade is nil
// when the order rested on the book without matching.
type PlacementResult struct {
	Order *Order `json:"order"`
	Trade *Trade `json:"trade,omitempty"`
}
