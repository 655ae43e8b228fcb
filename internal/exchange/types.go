package exchange

import "time"

// Direction is the side of an order.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// OrderType selects how an order is priced.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// Ticker is the current market snapshot for a pair.
type Ticker struct {
	Pair      string  `json:"pair"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	High24h   float64 `json:"high_24h"`
	Low24h    float64 `json:"low_24h"`
	Close     float64 `json:"close"`
	Open      float64 `json:"open"`
	Volume24h float64 `json:"volume_24h"`
}

// Candle is a single OHLC bar.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// PairInfo describes a tradable pair.
type PairInfo struct {
	Pair   string `json:"pair"`
	Status string `json:"status"` // "online" when tradable
	Quote  string `json:"quote"`  // quote currency, e.g. "ZUSD"
}

// OrderResult is the venue's response to a placed order. A non-error return
// with StatusExecuted counts as executed for downstream P&L regardless of
// whether the venue ran in validate-only mode.
type OrderResult struct {
	OrderID   string    `json:"order_id"`
	Pair      string    `json:"pair"`
	Type      OrderType `json:"type"`
	Direction Direction `json:"direction"`
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price"`
	FeePaid   float64   `json:"fee_paid"`
	Status    string    `json:"status"`
}

// Order statuses.
const (
	StatusExecuted = "executed"
	StatusRejected = "rejected"
)
