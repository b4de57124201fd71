package ledger

import "time"

// Side is the direction of a futures position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Opposite returns the closing direction.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Position is one open or historical futures position. The economic
// fields are write-once: they are set at open and never mutated. ATRAtEntry
// is the volatility measurement captured at entry and is the sole basis
// for this position's stop and target distances for its whole lifetime.
type Position struct {
	OrderID    string
	Symbol     string
	Strategy   string
	Side       Side
	EntryPrice float64
	Quantity   float64
	ATRAtEntry float64
	Active     bool
	EntryTime  time.Time
}

// TradeRecord is the immutable snapshot appended when a position closes.
type TradeRecord struct {
	OrderID    string
	Symbol     string
	Strategy   string
	Side       Side
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	PnL        float64
	PnLPercent float64
	Reason     string
	ClosedAt   time.Time
}

// Stats aggregates the closed trade history.
type Stats struct {
	Total   int
	Wins    int
	WinRate float64
}
