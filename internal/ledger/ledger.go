package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("ledger: position not found")
	ErrInactive  = errors.New("ledger: position not active")
	ErrDuplicate = errors.New("ledger: order id already recorded")
)

// Book is the authoritative store of positions for one trading account.
// It is an interface so a durable backing store could replace the
// in-memory ledger without touching the orchestrator; the process is
// intentionally memory-resident today.
type Book interface {
	Open(p Position) error
	Close(orderID string, exitPrice float64, reason string) (TradeRecord, error)
	ListOpen(symbol string) []Position
	HasOpen(symbol, strategy string) bool
	Stats() Stats
}

// Ledger is the in-memory Book. All mutations run under one mutex; open
// and close race from concurrent per-symbol tasks within a tick.
type Ledger struct {
	commission float64
	leverage   int
	now        func() time.Time

	mu        sync.Mutex
	positions map[string]*Position
	history   []TradeRecord
}

func New(commission float64, leverage int) *Ledger {
	if leverage <= 0 {
		leverage = 1
	}
	return &Ledger{
		commission: commission,
		leverage:   leverage,
		now:        time.Now,
		positions:  make(map[string]*Position),
	}
}

// Open inserts a new active position keyed by order id. The one-active-
// position-per-(symbol,strategy) invariant is enforced by the caller via
// HasOpen before placing the order; the ledger only rejects id reuse.
func (l *Ledger) Open(p Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[p.OrderID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, p.OrderID)
	}
	p.Active = true
	if p.EntryTime.IsZero() {
		p.EntryTime = l.now()
	}
	l.positions[p.OrderID] = &p
	return nil
}

// Close flips the position inactive, realizes P&L net of round-trip
// commission, and appends the immutable trade record. A second close of
// the same id fails and leaves the history untouched.
func (l *Ledger) Close(orderID string, exitPrice float64, reason string) (TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[orderID]
	if !ok {
		return TradeRecord{}, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	if !p.Active {
		return TradeRecord{}, fmt.Errorf("%w: %s", ErrInactive, orderID)
	}

	entry := decimal.NewFromFloat(p.EntryPrice)
	exit := decimal.NewFromFloat(exitPrice)
	qty := decimal.NewFromFloat(p.Quantity)

	gross := exit.Sub(entry).Mul(qty)
	if p.Side == Short {
		gross = entry.Sub(exit).Mul(qty)
	}
	// Commission is charged on both legs of the round trip.
	cost := exit.Mul(qty).Mul(decimal.NewFromFloat(l.commission)).Mul(decimal.NewFromInt(2))
	net, _ := gross.Sub(cost).Float64()

	pnlPercent := 0.0
	if notional := entry.Mul(qty); notional.Sign() != 0 {
		pct, _ := gross.Sub(cost).
			Div(notional).
			Mul(decimal.NewFromInt(100)).
			Mul(decimal.NewFromInt(int64(l.leverage))).
			Float64()
		pnlPercent = pct
	}

	p.Active = false
	rec := TradeRecord{
		OrderID:    p.OrderID,
		Symbol:     p.Symbol,
		Strategy:   p.Strategy,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   p.Quantity,
		PnL:        net,
		PnLPercent: pnlPercent,
		Reason:     reason,
		ClosedAt:   l.now(),
	}
	l.history = append(l.history, rec)
	return rec, nil
}

// ListOpen snapshots the active positions, optionally filtered by symbol.
func (l *Ledger) ListOpen(symbol string) []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Position
	for _, p := range l.positions {
		if !p.Active {
			continue
		}
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// HasOpen reports whether an active position exists for the
// (symbol, strategy) pair. This backs the duplicate-position guard.
func (l *Ledger) HasOpen(symbol, strategy string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.positions {
		if p.Active && p.Symbol == symbol && p.Strategy == strategy {
			return true
		}
	}
	return false
}

// Stats computes the win rate over closed trades; zero when none exist.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := Stats{Total: len(l.history)}
	for _, rec := range l.history {
		if rec.PnL > 0 {
			st.Wins++
		}
	}
	if st.Total > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Total) * 100
	}
	return st
}

// HistoryLen reports the number of closed trades. Exposed for tests and
// shutdown reporting.
func (l *Ledger) HistoryLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}
