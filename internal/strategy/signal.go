package strategy

import (
	"context"
	"fmt"

	"tradebot/internal/ledger"
)

// Signal is a transient, per-cycle entry decision from one analyzer.
// Each strategy carries its own indicator fields as a tagged variant
// rather than a loose map keyed by strings.
type Signal interface {
	Strategy() string
	Side() ledger.Side
	Price() float64
	ATRAtEntry() float64
	// Details snapshots the strategy-specific indicator values for the
	// trade journal's OPEN record.
	Details() map[string]string
}

// Analyzer produces at most one Signal per (symbol, cycle). A nil signal
// with a nil error means "nothing to do": no setup, not enough candles,
// or indicators that never became valid. Errors are reserved for data
// fetch failures.
type Analyzer interface {
	Name() string
	// ExitInterval is the candle interval exit rules are evaluated on for
	// positions this analyzer opens.
	ExitInterval() string
	Analyze(ctx context.Context, symbol string) (Signal, error)
}

// ImpulseSignal: VWAP crossover confirmed by short-period RSI momentum.
type ImpulseSignal struct {
	Kind  ledger.Side
	Entry float64
	ATR   float64
	VWAP  float64
	RSI   float64
}

func (s ImpulseSignal) Strategy() string    { return "impulse" }
func (s ImpulseSignal) Side() ledger.Side   { return s.Kind }
func (s ImpulseSignal) Price() float64      { return s.Entry }
func (s ImpulseSignal) ATRAtEntry() float64 { return s.ATR }
func (s ImpulseSignal) Details() map[string]string {
	return map[string]string{
		"vwap": fmt.Sprintf("%.4f", s.VWAP),
		"rsi":  fmt.Sprintf("%.4f", s.RSI),
	}
}

// ExtremeSignal: close outside a Bollinger band with StochRSI exhaustion.
type ExtremeSignal struct {
	Kind    ledger.Side
	Entry   float64
	ATR     float64
	BBUpper float64
	BBLower float64
	StochK  float64
}

func (s ExtremeSignal) Strategy() string    { return "extreme" }
func (s ExtremeSignal) Side() ledger.Side   { return s.Kind }
func (s ExtremeSignal) Price() float64      { return s.Entry }
func (s ExtremeSignal) ATRAtEntry() float64 { return s.ATR }
func (s ExtremeSignal) Details() map[string]string {
	return map[string]string{
		"bb_upper": fmt.Sprintf("%.4f", s.BBUpper),
		"bb_lower": fmt.Sprintf("%.4f", s.BBLower),
		"stoch_k":  fmt.Sprintf("%.4f", s.StochK),
	}
}

// TrendSignal: EMA 50/200 crossover in a strong ADX regime.
type TrendSignal struct {
	Kind    ledger.Side
	Entry   float64
	ATR     float64
	EMAFast float64
	EMASlow float64
	ADX     float64
}

func (s TrendSignal) Strategy() string    { return "trend" }
func (s TrendSignal) Side() ledger.Side   { return s.Kind }
func (s TrendSignal) Price() float64      { return s.Entry }
func (s TrendSignal) ATRAtEntry() float64 { return s.ATR }
func (s TrendSignal) Details() map[string]string {
	return map[string]string{
		"ema_fast": fmt.Sprintf("%.4f", s.EMAFast),
		"ema_slow": fmt.Sprintf("%.4f", s.EMASlow),
		"adx":      fmt.Sprintf("%.4f", s.ADX),
	}
}
