package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrIneligible marks a signal that must not become an order this cycle:
// the stop distance is non-positive or the quantity rounds to zero.
var ErrIneligible = errors.New("risk: ineligible for sizing")

// Sizer converts a fixed dollar risk budget and a volatility measurement
// into an order quantity. Risking RiskAmount over a stop placed
// StopMultiplier ATRs away gives quantity = RiskAmount / (atr * mult).
type Sizer struct {
	RiskAmount     float64
	StopMultiplier float64
}

func NewSizer(riskAmount, stopMultiplier float64) Sizer {
	return Sizer{RiskAmount: riskAmount, StopMultiplier: stopMultiplier}
}

// StopDistance is the adverse price move the budget is sized against.
func (s Sizer) StopDistance(atr float64) float64 {
	d, _ := decimal.NewFromFloat(atr).Mul(decimal.NewFromFloat(s.StopMultiplier)).Float64()
	return d
}

// Quantity sizes an order for the given entry ATR, rounded to the
// symbol's quantity precision. It returns both the wire string (no
// trailing zeros or dangling decimal point) and the rounded numeric
// value. A quantity that rounds to zero is ineligible, never a zero-size
// order.
func (s Sizer) Quantity(atr float64, precision int) (string, float64, error) {
	if precision < 0 {
		precision = 0
	}
	stop := decimal.NewFromFloat(atr).Mul(decimal.NewFromFloat(s.StopMultiplier))
	if stop.Sign() <= 0 {
		return "", 0, fmt.Errorf("%w: stop distance %s", ErrIneligible, stop)
	}
	qty := decimal.NewFromFloat(s.RiskAmount).Div(stop).Round(int32(precision))
	if qty.Sign() <= 0 {
		return "", 0, fmt.Errorf("%w: quantity rounds to zero at precision %d", ErrIneligible, precision)
	}
	f, _ := qty.Float64()
	// decimal.String never emits trailing zeros after Round.
	return qty.String(), f, nil
}
