package exit

import (
	"fmt"

	"log/slog"

	talib "github.com/markcheno/go-talib"

	"tradebot/internal/ledger"
	"tradebot/internal/logger"
	"tradebot/internal/market"
)

// Rule identifies which exit criterion fired. Journal consumers and tests
// key off the rule; Reason is free text for humans.
type Rule string

const (
	RuleHardStopLoss Rule = "hard_stop_loss"
	RuleTakeProfit   Rule = "take_profit"
	RuleTrailingSAR  Rule = "trailing_sar"
	RuleMACDReversal Rule = "macd_reversal"
	RuleADXRange     Rule = "adx_range"
)

// Decision instructs the orchestrator to close a position now.
type Decision struct {
	Rule       Rule
	Reason     string
	Price      float64
	Indicators map[string]string
}

const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
	adxPeriod  = 14
	sarAccel   = 0.02
	sarMax     = 0.2
)

// Evaluator decides whether one open position must be closed, and the
// single dominant reason. Rules run in fixed priority order and the first
// match wins; evaluation is stateless per invocation. Anything that
// prevents a clean read of the market (short history, indicators that
// never became valid) is a no-op for the cycle, never a close.
type Evaluator struct {
	SLMultiplier float64
	TPMultiplier float64
	ADXThreshold float64
	MinBars      int
	log          *slog.Logger
}

func NewEvaluator(slMult, tpMult, adxThreshold float64, minBars int, log *slog.Logger) *Evaluator {
	if slMult <= 0 {
		slMult = 1.5
	}
	if tpMult <= 0 {
		tpMult = 2.5
	}
	if adxThreshold <= 0 {
		adxThreshold = 20
	}
	if minBars <= 0 {
		minBars = 50
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Evaluator{
		SLMultiplier: slMult,
		TPMultiplier: tpMult,
		ADXThreshold: adxThreshold,
		MinBars:      minBars,
		log:          log,
	}
}

// Evaluate runs the rule chain for pos against the exit-interval candle
// series. ok is false when no rule fired or the data was insufficient.
func (e *Evaluator) Evaluate(pos ledger.Position, candles []market.Candle) (Decision, bool) {
	if len(candles) < e.MinBars {
		e.log.Warn("exit: not enough candles to evaluate",
			"symbol", pos.Symbol, "order_id", pos.OrderID, "have", len(candles), "need", e.MinBars)
		return Decision{}, false
	}

	highs, lows, closes, _ := market.HLCV(candles)
	macd, signal, _ := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	adx := talib.Adx(highs, lows, closes, adxPeriod)
	sar := talib.Sar(highs, lows, sarAccel, sarMax)
	if allMissing(macd) || allMissing(signal) || allMissing(adx) || allMissing(sar) {
		e.log.Warn("exit: indicators never became valid", "symbol", pos.Symbol, "order_id", pos.OrderID)
		return Decision{}, false
	}

	last := len(closes) - 1
	price := closes[last]
	macdNow, macdPrev := macd[last], macd[last-1]
	sigNow, sigPrev := signal[last], signal[last-1]
	adxNow := adx[last]
	sarNow := sar[last]
	isLong := pos.Side == ledger.Long

	snapshot := map[string]string{
		"macd":        fmt.Sprintf("%.4f", macdNow),
		"macd_signal": fmt.Sprintf("%.4f", sigNow),
		"adx":         fmt.Sprintf("%.4f", adxNow),
		"psar":        fmt.Sprintf("%.4f", sarNow),
	}
	decide := func(rule Rule, reason string) (Decision, bool) {
		return Decision{Rule: rule, Reason: reason, Price: price, Indicators: snapshot}, true
	}

	slDistance := pos.ATRAtEntry * e.SLMultiplier
	tpDistance := pos.ATRAtEntry * e.TPMultiplier
	var slPrice, tpPrice float64
	if isLong {
		slPrice = pos.EntryPrice - slDistance
		tpPrice = pos.EntryPrice + tpDistance
	} else {
		slPrice = pos.EntryPrice + slDistance
		tpPrice = pos.EntryPrice - tpDistance
	}

	// 1. Hard stop-loss on the entry ATR.
	if (isLong && decimalLTE(price, slPrice)) || (!isLong && decimalGTE(price, slPrice)) {
		return decide(RuleHardStopLoss, fmt.Sprintf("Hard Stop-Loss ($%.4f) on entry ATR", slPrice))
	}

	// 2. Take-profit at the fixed reward:risk target.
	if (isLong && decimalGTE(price, tpPrice)) || (!isLong && decimalLTE(price, tpPrice)) {
		return decide(RuleTakeProfit, fmt.Sprintf("Take-Profit ($%.4f) (R:R 1:%.1f)", tpPrice, e.TPMultiplier/e.SLMultiplier))
	}

	// 3. Parabolic SAR trailing stop.
	if (isLong && decimalLT(price, sarNow)) || (!isLong && decimalGT(price, sarNow)) {
		return decide(RuleTrailingSAR, fmt.Sprintf("Parabolic SAR trailing stop (%.4f)", sarNow))
	}

	// 4. Trend reversal: MACD crossing its signal line against the
	// position, where the previous bar had not crossed (edge-triggered).
	if (isLong && macdNow < sigNow && macdPrev >= sigPrev) ||
		(!isLong && macdNow > sigNow && macdPrev <= sigPrev) {
		return decide(RuleMACDReversal, "Trend reversal (MACD crossover)")
	}

	// 5. Sideways market: directional strength gone, de-risk.
	if adxNow < e.ADXThreshold {
		return decide(RuleADXRange, fmt.Sprintf("Sideways market (ADX %.1f)", adxNow))
	}

	return Decision{}, false
}
