package strategy

import (
	"context"

	"log/slog"

	talib "github.com/markcheno/go-talib"

	"tradebot/internal/ledger"
	"tradebot/internal/logger"
	"tradebot/internal/market"
)

const (
	extremeInterval  = "1h"
	extremeFetchBars = 200
	extremeMinBars   = 50
	bbPeriod         = 20
	bbDeviation      = 2.0
	stochRSIPeriod   = 14
	stochRSIFastK    = 3
	stochRSIFastD    = 3
)

// Extreme is a mean-reversion play: a close squeezed outside a Bollinger
// band while StochRSI confirms exhaustion in the same direction.
type Extreme struct {
	source       *market.Source
	exitInterval string
	log          *slog.Logger
}

func NewExtreme(source *market.Source, exitInterval string, log *slog.Logger) *Extreme {
	if log == nil {
		log = logger.Discard()
	}
	return &Extreme{source: source, exitInterval: exitInterval, log: log}
}

func (a *Extreme) Name() string         { return "extreme" }
func (a *Extreme) ExitInterval() string { return a.exitInterval }

func (a *Extreme) Analyze(ctx context.Context, symbol string) (Signal, error) {
	candles, err := a.source.Klines(ctx, symbol, extremeInterval, extremeFetchBars)
	if err != nil {
		return nil, err
	}
	if len(candles) < extremeMinBars {
		a.log.Warn("extreme: not enough candles", "symbol", symbol, "have", len(candles))
		return nil, nil
	}

	highs, lows, closes, _ := market.HLCV(candles)
	upper, _, lower := talib.BBands(closes, bbPeriod, bbDeviation, bbDeviation, talib.SMA)
	fastK, _ := talib.StochRsi(closes, stochRSIPeriod, stochRSIFastK, stochRSIFastD, talib.SMA)
	atr := talib.Atr(highs, lows, closes, atrPeriod)
	if allMissing(upper) || allMissing(lower) || allMissing(fastK) || allMissing(atr) {
		a.log.Warn("extreme: indicators never became valid", "symbol", symbol)
		return nil, nil
	}

	price := closes[len(closes)-1]
	bbUpper := upper[len(upper)-1]
	bbLower := lower[len(lower)-1]
	stochK := fastK[len(fastK)-1]
	atrNow := atr[len(atr)-1]

	var side ledger.Side
	switch {
	case price < bbLower && stochK < 20:
		side = ledger.Long
	case price > bbUpper && stochK > 80:
		side = ledger.Short
	default:
		return nil, nil
	}

	a.log.Info("extreme: signal",
		"symbol", symbol, "side", side, "price", price,
		"bb_upper", bbUpper, "bb_lower", bbLower, "stoch_k", stochK, "atr", atrNow)
	return ExtremeSignal{Kind: side, Entry: price, ATR: atrNow, BBUpper: bbUpper, BBLower: bbLower, StochK: stochK}, nil
}
