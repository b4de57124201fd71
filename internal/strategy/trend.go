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
	trendInterval     = "4h"
	trendFetchBars    = 300
	trendMinBars      = 200
	trendEMAFast      = 50
	trendEMASlow      = 200
	trendADXPeriod    = 14
	trendADXThreshold = 25.0
)

// Trend trades EMA 50/200 crossovers, but only while ADX says the market
// is actually trending. Crosses are edge-triggered on the previous bar.
type Trend struct {
	source       *market.Source
	exitInterval string
	log          *slog.Logger
}

func NewTrend(source *market.Source, exitInterval string, log *slog.Logger) *Trend {
	if log == nil {
		log = logger.Discard()
	}
	return &Trend{source: source, exitInterval: exitInterval, log: log}
}

func (a *Trend) Name() string         { return "trend" }
func (a *Trend) ExitInterval() string { return a.exitInterval }

func (a *Trend) Analyze(ctx context.Context, symbol string) (Signal, error) {
	candles, err := a.source.Klines(ctx, symbol, trendInterval, trendFetchBars)
	if err != nil {
		return nil, err
	}
	if len(candles) < trendMinBars {
		a.log.Warn("trend: not enough candles", "symbol", symbol, "have", len(candles))
		return nil, nil
	}

	highs, lows, closes, _ := market.HLCV(candles)
	emaFast := talib.Ema(closes, trendEMAFast)
	emaSlow := talib.Ema(closes, trendEMASlow)
	adx := talib.Adx(highs, lows, closes, trendADXPeriod)
	atr := talib.Atr(highs, lows, closes, atrPeriod)
	if allMissing(emaFast) || allMissing(emaSlow) || allMissing(adx) || allMissing(atr) {
		a.log.Warn("trend: indicators never became valid", "symbol", symbol)
		return nil, nil
	}

	price := closes[len(closes)-1]
	fastNow, fastPrev, _ := lastTwo(emaFast)
	slowNow, slowPrev, _ := lastTwo(emaSlow)
	adxNow := adx[len(adx)-1]
	atrNow := atr[len(atr)-1]

	if adxNow <= trendADXThreshold {
		return nil, nil
	}

	var side ledger.Side
	switch {
	case fastNow > slowNow && fastPrev <= slowPrev:
		side = ledger.Long
	case fastNow < slowNow && fastPrev >= slowPrev:
		side = ledger.Short
	default:
		return nil, nil
	}

	a.log.Info("trend: signal",
		"symbol", symbol, "side", side, "price", price,
		"ema_fast", fastNow, "ema_slow", slowNow, "adx", adxNow, "atr", atrNow)
	return TrendSignal{Kind: side, Entry: price, ATR: atrNow, EMAFast: fastNow, EMASlow: slowNow, ADX: adxNow}, nil
}
