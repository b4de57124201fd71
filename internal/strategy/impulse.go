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
	impulseInterval   = "15m"
	impulseFetchBars  = 200
	impulseMinBars    = 50
	impulseVWAPWindow = 14
	impulseRSIPeriod  = 5
	atrPeriod         = 14
)

// Impulse trades VWAP crossovers confirmed by a fast RSI: a close pushing
// through the rolling VWAP with momentum behind it.
type Impulse struct {
	source       *market.Source
	exitInterval string
	log          *slog.Logger
}

func NewImpulse(source *market.Source, exitInterval string, log *slog.Logger) *Impulse {
	if log == nil {
		log = logger.Discard()
	}
	return &Impulse{source: source, exitInterval: exitInterval, log: log}
}

func (a *Impulse) Name() string         { return "impulse" }
func (a *Impulse) ExitInterval() string { return a.exitInterval }

func (a *Impulse) Analyze(ctx context.Context, symbol string) (Signal, error) {
	candles, err := a.source.Klines(ctx, symbol, impulseInterval, impulseFetchBars)
	if err != nil {
		return nil, err
	}
	if len(candles) < impulseMinBars {
		a.log.Warn("impulse: not enough candles", "symbol", symbol, "have", len(candles))
		return nil, nil
	}

	highs, lows, closes, volumes := market.HLCV(candles)
	vwap := rollingVWAP(highs, lows, closes, volumes, impulseVWAPWindow)
	rsi := talib.Rsi(closes, impulseRSIPeriod)
	atr := talib.Atr(highs, lows, closes, atrPeriod)
	if allMissing(vwap) || allMissing(rsi) || allMissing(atr) {
		a.log.Warn("impulse: indicators never became valid", "symbol", symbol)
		return nil, nil
	}

	price, prevClose, _ := lastTwo(closes)
	vwapNow, vwapPrev, _ := lastTwo(vwap)
	rsiNow := rsi[len(rsi)-1]
	atrNow := atr[len(atr)-1]

	var side ledger.Side
	switch {
	case price > vwapNow && prevClose <= vwapPrev && rsiNow > 60:
		side = ledger.Long
	case price < vwapNow && prevClose >= vwapPrev && rsiNow < 40:
		side = ledger.Short
	default:
		return nil, nil
	}

	a.log.Info("impulse: signal",
		"symbol", symbol, "side", side, "price", price,
		"vwap", vwapNow, "rsi", rsiNow, "atr", atrNow)
	return ImpulseSignal{Kind: side, Entry: price, ATR: atrNow, VWAP: vwapNow, RSI: rsiNow}, nil
}
