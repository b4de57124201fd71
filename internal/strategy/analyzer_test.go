package strategy

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/ledger"
	"tradebot/internal/market"
)

// klineSource serves the given candles for every klines request.
func klineSource(t *testing.T, candles []market.Candle) (*market.Source, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fapi/v1/klines", r.URL.Path)
		rows := make([]string, len(candles))
		for i, c := range candles {
			rows[i] = fmt.Sprintf(`[%d,"%f","%f","%f","%f","%f"]`,
				c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume)
		}
		fmt.Fprint(w, "["+strings.Join(rows, ",")+"]")
	}))
	return market.NewSource(srv.URL, 5*time.Second, nil), srv.Close
}

// choppy oscillates around base with unit volume.
func choppy(n int, base float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		c := base + 0.3*math.Sin(float64(i))
		out[i] = market.Candle{
			OpenTime: int64(i),
			Open:     c - 0.05,
			High:     c + 0.4,
			Low:      c - 0.4,
			Close:    c,
			Volume:   1,
		}
	}
	return out
}

func reclose(c *market.Candle, price float64) {
	c.Close = price
	if price < c.Low {
		c.Low = price - 0.1
	}
	if price > c.High {
		c.High = price + 0.1
	}
}

func TestImpulseLongOnVWAPBreakout(t *testing.T) {
	candles := choppy(60, 100)
	// Previous bar below the rolling VWAP, last bar punching through with
	// enough momentum to spike the fast RSI.
	reclose(&candles[58], 99.4)
	reclose(&candles[59], 103)

	src, done := klineSource(t, candles)
	defer done()

	sig, err := NewImpulse(src, "4h", nil).Analyze(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, ledger.Long, sig.Side())
	assert.InDelta(t, 103, sig.Price(), 1e-6)
	assert.Greater(t, sig.ATRAtEntry(), 0.0)
	assert.Equal(t, "impulse", sig.Strategy())
	assert.Contains(t, sig.Details(), "vwap")
	assert.Contains(t, sig.Details(), "rsi")
}

func TestImpulseNoSignalInChop(t *testing.T) {
	src, done := klineSource(t, choppy(60, 100))
	defer done()

	sig, err := NewImpulse(src, "4h", nil).Analyze(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestImpulseInsufficientCandles(t *testing.T) {
	src, done := klineSource(t, choppy(20, 100))
	defer done()

	sig, err := NewImpulse(src, "4h", nil).Analyze(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestExtremeLongOnLowerBandExhaustion(t *testing.T) {
	candles := choppy(80, 100)
	// Three straight down legs: each makes a fresh RSI low, pinning the
	// StochRSI fast line at zero while price falls out of the lower band.
	reclose(&candles[77], 97)
	reclose(&candles[78], 93)
	reclose(&candles[79], 88)

	src, done := klineSource(t, candles)
	defer done()

	sig, err := NewExtreme(src, "4h", nil).Analyze(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, ledger.Long, sig.Side())
	assert.InDelta(t, 88, sig.Price(), 1e-6)
	assert.Equal(t, "extreme", sig.Strategy())
}

func TestExtremeShortOnUpperBandExhaustion(t *testing.T) {
	candles := choppy(80, 100)
	reclose(&candles[77], 103)
	reclose(&candles[78], 107)
	reclose(&candles[79], 112)

	src, done := klineSource(t, candles)
	defer done()

	sig, err := NewExtreme(src, "4h", nil).Analyze(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, ledger.Short, sig.Side())
}

func TestExtremeNoSignalInsideBands(t *testing.T) {
	src, done := klineSource(t, choppy(80, 100))
	defer done()

	sig, err := NewExtreme(src, "4h", nil).Analyze(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestTrendNoSignalWithoutCross(t *testing.T) {
	// A steady rise keeps the fast EMA above the slow one throughout: ADX
	// is strong but there is no fresh cross to act on.
	candles := make([]market.Candle, 300)
	for i := range candles {
		c := 100 + 0.5*float64(i)
		candles[i] = market.Candle{
			OpenTime: int64(i),
			Open:     c - 0.5,
			High:     c + 0.5,
			Low:      c - 0.5,
			Close:    c,
			Volume:   1,
		}
	}
	src, done := klineSource(t, candles)
	defer done()

	sig, err := NewTrend(src, "4h", nil).Analyze(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestAnalyzePropagatesFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	src := market.NewSource(srv.URL, 5*time.Second, nil)

	_, err := NewImpulse(src, "4h", nil).Analyze(context.Background(), "BTCUSDT")
	assert.Error(t, err)

	_, err = NewExtreme(src, "4h", nil).Analyze(context.Background(), "BTCUSDT")
	assert.Error(t, err)

	_, err = NewTrend(src, "4h", nil).Analyze(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}
