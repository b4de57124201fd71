package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/config"
	"tradebot/internal/exchange"
	"tradebot/internal/journal"
	"tradebot/internal/ledger"
	"tradebot/internal/market"
	"tradebot/internal/risk"
	"tradebot/internal/strategy"
	"tradebot/internal/strategy/exit"
)

type fakeTrader struct {
	mu            sync.Mutex
	balance       float64
	balanceErr    error
	orderErr      error
	orders        []exchange.OrderRequest
	marginCalls   []string
	leverageCalls []string
	failMargin    map[string]bool
	nextOrderID   int
}

func (f *fakeTrader) Balance(context.Context) (float64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeTrader) SetMarginTypeIsolated(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marginCalls = append(f.marginCalls, symbol)
	if f.failMargin[symbol] {
		return errors.New("margin rejected")
	}
	return nil
}

func (f *fakeTrader) SetLeverage(_ context.Context, symbol string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leverageCalls = append(f.leverageCalls, symbol)
	return nil
}

func (f *fakeTrader) PlaceMarketOrder(_ context.Context, req exchange.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return "", f.orderErr
	}
	f.orders = append(f.orders, req)
	f.nextOrderID++
	return fmt.Sprint(f.nextOrderID), nil
}

func (f *fakeTrader) placedOrders() []exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.OrderRequest(nil), f.orders...)
}

type fakeMarket struct {
	symbols   []string
	candles   []market.Candle
	klinesErr error
	precision int
}

func (f *fakeMarket) Klines(context.Context, string, string, int) ([]market.Candle, error) {
	if f.klinesErr != nil {
		return nil, f.klinesErr
	}
	return f.candles, nil
}

func (f *fakeMarket) TopSymbols(context.Context, int) ([]string, error) {
	return f.symbols, nil
}

func (f *fakeMarket) QuantityPrecision(context.Context, string) int {
	return f.precision
}

type fakeAnalyzer struct {
	name     string
	interval string
	signal   strategy.Signal
	err      error
}

func (f *fakeAnalyzer) Name() string         { return f.name }
func (f *fakeAnalyzer) ExitInterval() string { return f.interval }
func (f *fakeAnalyzer) Analyze(context.Context, string) (strategy.Signal, error) {
	return f.signal, f.err
}

type recordingJournal struct {
	mu     sync.Mutex
	opens  []journal.OpenRecord
	closes []journal.CloseRecord
}

func (j *recordingJournal) LogOpen(rec journal.OpenRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.opens = append(j.opens, rec)
	return nil
}

func (j *recordingJournal) LogClose(rec journal.CloseRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closes = append(j.closes, rec)
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) SendText(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return nil
}

// stopCandles oscillates around 100 and closes the last bar at price,
// deep enough into the series for every exit indicator to be valid.
func stopCandles(price float64) []market.Candle {
	out := make([]market.Candle, 100)
	for i := range out {
		c := 100 + math.Sin(float64(i))
		out[i] = market.Candle{Open: c - 0.1, High: c + 0.5, Low: c - 0.5, Close: c}
	}
	last := &out[len(out)-1]
	last.Close = price
	if price < last.Low {
		last.Low = price - 0.1
	}
	if price > last.High {
		last.High = price + 0.1
	}
	return out
}

// holdCandles is a steady uptrend ending just under 104: ADX stays
// strong, SAR trails below price and MACD never crosses down, so no
// exit rule fires for a long opened near 100 with a 2-point ATR.
func holdCandles() []market.Candle {
	out := make([]market.Candle, 120)
	for i := range out {
		c := 80 + 0.2*float64(i)
		out[i] = market.Candle{Open: c - 0.2, High: c + 0.5, Low: c - 0.5, Close: c}
	}
	return out
}

type testRig struct {
	engine   *Engine
	trader   *fakeTrader
	book     *ledger.Ledger
	journal  *recordingJournal
	notifier *recordingNotifier
}

func newTestRig(t *testing.T, md *fakeMarket, analyzers ...strategy.Analyzer) *testRig {
	t.Helper()
	trader := &fakeTrader{balance: 1000}
	book := ledger.New(0, 10)
	jrn := &recordingJournal{}
	ntf := &recordingNotifier{}
	eng := New(Params{
		Trader:    trader,
		Market:    md,
		Sizer:     risk.NewSizer(100, 2.5),
		Book:      book,
		Analyzers: analyzers,
		Evaluator: exit.NewEvaluator(1.5, 2.5, 20, 50, nil),
		Journal:   jrn,
		Notifier:  ntf,
		Trading: config.Trading{
			Leverage:    10,
			TopSymbols:  5,
			MinExitBars: 50,
		},
	})
	require.NoError(t, eng.Setup(context.Background()))
	return &testRig{engine: eng, trader: trader, book: book, journal: jrn, notifier: ntf}
}

func trendSignal(side ledger.Side, entry, atr float64) strategy.Signal {
	return strategy.TrendSignal{Kind: side, Entry: entry, ATR: atr, EMAFast: 1, EMASlow: 1, ADX: 30}
}

func TestSetupInitializesEverySymbol(t *testing.T) {
	md := &fakeMarket{symbols: []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, precision: 3}
	rig := newTestRig(t, md)

	assert.ElementsMatch(t, md.symbols, rig.trader.marginCalls)
	assert.ElementsMatch(t, md.symbols, rig.trader.leverageCalls)
}

func TestSetupToleratesMarginFailures(t *testing.T) {
	md := &fakeMarket{symbols: []string{"BTCUSDT", "ETHUSDT"}, precision: 3}
	trader := &fakeTrader{balance: 1000, failMargin: map[string]bool{"BTCUSDT": true}}
	eng := New(Params{
		Trader:    trader,
		Market:    md,
		Sizer:     risk.NewSizer(100, 2.5),
		Book:      ledger.New(0, 1),
		Evaluator: exit.NewEvaluator(1.5, 2.5, 20, 50, nil),
		Journal:   &recordingJournal{},
		Trading:   config.Trading{Leverage: 10, TopSymbols: 5, MinExitBars: 50},
	})
	// A symbol that rejects its margin setup must not sink Setup.
	require.NoError(t, eng.Setup(context.Background()))
	assert.Len(t, trader.marginCalls, 2)
	// Leverage is skipped for the failed symbol only.
	assert.Equal(t, []string{"ETHUSDT"}, trader.leverageCalls)
}

func TestRunCycleOpensPositionFromSignal(t *testing.T) {
	md := &fakeMarket{symbols: []string{"BTCUSDT"}, precision: 3}
	an := &fakeAnalyzer{name: "trend", interval: "4h", signal: trendSignal(ledger.Long, 100, 2)}
	rig := newTestRig(t, md, an)

	rig.engine.RunCycle(context.Background())

	orders := rig.trader.placedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, "BTCUSDT", orders[0].Symbol)
	assert.Equal(t, exchange.SideBuy, orders[0].Side)
	// risk 100 over a 2.5 x 2.0 stop distance.
	assert.Equal(t, "20", orders[0].Quantity)
	assert.False(t, orders[0].ReduceOnly)

	open := rig.book.ListOpen("BTCUSDT")
	require.Len(t, open, 1)
	assert.Equal(t, ledger.Long, open[0].Side)
	assert.InDelta(t, 2.0, open[0].ATRAtEntry, 1e-9)

	require.Len(t, rig.journal.opens, 1)
	assert.Equal(t, "trend", rig.journal.opens[0].Strategy)
	assert.Contains(t, rig.journal.opens[0].SignalDetails, "adx")
}

func TestRunCycleDoesNotStackPositions(t *testing.T) {
	md := &fakeMarket{symbols: []string{"BTCUSDT"}, precision: 3}
	an := &fakeAnalyzer{name: "trend", interval: "4h", signal: trendSignal(ledger.Long, 100, 2)}
	// Exit data that keeps the position open.
	md.candles = holdCandles()
	rig := newTestRig(t, md, an)

	// The signal re-fires every tick; only the first one may trade.
	rig.engine.RunCycle(context.Background())
	rig.engine.RunCycle(context.Background())
	rig.engine.RunCycle(context.Background())

	assert.Len(t, rig.trader.placedOrders(), 1)
	assert.Len(t, rig.book.ListOpen(""), 1)
	assert.Len(t, rig.journal.opens, 1)
}

func TestRunCycleIsolatesAnalyzerFailures(t *testing.T) {
	md := &fakeMarket{symbols: []string{"BTCUSDT"}, precision: 3}
	broken := &fakeAnalyzer{name: "impulse", interval: "15m", err: errors.New("kline fetch failed")}
	healthy := &fakeAnalyzer{name: "trend", interval: "4h", signal: trendSignal(ledger.Short, 100, 2)}
	rig := newTestRig(t, md, broken, healthy)

	rig.engine.RunCycle(context.Background())

	orders := rig.trader.placedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, exchange.SideSell, orders[0].Side)
	assert.True(t, rig.book.HasOpen("BTCUSDT", "trend"))
	assert.False(t, rig.book.HasOpen("BTCUSDT", "impulse"))
}

func TestRunCycleSkipsEntryWithoutBalance(t *testing.T) {
	md := &fakeMarket{symbols: []string{"BTCUSDT"}, precision: 3}
	an := &fakeAnalyzer{name: "trend", interval: "4h", signal: trendSignal(ledger.Long, 100, 2)}
	rig := newTestRig(t, md, an)
	rig.trader.balance = 0

	rig.engine.RunCycle(context.Background())

	assert.Empty(t, rig.trader.placedOrders())
	assert.Empty(t, rig.book.ListOpen(""))
}

func TestRunCycleSkipsEntryOnZeroATR(t *testing.T) {
	md := &fakeMarket{symbols: []string{"BTCUSDT"}, precision: 3}
	an := &fakeAnalyzer{name: "trend", interval: "4h", signal: trendSignal(ledger.Long, 100, 0)}
	rig := newTestRig(t, md, an)

	rig.engine.RunCycle(context.Background())

	assert.Empty(t, rig.trader.placedOrders())
}

func TestRunCycleClosesStoppedPosition(t *testing.T) {
	md := &fakeMarket{symbols: []string{"BTCUSDT"}, precision: 3, candles: stopCandles(96.5)}
	rig := newTestRig(t, md)
	require.NoError(t, rig.book.Open(ledger.Position{
		OrderID: "42", Symbol: "BTCUSDT", Strategy: "trend",
		Side: ledger.Long, EntryPrice: 100, Quantity: 0.5, ATRAtEntry: 2,
	}))

	rig.engine.RunCycle(context.Background())

	orders := rig.trader.placedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, exchange.SideSell, orders[0].Side)
	assert.Equal(t, "0.5", orders[0].Quantity)
	assert.True(t, orders[0].ReduceOnly)

	assert.Empty(t, rig.book.ListOpen(""))
	require.Len(t, rig.journal.closes, 1)
	assert.Equal(t, "42", rig.journal.closes[0].OrderID)
	assert.Contains(t, rig.journal.closes[0].Reason, "Hard Stop-Loss")
	assert.Contains(t, rig.journal.closes[0].IndicatorsAtExit, "macd")

	// -3.5% at 10x leverage is a -35% swing: large enough to alert.
	require.Len(t, rig.notifier.sent, 1)
	assert.Contains(t, rig.notifier.sent[0], "BTCUSDT")
}

func TestRunCycleKeepsPositionOnCloseOrderFailure(t *testing.T) {
	md := &fakeMarket{symbols: []string{"BTCUSDT"}, precision: 3, candles: stopCandles(96.5)}
	rig := newTestRig(t, md)
	require.NoError(t, rig.book.Open(ledger.Position{
		OrderID: "42", Symbol: "BTCUSDT", Strategy: "trend",
		Side: ledger.Long, EntryPrice: 100, Quantity: 0.5, ATRAtEntry: 2,
	}))
	rig.trader.orderErr = errors.New("exchange down")

	rig.engine.RunCycle(context.Background())

	// The close failed on the wire, so the book must still show the
	// position for the next tick to retry.
	assert.Len(t, rig.book.ListOpen(""), 1)
	assert.Empty(t, rig.journal.closes)
	assert.Empty(t, rig.notifier.sent)
}

func TestRunCycleLeavesHealthyPositionOpen(t *testing.T) {
	md := &fakeMarket{symbols: []string{"BTCUSDT"}, precision: 3, candles: holdCandles()}
	rig := newTestRig(t, md)
	require.NoError(t, rig.book.Open(ledger.Position{
		OrderID: "42", Symbol: "BTCUSDT", Strategy: "trend",
		Side: ledger.Long, EntryPrice: 100, Quantity: 0.5, ATRAtEntry: 50,
	}))

	rig.engine.RunCycle(context.Background())

	assert.Empty(t, rig.trader.placedOrders())
	assert.Len(t, rig.book.ListOpen(""), 1)
}

func TestRunCycleExitDataFailureIsNonFatal(t *testing.T) {
	md := &fakeMarket{symbols: []string{"BTCUSDT"}, precision: 3, klinesErr: errors.New("timeout")}
	rig := newTestRig(t, md)
	require.NoError(t, rig.book.Open(ledger.Position{
		OrderID: "42", Symbol: "BTCUSDT", Strategy: "trend",
		Side: ledger.Long, EntryPrice: 100, Quantity: 0.5, ATRAtEntry: 2,
	}))

	rig.engine.RunCycle(context.Background())

	assert.Len(t, rig.book.ListOpen(""), 1)
	assert.Empty(t, rig.trader.placedOrders())
}
