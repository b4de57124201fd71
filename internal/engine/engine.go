package engine

import (
	"context"
	"time"

	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tradebot/internal/config"
	"tradebot/internal/exchange"
	"tradebot/internal/journal"
	"tradebot/internal/ledger"
	"tradebot/internal/logger"
	"tradebot/internal/market"
	"tradebot/internal/notifier"
	"tradebot/internal/risk"
	"tradebot/internal/scheduler"
	"tradebot/internal/strategy"
	"tradebot/internal/strategy/exit"
)

// Trader is the signed exchange surface the engine drives.
// *exchange.Client satisfies it; tests substitute a fake.
type Trader interface {
	Balance(ctx context.Context) (float64, error)
	SetMarginTypeIsolated(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarketOrder(ctx context.Context, req exchange.OrderRequest) (string, error)
}

// MarketData is the unsigned read surface. *market.Source satisfies it.
type MarketData interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
	TopSymbols(ctx context.Context, limit int) ([]string, error)
	QuantityPrecision(ctx context.Context, symbol string) int
}

// Journal records opens and closes. *journal.Writer satisfies it.
type Journal interface {
	LogOpen(rec journal.OpenRecord) error
	LogClose(rec journal.CloseRecord) error
}

// Engine drives the trading cycle: every tick it fans out one entry unit
// per (symbol, analyzer) and one exit unit per open position, waits for
// all of them, and sleeps. Failures stay inside their unit; nothing a
// single symbol does can abort a tick.
type Engine struct {
	trader    Trader
	md        MarketData
	sizer     risk.Sizer
	book      ledger.Book
	analyzers []strategy.Analyzer
	evaluator *exit.Evaluator
	journal   Journal
	notify    notifier.TextNotifier
	log       *slog.Logger

	leverage     int
	topSymbols   int
	exitBars     int
	tickInterval time.Duration

	symbols       []string
	exitIntervals map[string]string
}

type Params struct {
	Trader    Trader
	Market    MarketData
	Sizer     risk.Sizer
	Book      ledger.Book
	Analyzers []strategy.Analyzer
	Evaluator *exit.Evaluator
	Journal   Journal
	Notifier  notifier.TextNotifier
	Logger    *slog.Logger
	Trading   config.Trading
	Tick      time.Duration
}

func New(p Params) *Engine {
	if p.Notifier == nil {
		p.Notifier = notifier.Noop{}
	}
	if p.Logger == nil {
		p.Logger = logger.Discard()
	}
	if p.Tick <= 0 {
		p.Tick = 60 * time.Second
	}
	exitIntervals := make(map[string]string, len(p.Analyzers))
	for _, a := range p.Analyzers {
		exitIntervals[a.Name()] = a.ExitInterval()
	}
	exitBars := p.Trading.MinExitBars
	if exitBars <= 0 {
		exitBars = 50
	}
	return &Engine{
		trader:        p.Trader,
		md:            p.Market,
		sizer:         p.Sizer,
		book:          p.Book,
		analyzers:     p.Analyzers,
		evaluator:     p.Evaluator,
		journal:       p.Journal,
		notify:        p.Notifier,
		log:           p.Logger,
		leverage:      p.Trading.Leverage,
		topSymbols:    p.Trading.TopSymbols,
		exitBars:      exitBars,
		tickInterval:  p.Tick,
		exitIntervals: exitIntervals,
	}
}

// Setup selects the trading universe and initializes margin mode and
// leverage per symbol. A symbol whose initialization fails is still
// traded; the exchange falls back to its current (possibly cross) mode,
// matching the open-position path's tolerance.
func (e *Engine) Setup(ctx context.Context) error {
	symbols, err := e.md.TopSymbols(ctx, e.topSymbols)
	if err != nil {
		return err
	}
	e.symbols = symbols
	e.log.Info("engine: trading universe selected", "symbols", len(symbols))

	ok := 0
	for _, symbol := range symbols {
		if err := e.trader.SetMarginTypeIsolated(ctx, symbol); err != nil {
			e.log.Error("engine: margin setup failed", "symbol", symbol, "err", err)
			continue
		}
		if err := e.trader.SetLeverage(ctx, symbol, e.leverage); err != nil {
			e.log.Warn("engine: leverage setup failed, margin ok", "symbol", symbol, "err", err)
			continue
		}
		ok++
	}
	e.log.Info("engine: symbol setup complete", "ok", ok, "total", len(symbols))
	return nil
}

// Run executes Setup once, then ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Setup(ctx); err != nil {
		return err
	}
	sched := scheduler.NewFixedDelay(ctx, e.tickInterval, e.log)
	sched.Start(func() {
		e.RunCycle(ctx)
	})
	return ctx.Err()
}

// RunCycle runs one tick: all entry and exit units concurrently, joined
// before returning. Every unit handles its own errors.
func (e *Engine) RunCycle(ctx context.Context) {
	start := time.Now()
	var g errgroup.Group

	for _, symbol := range e.symbols {
		for _, an := range e.analyzers {
			symbol, an := symbol, an
			g.Go(func() error {
				e.runEntry(ctx, symbol, an)
				return nil
			})
		}
	}
	for _, pos := range e.book.ListOpen("") {
		pos := pos
		g.Go(func() error {
			e.runExit(ctx, pos)
			return nil
		})
	}
	g.Wait()
	e.log.Debug("engine: tick complete", "took", time.Since(start).Truncate(time.Millisecond))
}

func (e *Engine) runEntry(ctx context.Context, symbol string, an strategy.Analyzer) {
	// One active position per (symbol, strategy), regardless of how often
	// the signal re-fires.
	if e.book.HasOpen(symbol, an.Name()) {
		e.log.Debug("engine: position already open, skipping analysis",
			"symbol", symbol, "strategy", an.Name())
		return
	}
	sig, err := an.Analyze(ctx, symbol)
	if err != nil {
		e.log.Warn("engine: analysis failed", "symbol", symbol, "strategy", an.Name(), "err", err)
		return
	}
	if sig == nil {
		return
	}
	if sig.ATRAtEntry() <= 0 {
		e.log.Warn("engine: signal without a valid ATR, skipping",
			"symbol", symbol, "strategy", an.Name())
		return
	}

	balance, err := e.trader.Balance(ctx)
	if err != nil {
		e.log.Error("engine: balance check failed", "symbol", symbol, "err", err)
		return
	}
	if balance <= 0 {
		e.log.Warn("engine: insufficient balance", "balance", balance)
		return
	}

	precision := e.md.QuantityPrecision(ctx, symbol)
	qtyStr, qty, err := e.sizer.Quantity(sig.ATRAtEntry(), precision)
	if err != nil {
		e.log.Warn("engine: signal not eligible for sizing",
			"symbol", symbol, "strategy", an.Name(), "err", err)
		return
	}

	orderID, err := e.trader.PlaceMarketOrder(ctx, exchange.OrderRequest{
		Symbol:   symbol,
		Side:     orderSide(sig.Side()),
		Quantity: qtyStr,
	})
	if err != nil {
		e.log.Error("engine: open order failed", "symbol", symbol, "strategy", an.Name(), "err", err)
		return
	}

	pos := ledger.Position{
		OrderID:    orderID,
		Symbol:     symbol,
		Strategy:   an.Name(),
		Side:       sig.Side(),
		EntryPrice: sig.Price(),
		Quantity:   qty,
		ATRAtEntry: sig.ATRAtEntry(),
	}
	if err := e.book.Open(pos); err != nil {
		e.log.Error("engine: recording position failed", "order_id", orderID, "err", err)
		return
	}
	e.log.Info("engine: position opened",
		"symbol", symbol, "strategy", an.Name(), "side", sig.Side(),
		"order_id", orderID, "quantity", qtyStr, "entry", sig.Price(), "atr", sig.ATRAtEntry())

	if err := e.journal.LogOpen(journal.OpenRecord{
		OrderID:       orderID,
		Symbol:        symbol,
		Strategy:      an.Name(),
		Side:          string(sig.Side()),
		OpenPrice:     sig.Price(),
		Quantity:      qty,
		ATRAtEntry:    sig.ATRAtEntry(),
		SignalDetails: sig.Details(),
	}); err != nil {
		e.log.Error("engine: journaling open failed", "order_id", orderID, "err", err)
	}
}

func (e *Engine) runExit(ctx context.Context, pos ledger.Position) {
	interval, ok := e.exitIntervals[pos.Strategy]
	if !ok || interval == "" {
		interval = "4h"
	}
	candles, err := e.md.Klines(ctx, pos.Symbol, interval, 2*e.exitBars)
	if err != nil {
		e.log.Warn("engine: exit data fetch failed",
			"symbol", pos.Symbol, "order_id", pos.OrderID, "err", err)
		return
	}

	dec, fired := e.evaluator.Evaluate(pos, candles)
	if !fired {
		return
	}

	precision := e.md.QuantityPrecision(ctx, pos.Symbol)
	qtyStr := decimal.NewFromFloat(pos.Quantity).Round(int32(precision)).String()
	if _, err := e.trader.PlaceMarketOrder(ctx, exchange.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       orderSide(pos.Side.Opposite()),
		Quantity:   qtyStr,
		ReduceOnly: true,
	}); err != nil {
		// Position stays open in the ledger; the evaluator will fire
		// again next tick.
		e.log.Error("engine: close order failed",
			"symbol", pos.Symbol, "order_id", pos.OrderID, "err", err)
		return
	}

	rec, err := e.book.Close(pos.OrderID, dec.Price, dec.Reason)
	if err != nil {
		e.log.Error("engine: ledger close failed", "order_id", pos.OrderID, "err", err)
		return
	}
	e.log.Info("engine: position closed",
		"symbol", rec.Symbol, "strategy", rec.Strategy, "side", rec.Side,
		"order_id", rec.OrderID, "pnl", rec.PnL, "pnl_percent", rec.PnLPercent,
		"rule", dec.Rule, "reason", dec.Reason)

	if err := e.journal.LogClose(journal.CloseRecord{
		OrderID:          rec.OrderID,
		Symbol:           rec.Symbol,
		Strategy:         rec.Strategy,
		Side:             string(rec.Side),
		ClosePrice:       rec.ExitPrice,
		CloseTime:        rec.ClosedAt,
		PnLAmount:        rec.PnL,
		PnLPercent:       rec.PnLPercent,
		Reason:           rec.Reason,
		IndicatorsAtExit: dec.Indicators,
	}); err != nil {
		e.log.Error("engine: journaling close failed", "order_id", rec.OrderID, "err", err)
	}

	if notifier.ShouldAlert(rec) {
		if err := e.notify.SendText(notifier.FormatTradeAlert(rec)); err != nil {
			e.log.Error("engine: trade alert failed", "order_id", rec.OrderID, "err", err)
		}
	}
}

func orderSide(side ledger.Side) string {
	if side == ledger.Long {
		return exchange.SideBuy
	}
	return exchange.SideSell
}
