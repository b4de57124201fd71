package app

import (
	"context"

	"log/slog"

	"tradebot/internal/backoff"
	"tradebot/internal/config"
	"tradebot/internal/engine"
	"tradebot/internal/exchange"
	"tradebot/internal/journal"
	"tradebot/internal/ledger"
	"tradebot/internal/market"
	"tradebot/internal/notifier"
	"tradebot/internal/risk"
	"tradebot/internal/strategy"
	"tradebot/internal/strategy/exit"
)

// App owns the wired component graph. Everything is constructed here and
// passed down explicitly; no package holds process-wide mutable state.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	engine  *engine.Engine
	journal *journal.Writer
}

func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	client := exchange.NewClient(exchange.Config{
		BaseURL:   cfg.Exchange.BaseURL,
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Timeout:   cfg.Exchange.Timeout,
		Retry: backoff.Policy{
			MaxAttempts: cfg.Exchange.RetryAttempts,
			BaseDelay:   cfg.Exchange.RetryBaseDelay,
		},
		Logger: log,
	})
	source := market.NewSource(cfg.Exchange.BaseURL, cfg.Exchange.Timeout, log)

	book := ledger.New(cfg.Trading.Commission, cfg.Trading.Leverage)
	sizer := risk.NewSizer(cfg.Trading.RiskAmount, cfg.Trading.StopMultiplier)
	evaluator := exit.NewEvaluator(
		cfg.Trading.SLMultiplier,
		cfg.Trading.TPMultiplier,
		cfg.Trading.ADXThreshold,
		cfg.Trading.MinExitBars,
		log,
	)

	analyzers := []strategy.Analyzer{
		strategy.NewImpulse(source, cfg.Trading.ExitInterval, log),
		strategy.NewExtreme(source, cfg.Trading.ExitInterval, log),
		strategy.NewTrend(source, cfg.Trading.ExitInterval, log),
	}

	jw, err := journal.NewWriter(cfg.App.JournalPath)
	if err != nil {
		return nil, err
	}

	var notify notifier.TextNotifier = notifier.Noop{}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		notify = notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	} else {
		log.Warn("app: telegram not configured, trade alerts disabled")
	}

	eng := engine.New(engine.Params{
		Trader:    client,
		Market:    source,
		Sizer:     sizer,
		Book:      book,
		Analyzers: analyzers,
		Evaluator: evaluator,
		Journal:   jw,
		Notifier:  notify,
		Logger:    log,
		Trading:   cfg.Trading,
		Tick:      cfg.App.TickInterval,
	})

	return &App{cfg: cfg, log: log, engine: eng, journal: jw}, nil
}

// Run blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("app: starting",
		"testnet", a.cfg.Exchange.Testnet,
		"leverage", a.cfg.Trading.Leverage,
		"risk_amount", a.cfg.Trading.RiskAmount,
		"tick", a.cfg.App.TickInterval)
	defer a.Close()
	return a.engine.Run(ctx)
}

func (a *App) Close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("app: closing journal failed", "err", err)
		}
	}
}
