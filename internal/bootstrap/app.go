package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"spot_trader/internal/alert"
	"spot_trader/internal/core"
	"spot_trader/internal/engine"
	"spot_trader/internal/engine/spot"
	"spot_trader/internal/exchange/binancespot"
	"spot_trader/internal/infrastructure/health"
	"spot_trader/internal/infrastructure/metrics"
	"spot_trader/internal/trading/order"
	"spot_trader/pkg/concurrency"
	apperrors "spot_trader/pkg/errors"
	"spot_trader/pkg/logging"
	"spot_trader/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const (
	preflightTimeout = 30 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// App represents the application context and holds core dependencies.
type App struct {
	Cfg    *Config
	Logger core.ILogger
	Health *health.HealthManager

	zap       *logging.ZapLogger
	telemetry *telemetry.Telemetry
	registry  *prometheus.Registry
	store     *spot.SQLStore
	exchange  *binancespot.BinanceSpotExchange
	engine    *spot.SpotEngine
	alertPool *concurrency.WorkerPool
	runners   []Runner

	closeOnce sync.Once
}

// Runner is an interface for components that can be run and stopped gracefully.
type Runner interface {
	Run(ctx context.Context) error
}

// NewApp creates a new App instance by bootstrapping all dependencies.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return NewAppFromConfig(cfg)
}

// NewAppFromConfig wires every component. Nothing touches the network until Run.
func NewAppFromConfig(cfg *Config) (*App, error) {
	a := &App{Cfg: cfg}

	// 1. Telemetry, so the zap bridge picks up the log provider
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tel, err := telemetry.Setup(cfg.App.Name, telemetry.Options{
		EnableTracing: cfg.Telemetry.EnableTracing,
		Registerer:    a.registry,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.telemetry = tel

	// 2. Logger
	zl, err := InitLogger(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.zap = zl
	a.Logger = zl.WithField("app", cfg.App.Name)

	// 3. Trade log
	store, err := OpenStore(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	// 4. Exchange and execution
	a.exchange = binancespot.NewBinanceSpotExchange(&cfg.Exchange, a.Logger, binancespot.Options{})
	executor := order.NewOrderExecutor(a.exchange, order.Config{
		Symbol:    cfg.Trading.Symbol,
		RateLimit: cfg.Exchange.OrderRateLimit,
	}, a.Logger)

	// 5. Alerts
	notifier := a.initAlerts()

	// 6. Engine
	eng, err := spot.NewSpotEngine(EngineConfig(cfg), a.exchange, executor, a.store, notifier, a.Logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}
	a.engine = eng

	// 7. Health
	a.Health = health.NewHealthManager(a.Logger)
	maxTickAge := 3*cfg.TickInterval() + cfg.ErrorDelay()
	a.Health.Register("engine", func(context.Context) error { return eng.CheckHealth(maxTickAge) })
	a.Health.Register("trade_store", a.store.Ping)
	a.Health.Register("exchange", a.exchange.CheckHealth)

	a.runners = append(a.runners, engine.NewRunner(eng, cfg.TickInterval(), cfg.ErrorDelay(), a.Logger))
	if cfg.Telemetry.EnableMetrics {
		a.runners = append(a.runners, metrics.NewServer(cfg.Telemetry.MetricsPort, a.registry, a.Health, a.Logger))
	}

	return a, nil
}

// initAlerts returns nil when no channel is configured.
func (a *App) initAlerts() core.INotifier {
	cfg := a.Cfg.Alerts
	a.alertPool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:         "alerts",
		Workers:      cfg.PoolSize,
		QueueSize:    cfg.PoolBuffer,
		DropWhenFull: true,
	}, a.Logger)

	am := alert.NewAlertManager(a.alertPool, a.Logger)
	if cfg.Telegram.BotToken.IsSet() && cfg.Telegram.ChatID != "" {
		am.AddChannel(alert.NewTelegramChannel(cfg.Telegram.BotToken.Reveal(), cfg.Telegram.ChatID))
	}
	if cfg.Slack.WebhookURL.IsSet() {
		am.AddChannel(alert.NewSlackChannel(cfg.Slack.WebhookURL.Reveal()))
	}

	if am.ChannelCount() == 0 {
		return nil
	}
	return am
}

// Run orchestrates the application lifecycle, including signal handling.
func (a *App) Run() error {
	// Create a context that is canceled when a termination signal is received.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext runs until ctx is cancelled or a runner fails, then releases resources.
func (a *App) RunContext(ctx context.Context) error {
	defer a.Close()

	if err := a.preflight(ctx); err != nil {
		a.Logger.Error("Startup checks failed", "error", err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	a.Logger.Info("starting application", "symbol", a.Cfg.Trading.Symbol, "runners", len(a.runners))

	for _, runner := range a.runners {
		r := runner
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("application shut down gracefully")
	return nil
}

// preflight syncs the clock and proves the symbol and credentials are usable.
// Only a rejected symbol or rejected credentials abort startup.
func (a *App) preflight(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, preflightTimeout)
	defer cancel()

	if err := a.exchange.SyncTime(ctx); err != nil {
		a.Logger.Warn("Server time sync failed", "error", err)
	}

	symbol := a.Cfg.Trading.Symbol
	c, err := a.exchange.GetSymbolConstraints(ctx, symbol)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidSymbol) {
			return fmt.Errorf("symbol %s: %w", symbol, err)
		}
		a.Logger.Warn("Symbol constraints unavailable at startup", "error", err)
		return nil
	}
	a.Logger.Info("Symbol constraints",
		"base_asset", c.BaseAsset,
		"quote_asset", c.QuoteAsset,
		"min_qty", c.MinQuantity,
		"step_size", c.QuantityStep,
		"min_notional", c.MinNotional)

	free, err := a.exchange.GetFreeBalance(ctx, c.QuoteAsset)
	if err != nil {
		if errors.Is(err, apperrors.ErrAuthenticationFailed) {
			return fmt.Errorf("exchange credentials rejected: %w", err)
		}
		a.Logger.Warn("Balance unavailable at startup", "error", err)
		return nil
	}
	a.Logger.Info("Quote balance", "asset", c.QuoteAsset, "free", free)
	return nil
}

// Close releases resources in reverse order of creation. Safe to call twice.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.alertPool != nil {
			a.alertPool.Stop()
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil && a.Logger != nil {
				a.Logger.Warn("Failed to close trade store", "error", err)
			}
		}
		if a.telemetry != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.telemetry.Shutdown(ctx); err != nil && a.Logger != nil {
				a.Logger.Warn("Telemetry shutdown failed", "error", err)
			}
		}
		if a.zap != nil {
			_ = a.zap.Sync()
		}
	})
}
