package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crypto-alerts/internal/alert"
	"crypto-alerts/internal/alerting"
	"crypto-alerts/internal/api"
	"crypto-alerts/internal/config"
	"crypto-alerts/internal/evaluator"
	"crypto-alerts/internal/indicator"
	"crypto-alerts/internal/logging"
	"crypto-alerts/internal/market"
	"crypto-alerts/internal/processor"
	"crypto-alerts/internal/scheduler"
	"crypto-alerts/internal/storage"
	"crypto-alerts/internal/trigger"
	"crypto-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	hook *alerting.ErrorHook
}

// NewApp constructs a new application handle. When alerting.log_errors is set,
// error logs are also forwarded to Telegram.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	a := &App{Config: cfg}
	if cfg.Alerting.LogErrors {
		if tg := a.newTelegram(logger); tg != nil {
			level := logging.ParseLevel(cfg.Alerting.LogErrorsLevel, zerolog.ErrorLevel)
			a.hook = alerting.NewErrorHook(tg, level, "["+cfg.App.Name+"]")
			logger = logger.Hook(a.hook)
		}
	}
	a.Logger = logger.With().Str("component", "app").Logger()
	return a
}

// Close flushes background log forwarding.
func (a *App) Close() {
	if a.hook != nil {
		a.hook.Close()
	}
}

// runtime holds the wired processing pipeline.
type runtime struct {
	repo      storage.Repository
	db        *storage.Store
	archive   *market.Archive
	router    *market.Router
	cache     *market.Cache
	evaluator *evaluator.Evaluator
	live      *evaluator.Evaluator
	processor *processor.Processor
}

func (rt *runtime) Close() {
	rt.db.Close()
}

func (a *App) newTelegram(logger zerolog.Logger) *alerting.TelegramNotifier {
	cfg := a.Config.Alerting.Telegram
	if !cfg.Enabled {
		return nil
	}
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatIDs, cfg.APIBase, cfg.RequestTimeout, logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if tg := a.newTelegram(a.Logger); tg != nil {
		return tg
	}
	a.Logger.Warn().Msg("telegram not configured; notifications go to the log")
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) newRouter() *market.Router {
	mc := a.Config.Market
	ua := mc.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	binance := market.NewBinance(market.ClientOptions{
		BaseURL:           mc.Binance.BaseURL,
		Timeout:           mc.Binance.RequestTimeout,
		RequestsPerSecond: mc.Binance.RequestsPerSecond,
		RetryCount:        mc.Binance.RetryCount,
		UserAgent:         ua,
	}, a.Logger)
	kucoin := market.NewKuCoin(market.ClientOptions{
		BaseURL:           mc.KuCoin.BaseURL,
		Timeout:           mc.KuCoin.RequestTimeout,
		RequestsPerSecond: mc.KuCoin.RequestsPerSecond,
		RetryCount:        mc.KuCoin.RetryCount,
		UserAgent:         ua,
	}, a.Logger)

	opts := market.RouterOptions{SecondarySymbols: mc.KuCoinSymbols}
	if len(mc.Chainlink.Feeds) > 0 {
		opts.OnChain = market.NewChainlink(market.ChainlinkOptions{
			RPCURL:  mc.Chainlink.RPCURL,
			Feeds:   mc.Chainlink.Feeds,
			Timeout: mc.Chainlink.RequestTimeout,
			MaxAge:  mc.Chainlink.MaxAge,
		}, a.Logger)
	}
	return market.NewRouter(binance, kucoin, opts, a.Logger)
}

func (a *App) newDispatcher() *trigger.Dispatcher {
	bc := a.Config.Bybit
	bybit := trigger.NewBybit(trigger.BybitOptions{
		APIKey:     bc.APIKey,
		APISecret:  bc.APISecret,
		BaseURL:    bc.BaseURL,
		Testnet:    bc.Testnet,
		Category:   bc.Category,
		RecvWindow: bc.RecvWindow,
		Timeout:    bc.RequestTimeout,
	}, a.Logger)

	d := trigger.NewDispatcher(a.Logger)
	d.Register(alert.ActionTypeBybit, trigger.NewBybitExecutor(bybit, a.Logger))
	d.Register(alert.ActionTypeTelegram, trigger.ExecutorFunc(trigger.Message))
	return d
}

// prices overrides the live price source, used by simulate.
func (a *App) build(ctx context.Context, prices market.PriceSource, dryRun bool) (*runtime, error) {
	repo, db, err := storage.Open(ctx, a.Config.Database, a.Config.Store, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if db == nil {
		a.Logger.Info().Str("path", a.Config.Store.Path).Msg("database.dsn not configured; using JSON file store")
	}

	rt := &runtime{repo: repo, db: db, router: a.newRouter()}

	var candles market.CandleSource = rt.router
	if db != nil && a.Config.Market.History.Archive {
		rt.archive = market.NewArchive(rt.router, db, a.Logger)
		candles = rt.archive
	}
	if prices == nil {
		prices = rt.router
	}
	feed := market.NewFeed(prices, candles)
	rt.cache = market.NewCache(feed)

	evalOpts := evaluator.Options{FetchTimeout: a.Config.Evaluation.FetchTimeout}
	rt.evaluator = evaluator.New(rt.cache, indicator.NewEngine(rt.cache, a.Logger), evalOpts, a.Logger)
	// API 查询直接读行情, 不经过周期缓存。
	rt.live = evaluator.New(feed, indicator.NewEngine(feed, a.Logger), evalOpts, a.Logger)

	deps := processor.Dependencies{
		Store:     repo,
		Evaluator: rt.evaluator,
		Executor:  a.newDispatcher(),
		Notifier:  a.newNotifier(),
		Cache:     rt.cache,
	}
	if db != nil {
		deps.Firings = db
		deps.Locker = db
	}
	rt.processor = processor.New(deps, processor.Options{
		MaxWorkers:     a.Config.Evaluation.MaxWorkers,
		LockKey:        a.Config.Scheduler.AdvisoryLockKey,
		ActionTimeout:  a.Config.Evaluation.ActionTimeout,
		PersistTimeout: a.Config.Evaluation.PersistTimeout,
		DryRun:         dryRun,
	}, a.Logger)
	return rt, nil
}

func (a *App) newAPI(rt *runtime) *api.Server {
	return api.New(rt.repo, rt.live, api.Options{
		Mode:            a.Config.API.Mode,
		ShutdownTimeout: a.Config.API.ShutdownTimeout,
	}, a.Logger)
}

// Run executes the long-running alert service, plus the API when enabled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx, nil, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	sched := scheduler.New(scheduler.Options{
		Interval:        a.Config.Scheduler.Interval,
		AlignToInterval: a.Config.Scheduler.AlignToInterval,
		RunOnStartup:    a.Config.Scheduler.RunOnStartup,
	}, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx, func(ctx context.Context, at time.Time) error {
			_, err := rt.processor.RunCycle(ctx, at)
			return err
		})
	})
	if a.Config.API.Enabled {
		srv := a.newAPI(rt)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, a.Config.API.Listen)
		})
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Bool("api", a.Config.API.Enabled).Msg("starting alert service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert service stopped")
	return nil
}

// Serve runs only the management API.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx, nil, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	return a.newAPI(rt).ListenAndServe(ctx, a.Config.API.Listen)
}

// Migrate applies the database schema.
func (a *App) Migrate(ctx context.Context) error {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	store := storage.NewStore(pool)
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.Logger.Info().Msg("schema applied")
	return nil
}

// ListOptions filter the list command.
type ListOptions struct {
	Type    string
	Symbol  string
	Enabled string
}

// WarmOptions configure the warm command.
type WarmOptions struct {
	// Candles is the minimum number of candles to archive per pair. Zero derives it from the alert period.
	Candles int
	Prune   bool
}

// ChartOptions configure the chart command.
type ChartOptions struct {
	Symbol    string
	Timeframe alert.Timeframe
	Period    int
	Candles   int
	PNGPath   string
	CSVPath   string
}
