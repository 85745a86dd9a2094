package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scalper-backend/internal/config"
	httpdelivery "scalper-backend/internal/delivery/http"
	"scalper-backend/internal/delivery/websocket"
	"scalper-backend/internal/domain"
	"scalper-backend/internal/infrastructure/binance"
	"scalper-backend/internal/infrastructure/cache"
	"scalper-backend/internal/infrastructure/db"
	"scalper-backend/internal/infrastructure/fcm"
	"scalper-backend/internal/infrastructure/logger"
	"scalper-backend/internal/infrastructure/metrics"
	"scalper-backend/internal/infrastructure/paper"
	"scalper-backend/internal/repository"
	"scalper-backend/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "scalper:", err)
		os.Exit(1)
	}
}

type repositories struct {
	trades     domain.TradeRepository
	backtests  domain.BacktestRepository
	strategies domain.StrategyStore
	close      func()
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	holder := config.NewHolder(configPath, cfg)

	// 2. Initialize Logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting scalper",
		zap.String("environment", cfg.Environment),
		zap.Bool("paper_trading", cfg.PaperTrading),
		zap.Strings("pairs", cfg.TradingPairs))

	// 3. Initialize Exchange
	rec := metrics.New()
	live := binance.NewClient(cfg.Exchange, log)
	store, closeStore, err := marketStore(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeStore()
	market := cache.NewMarketData(live, store, cfg.Redis.MarketTTL, log)

	var exchange domain.Exchange = exchangeWithCache{Client: live, market: market}
	if cfg.PaperTrading {
		exchange = paper.New(market, live, cfg.Paper, cfg.Account.Size, log)
	}

	// 4. Initialize Repositories
	repos, err := openRepositories(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer repos.close()
	devices := repository.NewTokenRepository()

	// 5. Initialize Usecases
	push, err := fcm.NewClient(ctx, cfg.Alerts, log)
	if err != nil {
		return err
	}
	alerts := usecase.NewAlertService(push, devices, cfg.Alerts.Cooldown, log)
	tracker := usecase.NewPerformanceTracker(cfg.Performance, time.Now, log)

	engine := usecase.NewTradingEngine(
		usecase.EngineSettingsFromConfig(cfg),
		usecase.NewSignalGenerator(cfg.Strategy, log),
		usecase.NewRiskManager(usecase.RiskLimitsFromConfig(cfg.Risk), log),
		usecase.EngineDeps{
			Exchange:    exchange,
			MarketData:  market,
			Trades:      repos.trades,
			Performance: tracker,
			Alerts:      alerts,
			Metrics:     rec,
			Log:         log,
		},
	)

	deps := func(interval time.Duration) usecase.ManagerDeps {
		return usecase.ManagerDeps{
			Exchange:        exchange,
			Market:          market,
			Store:           repos.strategies,
			Alerts:          alerts,
			Metrics:         rec,
			Log:             log,
			ExchangeTimeout: cfg.Trading.ExchangeTimeout,
			Interval:        interval,
			ErrorBackoff:    cfg.Monitors.ErrorBackoff,
		}
	}
	orders := usecase.NewOrderManager(deps(cfg.Monitors.OrderInterval))
	grids := usecase.NewGridManager(deps(cfg.Monitors.GridInterval))
	dca := usecase.NewDCAManager(deps(cfg.Monitors.DCAInterval))

	backtests := usecase.NewBacktestService(
		usecase.BacktestEngineFromConfig(cfg, log),
		exchange, repos.backtests, cfg.Backtest, rec, log)

	holder.Subscribe(func(c *config.Config) {
		engine.Reconfigure(c)
		backtests.SetEngine(usecase.BacktestEngineFromConfig(c, log))
	})

	// 6. Restore persisted strategies
	for name, restore := range map[string]func(context.Context) (int, error){
		"orders": orders.Restore,
		"grids":  grids.Restore,
		"dca":    dca.Restore,
	} {
		n, err := restore(ctx)
		if err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
		log.Info("restored strategies", zap.String("kind", name), zap.Int("count", n))
	}

	// 7. Initialize Delivery
	monitors := httpdelivery.NewMonitorHandler(map[string]httpdelivery.Monitor{
		"orders": orders,
		"grid":   grids,
		"dca":    dca,
	}, log)
	router := httpdelivery.NewRouter(httpdelivery.Handlers{
		Bot:       httpdelivery.NewBotHandler(engine, holder, repos.trades, log),
		Orders:    httpdelivery.NewOrderHandler(orders, log),
		Grids:     httpdelivery.NewGridHandler(grids, log),
		DCA:       httpdelivery.NewDCAHandler(dca, log),
		Backtests: httpdelivery.NewBacktestHandler(backtests, log),
		Devices:   httpdelivery.NewTokenHandler(devices, log),
		Monitors:  monitors,
		Metrics:   rec.Handler(),
		Stream:    websocket.NewHandler(ctx, engine, cfg.Server.WSPushInterval, log),
	}, log)

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 8. Run loops until a signal arrives
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return orders.Run(gctx) })
	g.Go(func() error { return grids.Run(gctx) })
	g.Go(func() error { return dca.Run(gctx) })
	g.Go(func() error {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		engine.Stop()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// exchangeWithCache serves live trading with prices read through the cache.
type exchangeWithCache struct {
	*binance.Client
	market domain.MarketDataReader
}

func (e exchangeWithCache) GetMarketData(ctx context.Context, pairs []string) (map[string]domain.MarketData, error) {
	return e.market.GetMarketData(ctx, pairs)
}

func marketStore(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (cache.Store, func(), error) {
	if cfg.Addr == "" {
		log.Info("market cache: memory")
		return cache.NewMemory(), func() {}, nil
	}
	r, err := cache.NewRedis(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	log.Info("market cache: redis", zap.String("addr", cfg.Addr))
	return r, func() { _ = r.Close() }, nil
}

func openRepositories(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (repositories, error) {
	if cfg.URL == "" {
		log.Warn("no database url, using in-memory storage")
		return repositories{
			trades:     repository.NewInMemoryTradeRepository(),
			backtests:  repository.NewInMemoryBacktestRepository(),
			strategies: repository.NewInMemoryStrategyStore(),
			close:      func() {},
		}, nil
	}

	pool, err := db.NewPool(ctx, cfg.URL, db.PoolConfigFrom(cfg))
	if err != nil {
		return repositories{}, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return repositories{}, err
	}
	log.Info("connected to postgres", zap.Int32("max_conns", pool.Config().MaxConns))
	return repositories{
		trades:     repository.NewPostgresTradeRepository(pool),
		backtests:  repository.NewPostgresBacktestRepository(pool),
		strategies: repository.NewPostgresStrategyStore(pool),
		close:      pool.Close,
	}, nil
}
