package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appOrder "github.com/Zhima-Mochi/minishop-orders/internal/application/order"
	"github.com/Zhima-Mochi/minishop-orders/internal/config"
	"github.com/Zhima-Mochi/minishop-orders/internal/domain/customer"
	domainOrder "github.com/Zhima-Mochi/minishop-orders/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-orders/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-orders/internal/domain/product"
	"github.com/Zhima-Mochi/minishop-orders/internal/infrastructure/cache"
	"github.com/Zhima-Mochi/minishop-orders/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-orders/internal/infrastructure/memory"
	infraobs "github.com/Zhima-Mochi/minishop-orders/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-orders/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-orders/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-orders/internal/infrastructure/observability/telemetry"
	"github.com/Zhima-Mochi/minishop-orders/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-orders/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-orders/internal/infrastructure/postgres"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability"
	httppresentation "github.com/Zhima-Mochi/minishop-orders/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-orders/internal/presentation/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zaplogger.New(zaplogger.Options{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		LogFile: cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger.Zap())

	if err := run(cfg, logger); err != nil {
		logger.Error("service_failed", observability.F("error", err.Error()))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// closer releases a resource during shutdown.
type closer func(ctx context.Context) error

func run(cfg *config.Config, logger *zaplogger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []closer
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Release in reverse order of acquisition.
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](shutdownCtx); err != nil {
				logger.Warn("shutdown_step_failed", observability.F("error", err.Error()))
			}
		}
	}()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.ServiceName, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	closers = append(closers, closer(shutdownTracer))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	counters, histograms := prometrics.Instruments(prometrics.New(reg, "", ""))
	tel := infraobs.New(oteltrace.New(cfg.ServiceName), logger, counters, histograms)

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, store.close)
	applyTxScope(store, cfg.OrderTxScope, logger)

	customers := store.customers
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: ping %s: %w", cfg.RedisAddr, err)
		}
		closers = append(closers, func(context.Context) error { return client.Close() })
		customers = cache.NewCustomerDirectory(customers, cache.NewRedisCache(client, cfg.ServiceName), cfg.CustomerCacheTTL, logger,
			cache.WithRequestCounter(tel.Metrics().Counter(observability.MCacheRequests)),
		)
		logger.Info("customer_cache_enabled", observability.F("addr", cfg.RedisAddr), observability.F("ttl", cfg.CustomerCacheTTL.String()))
	}

	// The in-process bus always runs so the compensation worker sees
	// reconciliation requests; brokers get a copy of every event.
	bus := outbox.NewBus(logger)
	bus.Start(ctx)
	closers = append(closers, func(ctx context.Context) error { bus.Stop(ctx); return nil })

	publisher, closeBroker, err := openBroker(cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closeBroker)
	events := outbox.Fanout{bus, publisher}

	appOrder.NewCompensationWorker(store.orders, workerpresentation.Subscriber(bus, logger), tel).Start()

	createOrder := appOrder.NewCreateOrderUseCase(customers, store.products, store.orders, store.tx, events, tel)
	getOrder := appOrder.NewGetOrderUseCase(store.orders, tel)

	router := httppresentation.NewHandler(createOrder, getOrder, tel).Router()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http_server_start",
			observability.F("addr", server.Addr),
			observability.F("storage", cfg.Storage),
			observability.F("event_broker", cfg.EventBroker),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_server_shutdown_error", observability.F("error", err.Error()))
	} else {
		logger.Info("http_server_stopped")
	}
	return nil
}

type storage struct {
	customers customer.Directory
	products  product.Catalog
	orders    domainOrder.Store
	tx        appOrder.Transactor
	close     closer
}

func openStorage(ctx context.Context, cfg *config.Config, logger observability.Logger) (*storage, error) {
	ids := id.NewUUID()

	if cfg.Storage == config.StoragePostgres {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("storage_ready", observability.F("backend", config.StoragePostgres))
		return &storage{
			customers: postgres.NewCustomerRepository(db),
			products:  postgres.NewProductRepository(db),
			orders:    postgres.NewOrderRepository(db, ids),
			tx:        postgres.NewTransactor(db),
			close:     closeDB(db),
		}, nil
	}

	customers := memory.NewCustomerRepository()
	products := memory.NewProductRepository()
	orders := memory.NewOrderRepository(ids)
	if err := seed(ctx, customers, products); err != nil {
		return nil, err
	}
	logger.Info("storage_ready", observability.F("backend", config.StorageMemory))
	return &storage{
		customers: customers,
		products:  products,
		orders:    orders,
		tx:        memory.NewTransactor(products, orders),
		close:     func(context.Context) error { return nil },
	}, nil
}

// applyTxScope drops the transactor in compensate mode, so a failed stock
// write-back cancels the order and the compensation worker retries it.
func applyTxScope(s *storage, scope string, logger observability.Logger) {
	if scope == config.TxScopeCompensate {
		s.tx = nil
	}
	logger.Info("order_tx_scope", observability.F("scope", scope))
}

func closeDB(db *sql.DB) closer {
	return func(context.Context) error { return db.Close() }
}

// seed loads demo data into the in-memory backend.
func seed(ctx context.Context, customers *memory.CustomerRepository, products *memory.ProductRepository) error {
	now := time.Now().UTC()
	for _, c := range []*customer.Customer{
		{ID: "C1", Name: "Ada Lovelace", Email: "ada@example.com", CreatedAt: now},
		{ID: "C2", Name: "Grace Hopper", Email: "grace@example.com", CreatedAt: now},
	} {
		if err := customers.Save(ctx, c); err != nil {
			return err
		}
	}
	for _, s := range []struct {
		id, name, price string
		qty             int
	}{
		{"P1", "Mechanical keyboard", "89.90", 5},
		{"P2", "USB-C cable", "9.99", 100},
		{"P3", "27in monitor", "249.00", 2},
	} {
		p, err := product.New(s.id, s.name, decimal.RequireFromString(s.price), s.qty)
		if err != nil {
			return err
		}
		if err := products.Save(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func openBroker(cfg *config.Config, logger observability.Logger) (domoutbox.Publisher, closer, error) {
	switch cfg.EventBroker {
	case config.BrokerKafka:
		p := outbox.NewKafkaPublisher(outbox.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		logger.Info("event_broker_ready", observability.F("broker", config.BrokerKafka), observability.F("topic", cfg.KafkaTopic))
		return p, func(context.Context) error { return p.Close() }, nil
	case config.BrokerRabbitMQ:
		conn, ch, err := outbox.DialRabbit(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
		if err != nil {
			return nil, nil, err
		}
		p := outbox.NewRabbitPublisher(ch, cfg.RabbitMQExchange)
		logger.Info("event_broker_ready", observability.F("broker", config.BrokerRabbitMQ), observability.F("exchange", cfg.RabbitMQExchange))
		return p, func(context.Context) error {
			return errors.Join(p.Close(), conn.Close())
		}, nil
	default:
		return nil, func(context.Context) error { return nil }, nil
	}
}
