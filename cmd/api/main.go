package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-realtime-pos/internal/checkout"
	"github.com/ariefcatur/go-realtime-pos/internal/config"
	"github.com/ariefcatur/go-realtime-pos/internal/httpx"
	kafkax "github.com/ariefcatur/go-realtime-pos/internal/kafka"
	"github.com/ariefcatur/go-realtime-pos/internal/lifecycle"
	"github.com/ariefcatur/go-realtime-pos/internal/logging"
	"github.com/ariefcatur/go-realtime-pos/internal/memstore"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
	"github.com/ariefcatur/go-realtime-pos/internal/postgres"
	"github.com/ariefcatur/go-realtime-pos/internal/realtime"
	"github.com/ariefcatur/go-realtime-pos/internal/redisx"
	"github.com/ariefcatur/go-realtime-pos/internal/shifts"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogPretty).With().Str("instance", cfg.InstanceID).Logger()

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("api exited")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	var (
		store orders.Store
		ready []func(context.Context) error
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem := memstore.New()
		seedDemo(mem)
		store = mem
		log.Warn().Msg("using in-memory store; data is lost on restart")
	default:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolConfig{}, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		if cfg.RunMigrations {
			if err := postgres.Migrate(pool, log); err != nil {
				return err
			}
		}
		pg := postgres.NewStore(pool, log)
		store = pg
		ready = append(ready, pg.Ping)
	}

	// Realtime bus
	bus := realtime.NewBus(log)
	stream := realtime.NewStream(bus, cfg.SSEKeepAlive, log)

	var (
		coOpts []checkout.Option
		lcOpts []lifecycle.Option
		cache  httpx.StatusCache
	)

	// Redis
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable; caches degrade to the store")
		}
		sc := redisx.NewStatusCache(rdb)
		cache = sc
		coOpts = append(coOpts, checkout.WithIdempotency(redisx.NewIdempotency(rdb)))
		lcOpts = append(lcOpts, lifecycle.WithStatusCache(sc))
		ready = append(ready, func(ctx context.Context) error { return redisx.Ping(ctx, rdb) })
	}

	// Kafka fan-out between instances
	if cfg.KafkaFanout {
		prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.PublishBuffer, log)
		prod.Start(ctx)
		defer func() {
			prod.Close()
			prod.WaitClosed()
		}()
		unsubscribe := bus.Subscribe(realtime.Forwarder(cfg.InstanceID, prod))
		defer unsubscribe()

		cons := kafkax.NewConsumer(kafkax.ConsumerConfig{
			Brokers:     cfg.KafkaBrokers,
			GroupID:     cfg.ServiceName + "-sse-" + cfg.InstanceID,
			Topics:      realtime.RelayTopics(),
			Workers:     1,
			StartOffset: kafkago.LastOffset,
		}, log)
		relay := realtime.NewRelay(bus, cfg.InstanceID, log)
		go func() {
			if err := cons.Start(ctx, relay.Handle); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("fan-out consumer stopped")
			}
		}()
		log.Info().Strs("brokers", cfg.KafkaBrokers).Msg("kafka fan-out enabled")
	}

	// Services & handlers
	co := checkout.New(store, bus, log, checkout.Config{
		Producer:      cfg.InstanceID,
		Timeout:       cfg.SettlementTimeout,
		StrictPricing: cfg.StrictPricing,
	}, coOpts...)
	lc := lifecycle.New(store, bus, log, cfg.InstanceID, lcOpts...)
	sh := shifts.New(store, log)

	router := httpx.NewRouter(httpx.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Ready:          allReady(ready),
	}, log)
	(&httpx.OrdersHandler{
		Store:     store,
		Checkout:  co,
		Lifecycle: lc,
		Stream:    stream,
		Cache:     cache,
	}).Register(router)
	(&httpx.ShiftsHandler{Shifts: sh}).Register(router)

	// HTTP server. No WriteTimeout: event streams stay open.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	// Cancelling the base context ends open event streams so Shutdown can drain.
	srv.RegisterOnShutdown(cancel)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.StoreDriver).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	return nil
}

func allReady(checks []func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		for _, c := range checks {
			if err := c(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
