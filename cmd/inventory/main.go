package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-realtime-pos/internal/config"
	"github.com/ariefcatur/go-realtime-pos/internal/inventory"
	kafkax "github.com/ariefcatur/go-realtime-pos/internal/kafka"
	"github.com/ariefcatur/go-realtime-pos/internal/logging"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
	"github.com/ariefcatur/go-realtime-pos/internal/postgres"
	"github.com/ariefcatur/go-realtime-pos/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	name := cfg.ServiceName + "-inventory"
	log := logging.New(name, cfg.LogLevel, cfg.LogPretty)

	if err := run(cfg, name, log); err != nil {
		log.Fatal().Err(err).Msg("inventory exited")
	}
}

func run(cfg config.Config, name string, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolConfig{}, log)
	if err != nil {
		return err
	}
	defer pool.Close()
	store := postgres.NewStore(pool, log)

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	// Producer for product.low_stock
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.PublishBuffer, log)
	prod.Start(ctx)
	defer func() {
		prod.Close()
		prod.WaitClosed()
	}()

	svc := inventory.New(store, rdb, prod, inventory.Config{
		ServiceName: name,
		Threshold:   cfg.LowStockThreshold,
	}, log)

	// Consumer
	cons := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.InventoryGroup,
		Topics:  []string{orders.TopicOrderCreated},
		Workers: cfg.InventoryWorkers,
	}, log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("group", cfg.InventoryGroup).
			Str("topic", orders.TopicOrderCreated).
			Int("workers", cfg.InventoryWorkers).
			Int("threshold", cfg.LowStockThreshold).
			Msg("inventory consumer started")
		return cons.Start(gctx, svc.HandleOrderCreated)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down consumer")
		return nil
	})
	return g.Wait()
}
