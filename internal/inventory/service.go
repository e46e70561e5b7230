// Package inventory watches settled orders and raises low-stock alerts.
package inventory

import (
	"context"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-realtime-pos/internal/kafka"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
	"github.com/ariefcatur/go-realtime-pos/internal/redisx"
)

const DefaultThreshold = 5

type StockReader interface {
	StockLevels(ctx context.Context, productIDs []string) ([]orders.StockLevel, error)
}

type Publisher interface {
	PublishEnvelope(ev orders.Envelope) error
}

type Config struct {
	ServiceName string
	// Threshold is the stock level below which a product is reported.
	Threshold int
}

type Service struct {
	stock     StockReader
	rdb       *redis.Client
	pub       Publisher
	name      string
	threshold int
	log       zerolog.Logger
}

func New(stock StockReader, rdb *redis.Client, pub Publisher, cfg Config, log zerolog.Logger) *Service {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "inventory"
	}
	return &Service{
		stock:     stock,
		rdb:       rdb,
		pub:       pub,
		name:      cfg.ServiceName,
		threshold: cfg.Threshold,
		log:       log.With().Str("component", "inventory").Logger(),
	}
}

// HandleOrderCreated is the consumer handler for order.created. Redelivered
// events are skipped by event id; an alert for a product is raised at most
// once while its latch is held.
func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		s.log.Warn().Err(err).Int64("offset", m.Offset).Msg("skipping undecodable event")
		return nil
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}

	dkey := redisx.DedupKey(s.name, env.EventID)
	first, err := redisx.Claim(ctx, s.rdb, dkey, redisx.TTLDedup)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	if err := s.check(ctx, env); err != nil {
		// release so the redelivery is processed
		_ = s.rdb.Del(context.WithoutCancel(ctx), dkey).Err()
		return err
	}
	return nil
}

func (s *Service) check(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event_id", env.EventID).Msg("skipping malformed order.created")
		return nil
	}

	ids := productIDs(p.Order)
	if len(ids) == 0 {
		return nil
	}
	levels, err := s.stock.StockLevels(ctx, ids)
	if err != nil {
		return err
	}

	var low []orders.LowStockItem
	for _, l := range levels {
		key := redisx.LowStockKey(l.ProductID)
		if l.Stock >= s.threshold {
			if err := s.rdb.Del(ctx, key).Err(); err != nil {
				return err
			}
			continue
		}
		latched, err := redisx.Claim(ctx, s.rdb, key, redisx.TTLLowStock)
		if err != nil {
			return err
		}
		if latched {
			low = append(low, orders.LowStockItem{ProductID: l.ProductID, Name: l.Name, Stock: l.Stock, Threshold: s.threshold})
		}
	}
	if len(low) == 0 {
		return nil
	}

	ev := orders.NewEnvelope(orders.EventProductLowStk, s.name, env.TraceID, p.Order.ID, env.StoreID,
		orders.LowStockPayload{OrderID: p.Order.ID, Items: low})
	if err := s.pub.PublishEnvelope(ev); err != nil {
		s.log.Error().Err(err).Str("order_id", p.Order.ID).Msg("publish low stock")
		return nil
	}
	s.log.Info().Str("order_id", p.Order.ID).Int("products", len(low)).Msg("low stock alert")
	return nil
}

func productIDs(o orders.Order) []string {
	seen := map[string]bool{}
	var ids []string
	for _, it := range o.Items {
		if it.ProductID == "" || seen[it.ProductID] {
			continue
		}
		seen[it.ProductID] = true
		ids = append(ids, it.ProductID)
	}
	sort.Strings(ids)
	return ids
}
