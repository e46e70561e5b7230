package realtime

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-realtime-pos/internal/kafka"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

// EnvelopePublisher ships an event to the external broker.
type EnvelopePublisher interface {
	PublishEnvelope(ev orders.Envelope) error
}

// Forwarder returns a bus listener that copies events produced by this
// instance to the broker. Events relayed in from other instances carry
// their own producer and are skipped, so nothing loops.
func Forwarder(instance string, p EnvelopePublisher) Listener {
	return func(ev orders.Envelope) error {
		if ev.Producer != instance {
			return nil
		}
		return p.PublishEnvelope(ev)
	}
}

// Relay republishes broker events from other instances on the local bus.
type Relay struct {
	bus      *Bus
	instance string
	log      zerolog.Logger
}

func NewRelay(bus *Bus, instance string, log zerolog.Logger) *Relay {
	return &Relay{bus: bus, instance: instance, log: log.With().Str("component", "realtime_relay").Logger()}
}

// Handle is a kafka consumer handler. Undecodable messages are logged and
// acknowledged so they do not block the partition.
func (r *Relay) Handle(_ context.Context, m kafka.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		r.log.Warn().Err(err).Str("topic", m.Topic).Int64("offset", m.Offset).Msg("skipping undecodable event")
		return nil
	}
	if env.Producer == r.instance {
		return nil
	}
	r.bus.Publish(env)
	return nil
}

// RelayTopics are the topics a relay subscribes to.
func RelayTopics() []string {
	return []string{orders.TopicOrderCreated, orders.TopicOrderUpdated, orders.TopicProductLowStk}
}
