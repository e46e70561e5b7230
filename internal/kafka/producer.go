package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"

	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const writeTimeout = 5 * time.Second

// Producer queues messages and writes them from one goroutine, so callers
// never wait on the broker. Writes go through a circuit breaker; while it is
// open messages are dropped and logged.
type Producer struct {
	w         Writer
	inbox     chan kafka.Message
	closeCh   chan struct{}
	closeOnce sync.Once
	cb        *gobreaker.CircuitBreaker[struct{}]
	log       zerolog.Logger
}

func NewProducer(brokers []string, buf int, log zerolog.Logger) *Producer {
	// Topic is set per message.
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newProducer(w, buf, log)
}

func newProducer(w Writer, buf int, log zerolog.Logger) *Producer {
	if buf <= 0 {
		buf = 1024
	}
	p := &Producer{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		log:     log.With().Str("component", "kafka_producer").Logger(),
	}
	p.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "kafka-writer",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return p
}

// Start runs the write loop until Close drains the inbox.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			p.write(ctx, m)
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn().Err(err).Msg("close writer")
		}
	}()
}

func (p *Producer) write(ctx context.Context, m kafka.Message) {
	// The parent may already be cancelled during shutdown drain.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	_, err := p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.w.WriteMessages(wctx, m)
	})
	if err != nil {
		p.log.Error().Err(err).Str("topic", m.Topic).Str("key", string(m.Key)).Msg("kafka write failed, message dropped")
	}
}

// Publish enqueues one message. It reports false when the queue is full.
func (p *Producer) Publish(topic string, key, value []byte, headers ...kafka.Header) bool {
	m := kafka.Message{Topic: topic, Key: key, Value: value, Time: time.Now(), Headers: headers}
	select {
	case p.inbox <- m:
		return true
	default:
		p.log.Warn().Str("topic", topic).Msg("producer queue full, message dropped")
		return false
	}
}

// PublishEnvelope routes ev to its topic, keyed by order id.
func (p *Producer) PublishEnvelope(ev orders.Envelope) error {
	topic, ok := orders.TopicFor(ev.EventType)
	if !ok {
		return fmt.Errorf("no topic for event type %q", ev.EventType)
	}
	key := orders.PartitionKey(ev.CorrelationID)
	if !p.Publish(topic, key, MustMarshal(ev), envelopeHeaders(ev)...) {
		return fmt.Errorf("producer queue full")
	}
	return nil
}

// Close stops accepting messages; the loop flushes what is queued and exits.
func (p *Producer) Close() { p.closeOnce.Do(func() { close(p.inbox) }) }

// WaitClosed blocks until the loop has flushed and closed the writer.
func (p *Producer) WaitClosed() { <-p.closeCh }
