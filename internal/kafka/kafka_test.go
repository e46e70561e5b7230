package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	calls  int
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducer_PublishEnvelopeRoutesByType(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 8, zerolog.Nop())
	p.Start(context.Background())

	ev := orders.NewEnvelope(orders.EventOrderUpdated, "api-1", "", "o1", "s1", orders.OrderUpdatedPayload{OrderID: "o1", Status: orders.StatusReady})
	require.NoError(t, p.PublishEnvelope(ev))
	assert.Error(t, p.PublishEnvelope(orders.Envelope{EventType: "unknown"}))

	p.Close()
	p.WaitClosed()

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, orders.TopicOrderUpdated, m.Topic)
	assert.Equal(t, []byte("o1"), m.Key)
	assert.Equal(t, orders.EventOrderUpdated, Header(m, HeaderEventType))
	assert.Equal(t, "api-1", Header(m, HeaderProducer))
	assert.True(t, w.closed)

	got, err := UnmarshalEnvelope(m.Value)
	require.NoError(t, err)
	payload, err := UnwrapPayload[orders.OrderUpdatedPayload](got.Payload)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusReady, payload.Status)
}

func TestProducer_BreakerStopsHammeringBroker(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newProducer(w, 32, zerolog.Nop())
	p.Start(context.Background())

	for i := 0; i < 10; i++ {
		p.Publish("order.created", []byte("k"), []byte("v"))
	}
	p.Close()
	p.WaitClosed()

	assert.Equal(t, 5, w.calls, "breaker opens after five consecutive failures")
}

func TestProducer_FullQueueDrops(t *testing.T) {
	p := newProducer(&fakeWriter{}, 1, zerolog.Nop())
	assert.True(t, p.Publish("t", nil, nil))
	assert.False(t, p.Publish("t", nil, nil))
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func TestConsumer_RetriesFailedMessageBeforeCommittingPastIt(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := newConsumer(r, 1, zerolog.Nop())
	c.minBackoff, c.maxBackoff = time.Millisecond, 2*time.Millisecond

	var (
		mu       sync.Mutex
		attempts int
		handled  []int64
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			if m.Offset == 2 {
				if attempts++; attempts < 3 {
					return errors.New("database unavailable")
				}
			}
			handled = append(handled, m.Offset)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3}, r.commits())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int64{1, 2, 3}, handled)
}

func TestConsumer_NeverCommitsPastFailingMessage(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := newConsumer(r, 4, zerolog.Nop())
	c.minBackoff, c.maxBackoff = time.Millisecond, time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
			if m.Offset == 2 {
				return errors.New("database unavailable")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)
	// offset 3 shares the partition and must wait behind offset 2
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1}, r.commits())
	assert.True(t, r.closed)
}

func TestConsumer_PartitionsSpreadAcrossWorkers(t *testing.T) {
	c := newConsumer(&fakeReader{}, 3, zerolog.Nop())

	seen := map[int]bool{}
	for p := 0; p < 3; p++ {
		w := c.route(kafka.Message{Topic: "order.created", Partition: p})
		assert.Equal(t, w, c.route(kafka.Message{Topic: "order.created", Partition: p, Offset: 99}))
		seen[w] = true
	}
	assert.Len(t, seen, 3)
}
