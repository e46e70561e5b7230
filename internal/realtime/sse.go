package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

const (
	DefaultKeepAlive = 15 * time.Second
	defaultBuffer    = 64
)

var errSlowClient = errors.New("sse client buffer full")

// Frame is the JSON body of one SSE data line.
type Frame struct {
	Type       string          `json:"type"`
	EventID    string          `json:"eventId,omitempty"`
	OrderID    string          `json:"orderId,omitempty"`
	StoreID    string          `json:"storeId,omitempty"`
	OccurredAt *time.Time      `json:"occurredAt,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

func frameOf(ev orders.Envelope) Frame {
	at := ev.OccurredAt
	return Frame{
		Type:       ev.EventType,
		EventID:    ev.EventID,
		OrderID:    ev.CorrelationID,
		StoreID:    ev.StoreID,
		OccurredAt: &at,
		Data:       ev.Payload,
	}
}

// Stream serves bus events as Server-Sent Events.
type Stream struct {
	bus       *Bus
	keepAlive time.Duration
	buffer    int
	log       zerolog.Logger
}

func NewStream(bus *Bus, keepAlive time.Duration, log zerolog.Logger) *Stream {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &Stream{
		bus:       bus,
		keepAlive: keepAlive,
		buffer:    defaultBuffer,
		log:       log.With().Str("component", "sse").Logger(),
	}
}

// Serve blocks until the client disconnects. allow filters events by store.
// A client that falls a full buffer behind is disconnected; it is expected to
// reconnect and refetch.
func (s *Stream) Serve(w http.ResponseWriter, r *http.Request, allow func(storeID string) bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events := make(chan []byte, s.buffer)
	overflow := make(chan struct{})
	var overflowOnce sync.Once

	unsubscribe := s.bus.Subscribe(func(ev orders.Envelope) error {
		if allow != nil && !allow(ev.StoreID) {
			return nil
		}
		b, err := json.Marshal(frameOf(ev))
		if err != nil {
			return err
		}
		select {
		case events <- b:
			return nil
		default:
			overflowOnce.Do(func() { close(overflow) })
			return errSlowClient
		}
	})
	defer unsubscribe()

	if err := writeData(w, []byte(`{"type":"connected"}`)); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-overflow:
			s.log.Warn().Str("remote", r.RemoteAddr).Msg("dropping slow sse client")
			return
		case b := <-events:
			if err := writeData(w, b); err != nil {
				return
			}
			flusher.Flush()
		case t := <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive %d\n\n", t.UnixMilli()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeData(w http.ResponseWriter, b []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}
