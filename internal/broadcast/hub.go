package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sentinel-nexus/sentinel/internal/domain"
	"github.com/sentinel-nexus/sentinel/internal/metrics"
)

// DefaultBuffer is the per-subscriber event buffer.
const DefaultBuffer = 64

// Filter decides whether a subscriber wants an event.
type Filter func(Event) bool

// DeviceFilter matches events for deviceID. An empty id or the
// all-devices selector matches everything.
func DeviceFilter(deviceID string) Filter {
	if deviceID == "" || deviceID == domain.AllDevices {
		return nil
	}
	return func(ev Event) bool { return ev.Reading.DeviceID == deviceID }
}

// Hub fans events out to in-process subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
	buffer int
	log    zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{subs: make(map[string]*Subscription), buffer: DefaultBuffer, log: log}
}

// Subscription is one live viewer's event stream.
type Subscription struct {
	id     string
	filter Filter
	events chan Event
	hub    *Hub
	once   sync.Once
}

// Subscribe registers a subscriber. A nil filter receives every event. On a
// closed hub the returned subscription is already closed.
func (h *Hub) Subscribe(filter Filter) *Subscription {
	s := &Subscription{
		id:     uuid.NewString(),
		filter: filter,
		events: make(chan Event, h.buffer),
		hub:    h,
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.events)
		s.once.Do(func() {})
		return s
	}
	h.subs[s.id] = s
	n := len(h.subs)
	h.mu.Unlock()

	metrics.LiveSubscribers.Inc()
	h.log.Debug().Str("subscriber", s.id).Int("total", n).Msg("live subscriber joined")
	return s
}

func (s *Subscription) ID() string { return s.id }

// Events is closed when the subscription is closed.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close unregisters the subscriber. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		delete(h.subs, s.id)
		close(s.events)
		n := len(h.subs)
		h.mu.Unlock()

		metrics.LiveSubscribers.Dec()
		h.log.Debug().Str("subscriber", s.id).Int("total", n).Msg("live subscriber left")
	})
}

// Publish hands ev to every matching subscriber without waiting. A
// subscriber whose buffer is full misses the event.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, s := range h.subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		select {
		case s.events <- ev:
			metrics.BroadcastEvents.WithLabelValues("delivered").Inc()
		default:
			metrics.BroadcastEvents.WithLabelValues("dropped").Inc()
			h.log.Warn().Str("subscriber", s.id).Str("device_id", ev.Reading.DeviceID).Msg("live subscriber buffer full, event dropped")
		}
	}
	return nil
}

// Len reports the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}
