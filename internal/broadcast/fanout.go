package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/sentinel-nexus/sentinel/internal/metrics"
)

// BreakerSettings tunes the circuit breaker placed in front of each sink.
type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

var DefaultBreaker = BreakerSettings{FailureThreshold: 5, OpenTimeout: 30 * time.Second}

type sink struct {
	name string
	pub  Publisher
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// Fanout publishes to the in-process hub first and then to external sinks.
// Each sink sits behind its own breaker so a dead broker or topic costs one
// fast failure per event instead of a timeout.
type Fanout struct {
	local    Publisher
	sinks    []sink
	settings BreakerSettings
	log      zerolog.Logger
}

func NewFanout(local Publisher, settings BreakerSettings, log zerolog.Logger) *Fanout {
	if local == nil {
		local = Discard
	}
	return &Fanout{local: local, settings: settings, log: log}
}

// AddSink registers an external publisher under name.
func (f *Fanout) AddSink(name string, pub Publisher) {
	threshold := f.settings.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     f.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.log.Warn().Str("sink", name).Str("from", from.String()).Str("to", to.String()).Msg("broadcast sink breaker state changed")
		},
	})
	f.sinks = append(f.sinks, sink{name: name, pub: pub, cb: cb})
}

// Publish always delivers locally. Sink failures are joined into the
// returned error and never stop other sinks.
func (f *Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	if err := f.local.Publish(ctx, ev); err != nil {
		errs = append(errs, fmt.Errorf("local: %w", err))
	}
	for _, s := range f.sinks {
		pub := s.pub
		_, err := s.cb.Execute(func() (struct{}, error) {
			return struct{}{}, pub.Publish(ctx, ev)
		})
		if err != nil {
			metrics.BroadcastSinkErrors.WithLabelValues(s.name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
