package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/sentinel-nexus/sentinel/internal/broadcast"
	"github.com/sentinel-nexus/sentinel/internal/domain"
	"github.com/sentinel-nexus/sentinel/internal/metrics"
	"github.com/sentinel-nexus/sentinel/internal/repository"
)

// publishTimeout bounds fan-out after a write. Publishing is detached from
// the request so a client that hangs up after the insert still gets its
// reading broadcast.
const publishTimeout = 5 * time.Second

// FlexTime accepts ISO 8601 / RFC 3339 strings, the other layouts dateparse
// understands, and epoch milliseconds.
type FlexTime struct {
	time.Time
}

func (t *FlexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return domain.NewValidationError("timestamp", err.Error())
		}
		if strings.TrimSpace(s) == "" {
			return nil
		}
		parsed, err := dateparse.ParseAny(s)
		if err != nil {
			return domain.NewValidationError("timestamp", err.Error())
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return domain.NewValidationError("timestamp", err.Error())
	}
	// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
	if math.IsNaN(ms) || ms >= math.MaxInt64 || ms < math.MinInt64 {
		return domain.NewValidationError("timestamp", "epoch milliseconds out of range")
	}
	t.Time = time.UnixMilli(int64(ms))
	return nil
}

// ReadingInput is a reading as submitted by a device.
type ReadingInput struct {
	DeviceID  string    `json:"device_id" validate:"required,max=128"`
	EnergyWh  *float64  `json:"energyWh" validate:"required,gte=0"`
	PowerW    *float64  `json:"powerW" validate:"required,gte=0"`
	VoltageV  *float64  `json:"voltageV,omitempty" validate:"omitempty,gte=0"`
	CurrentA  *float64  `json:"currentA,omitempty" validate:"omitempty,gte=0"`
	Timestamp *FlexTime `json:"timestamp,omitempty"`
}

// IngestionService validates, persists and announces readings.
type IngestionService struct {
	store     repository.ReadingStore
	pub       broadcast.Publisher
	now       func() time.Time
	timeout   time.Duration
	maxPoints int
	rand      randSource
	log       zerolog.Logger
}

// Submit stores one reading and emits reading:new. Invalid input is rejected
// with a ValidationError before anything is written or published. A failed
// publish is logged only; the stored reading stands.
func (s *IngestionService) Submit(ctx context.Context, in ReadingInput) (domain.Reading, error) {
	return s.submit(ctx, in, "http")
}

// FromMQTT ingests a JSON ReadingInput received on topic.
func (s *IngestionService) FromMQTT(ctx context.Context, topic string, payload []byte) (domain.Reading, error) {
	var in ReadingInput
	if err := json.Unmarshal(payload, &in); err != nil {
		metrics.IngestRejected.WithLabelValues("validation").Inc()
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return domain.Reading{}, verr
		}
		return domain.Reading{}, domain.NewValidationError("payload", err.Error())
	}
	r, err := s.submit(ctx, in, "mqtt")
	if err != nil {
		return r, fmt.Errorf("topic %s: %w", topic, err)
	}
	return r, nil
}

func (s *IngestionService) submit(ctx context.Context, in ReadingInput, source string) (domain.Reading, error) {
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	if err := validateStruct(in); err != nil {
		metrics.IngestRejected.WithLabelValues("validation").Inc()
		return domain.Reading{}, err
	}

	r := domain.Reading{
		DeviceID:  in.DeviceID,
		EnergyWh:  *in.EnergyWh,
		PowerW:    *in.PowerW,
		VoltageV:  in.VoltageV,
		CurrentA:  in.CurrentA,
		Timestamp: s.now().UTC(),
	}
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		r.Timestamp = in.Timestamp.UTC()
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.Insert(sctx, &r); err != nil {
		metrics.IngestRejected.WithLabelValues("store").Inc()
		return domain.Reading{}, &domain.StoreError{Op: "insert reading", Err: err}
	}
	metrics.ReadingsIngested.WithLabelValues(source).Inc()

	s.publish(ctx, r)
	return r, nil
}

func (s *IngestionService) publish(ctx context.Context, r domain.Reading) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.pub.Publish(pctx, broadcast.NewReadingEvent(r)); err != nil {
		s.log.Warn().Err(err).Str("device_id", r.DeviceID).Str("reading_id", r.ID).Msg("reading broadcast failed")
	}
}
