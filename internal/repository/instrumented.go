package repository

import (
	"context"
	"time"

	"github.com/sentinel-nexus/sentinel/internal/domain"
	"github.com/sentinel-nexus/sentinel/internal/metrics"
)

// Instrument wraps both stores so every call is recorded in
// metrics.StoreDuration.
func Instrument(r *Repos) *Repos {
	return New(instrumentedReadings{next: r.Readings}, instrumentedDevices{next: r.Devices})
}

type instrumentedReadings struct{ next ReadingStore }

func (s instrumentedReadings) Insert(ctx context.Context, r *domain.Reading) (err error) {
	defer func(start time.Time) { metrics.ObserveStore("insert_reading", start, err) }(time.Now())
	return s.next.Insert(ctx, r)
}

func (s instrumentedReadings) InsertMany(ctx context.Context, rs []domain.Reading) (err error) {
	defer func(start time.Time) { metrics.ObserveStore("insert_readings", start, err) }(time.Now())
	return s.next.InsertMany(ctx, rs)
}

func (s instrumentedReadings) List(ctx context.Context, f domain.ReadingFilter) (out []domain.Reading, err error) {
	defer func(start time.Time) { metrics.ObserveStore("list_readings", start, err) }(time.Now())
	return s.next.List(ctx, f)
}

func (s instrumentedReadings) EnergySpans(ctx context.Context, since time.Time) (out []domain.EnergySpan, err error) {
	defer func(start time.Time) { metrics.ObserveStore("energy_spans", start, err) }(time.Now())
	return s.next.EnergySpans(ctx, since)
}

type instrumentedDevices struct{ next DeviceRegistry }

func (s instrumentedDevices) ListDevices(ctx context.Context) (out []domain.Device, err error) {
	defer func(start time.Time) { metrics.ObserveStore("list_devices", start, err) }(time.Now())
	return s.next.ListDevices(ctx)
}

func (s instrumentedDevices) GetDevice(ctx context.Context, deviceID string) (d domain.Device, err error) {
	defer func(start time.Time) { metrics.ObserveStore("get_device", start, err) }(time.Now())
	return s.next.GetDevice(ctx, deviceID)
}

func (s instrumentedDevices) UpsertDevice(ctx context.Context, d domain.Device) (err error) {
	defer func(start time.Time) { metrics.ObserveStore("upsert_device", start, err) }(time.Now())
	return s.next.UpsertDevice(ctx, d)
}
