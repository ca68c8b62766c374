package repository

import (
	"context"
	"time"

	"github.com/sentinel-nexus/sentinel/internal/domain"
)

// ReadingStore is the append-only reading log.
type ReadingStore interface {
	// Insert persists r and sets r.ID.
	Insert(ctx context.Context, r *domain.Reading) error
	// InsertMany persists rs in one batch and sets each ID.
	InsertMany(ctx context.Context, rs []domain.Reading) error
	List(ctx context.Context, f domain.ReadingFilter) ([]domain.Reading, error)
	// EnergySpans returns, for every device with a reading at or after since,
	// its first and last energyWh by timestamp. Sorted by device id.
	EnergySpans(ctx context.Context, since time.Time) ([]domain.EnergySpan, error)
}

// DeviceRegistry stores device metadata. It is joined to readings by device id only.
type DeviceRegistry interface {
	ListDevices(ctx context.Context) ([]domain.Device, error)
	GetDevice(ctx context.Context, deviceID string) (domain.Device, error)
	UpsertDevice(ctx context.Context, d domain.Device) error
}

type Repos struct {
	Readings ReadingStore
	Devices  DeviceRegistry
}

func New(readings ReadingStore, devices DeviceRegistry) *Repos {
	return &Repos{Readings: readings, Devices: devices}
}
