package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-nexus/sentinel/internal/domain"
)

var base = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func seed(t *testing.T, s ReadingStore, rs ...domain.Reading) {
	t.Helper()
	for i := range rs {
		require.NoError(t, s.Insert(context.Background(), &rs[i]))
		require.NotEmpty(t, rs[i].ID)
	}
}

func TestMemoryListOrderAndLimit(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s,
		domain.Reading{DeviceID: "DEV-001", EnergyWh: 1, Timestamp: base.Add(2 * time.Minute)},
		domain.Reading{DeviceID: "DEV-002", EnergyWh: 2, Timestamp: base},
		domain.Reading{DeviceID: "DEV-001", EnergyWh: 3, Timestamp: base.Add(time.Minute)},
	)
	ctx := context.Background()

	desc, err := s.List(ctx, domain.ReadingFilter{Order: domain.Desc})
	require.NoError(t, err)
	require.Len(t, desc, 3)
	assert.Equal(t, []float64{1, 3, 2}, energies(desc))

	asc, err := s.List(ctx, domain.ReadingFilter{DeviceID: "DEV-001", Order: domain.Asc})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1}, energies(asc))

	limited, err := s.List(ctx, domain.ReadingFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, 1.0, limited[0].EnergyWh)

	windowed, err := s.List(ctx, domain.ReadingFilter{Since: base.Add(time.Minute), Until: base.Add(2 * time.Minute), Order: domain.Asc})
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, energies(windowed))
}

func TestMemoryDescTiesNewestInsertFirst(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s,
		domain.Reading{DeviceID: "DEV-001", EnergyWh: 10, Timestamp: base},
		domain.Reading{DeviceID: "DEV-001", EnergyWh: 20, Timestamp: base},
	)
	out, err := s.List(context.Background(), domain.ReadingFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 20.0, out[0].EnergyWh)
}

func TestMemoryEnergySpans(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s,
		domain.Reading{DeviceID: "DEV-B", EnergyWh: 150, Timestamp: base.Add(time.Hour)},
		domain.Reading{DeviceID: "DEV-B", EnergyWh: 100, Timestamp: base},
		domain.Reading{DeviceID: "DEV-A", EnergyWh: 5, Timestamp: base.Add(-48 * time.Hour)},
		domain.Reading{DeviceID: "DEV-A", EnergyWh: 7, Timestamp: base.Add(time.Minute)},
	)

	spans, err := s.EnergySpans(context.Background(), base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []domain.EnergySpan{
		{DeviceID: "DEV-A", FirstWh: 7, LastWh: 7},
		{DeviceID: "DEV-B", FirstWh: 100, LastWh: 150},
	}, spans)
}

func TestMemoryInsertManyAssignsIDs(t *testing.T) {
	s := NewMemoryStore()
	rs := []domain.Reading{{DeviceID: "DEV-X", Timestamp: base}, {DeviceID: "DEV-X", Timestamp: base.Add(time.Second)}}
	require.NoError(t, s.InsertMany(context.Background(), rs))
	assert.NotEmpty(t, rs[0].ID)
	assert.NotEqual(t, rs[0].ID, rs[1].ID)

	out, err := s.List(context.Background(), domain.ReadingFilter{})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestMemoryDevices(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.GetDevice(ctx, "DEV-404")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.UpsertDevice(ctx, domain.Device{DeviceID: "DEV-002", Name: "b", RegisteredAt: base.Add(time.Hour)}))
	require.NoError(t, s.UpsertDevice(ctx, domain.Device{DeviceID: "DEV-001", Name: "a", RegisteredAt: base}))
	require.NoError(t, s.UpsertDevice(ctx, domain.Device{DeviceID: "DEV-001", Name: "renamed", RegisteredAt: base.Add(5 * time.Hour)}))

	ds, err := s.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "DEV-001", ds[0].DeviceID)
	assert.Equal(t, "renamed", ds[0].Name)
	assert.Equal(t, base, ds[0].RegisteredAt)
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Insert(ctx, &domain.Reading{DeviceID: "DEV-001", Timestamp: base})
	assert.ErrorIs(t, err, context.Canceled)

	out, err := s.List(context.Background(), domain.ReadingFilter{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func energies(rs []domain.Reading) []float64 {
	out := make([]float64, len(rs))
	for i, r := range rs {
		out[i] = r.EnergyWh
	}
	return out
}
