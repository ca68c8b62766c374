package repository

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-nexus/sentinel/internal/domain"
)

type countingRegistry struct {
	DeviceRegistry
	lists int
}

func (c *countingRegistry) ListDevices(ctx context.Context) ([]domain.Device, error) {
	c.lists++
	return c.DeviceRegistry.ListDevices(ctx)
}

func TestCachedDevicesInvalidatesOnUpsert(t *testing.T) {
	ctx := context.Background()
	inner := &countingRegistry{DeviceRegistry: NewMemoryStore()}
	cached, err := NewCachedDevices(inner, time.Minute)
	require.NoError(t, err)
	defer cached.Close()

	require.NoError(t, cached.UpsertDevice(ctx, domain.Device{DeviceID: "DEV-001", RegisteredAt: base}))
	ds, err := cached.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, ds, 1)

	require.NoError(t, cached.UpsertDevice(ctx, domain.Device{DeviceID: "DEV-002", RegisteredAt: base.Add(time.Second)}))
	ds, err = cached.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "DEV-002", ds[1].DeviceID)
	assert.GreaterOrEqual(t, inner.lists, 2)
}

func TestCachedDevicesReturnsCopies(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	require.NoError(t, inner.UpsertDevice(ctx, domain.Device{DeviceID: "DEV-001", Name: "meter", RegisteredAt: base}))

	cached, err := NewCachedDevices(inner, time.Minute)
	require.NoError(t, err)
	defer cached.Close()

	first, err := cached.ListDevices(ctx)
	require.NoError(t, err)
	first[0].Name = "mutated"

	second, err := cached.ListDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, "meter", second[0].Name)
}

// pausingRegistry holds its first ListDevices call after the snapshot is
// taken until resume is closed.
type pausingRegistry struct {
	DeviceRegistry
	paused  atomic.Bool
	snapped chan struct{}
	resume  chan struct{}
}

func (p *pausingRegistry) ListDevices(ctx context.Context) ([]domain.Device, error) {
	ds, err := p.DeviceRegistry.ListDevices(ctx)
	if p.paused.CompareAndSwap(false, true) {
		close(p.snapped)
		<-p.resume
	}
	return ds, err
}

func TestCachedDevicesStaleListNotCachedAfterUpsert(t *testing.T) {
	ctx := context.Background()
	inner := &pausingRegistry{
		DeviceRegistry: NewMemoryStore(),
		snapped:        make(chan struct{}),
		resume:         make(chan struct{}),
	}
	cached, err := NewCachedDevices(inner, time.Minute)
	require.NoError(t, err)
	defer cached.Close()

	done := make(chan []domain.Device)
	go func() {
		ds, _ := cached.ListDevices(ctx)
		done <- ds
	}()

	<-inner.snapped
	require.NoError(t, cached.UpsertDevice(ctx, domain.Device{DeviceID: "DEV-NEW", RegisteredAt: base}))
	close(inner.resume)
	assert.Empty(t, <-done)

	ds, err := cached.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "DEV-NEW", ds[0].DeviceID)
}
