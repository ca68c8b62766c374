package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-nexus/sentinel/internal/config"
	"github.com/sentinel-nexus/sentinel/internal/domain"
	"github.com/sentinel-nexus/sentinel/internal/repository"
)

func TestOpenMemoryWithDeviceCache(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DEVICE_CACHE_TTL", "1m")
	require.NoError(t, config.Load())

	ctx := context.Background()
	repos, closeFn, err := Open(ctx)
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeFn(ctx)) }()

	_, cached := repos.Devices.(*repository.CachedDevices)
	assert.True(t, cached)

	require.NoError(t, repos.Devices.UpsertDevice(ctx, domain.Device{DeviceID: "DEV-1", RegisteredAt: time.Now()}))
	ds, err := repos.Devices.ListDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, ds, 1)

	r := domain.Reading{DeviceID: "DEV-1", EnergyWh: 1, PowerW: 1, Timestamp: time.Now()}
	require.NoError(t, repos.Readings.Insert(ctx, &r))
	assert.NotEmpty(t, r.ID)
}

func TestOpenWithoutCache(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DEVICE_CACHE_TTL", "0s")
	require.NoError(t, config.Load())

	repos, closeFn, err := Open(context.Background())
	require.NoError(t, err)
	defer closeFn(context.Background())

	_, cached := repos.Devices.(*repository.CachedDevices)
	assert.False(t, cached)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "cassandra")
	require.NoError(t, config.Load())

	_, _, err := Open(context.Background())
	assert.ErrorContains(t, err, "cassandra")
}
