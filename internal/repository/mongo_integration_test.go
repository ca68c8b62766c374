//go:build integration

package repository_test

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/sentinel-nexus/sentinel/internal/database"
	"github.com/sentinel-nexus/sentinel/internal/domain"
	"github.com/sentinel-nexus/sentinel/internal/repository"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

func startMongo(t *testing.T) *repository.Repos {
	t.Helper()
	skipIfNoDocker(t)
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate mongo: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	client, err := database.ConnectMongo(ctx, uri, 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database("sentinel_test")
	require.NoError(t, database.EnsureMongoIndexes(ctx, db))
	return repository.NewMongo(db)
}

func TestMongoReadings(t *testing.T) {
	repos := startMongo(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	r := domain.Reading{DeviceID: "DEV-001", EnergyWh: 100, PowerW: 5, Timestamp: base}
	require.NoError(t, repos.Readings.Insert(ctx, &r))
	assert.NotEmpty(t, r.ID)

	require.NoError(t, repos.Readings.InsertMany(ctx, []domain.Reading{
		{DeviceID: "DEV-001", EnergyWh: 150, PowerW: 6, Timestamp: base.Add(time.Hour)},
		{DeviceID: "DEV-002", EnergyWh: 10, PowerW: 1, Timestamp: base.Add(30 * time.Minute)},
	}))

	latest, err := repos.Readings.List(ctx, domain.ReadingFilter{DeviceID: "DEV-001", Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, 150.0, latest[0].EnergyWh)
	assert.True(t, latest[0].Timestamp.Equal(base.Add(time.Hour)))

	all, err := repos.Readings.List(ctx, domain.ReadingFilter{Order: domain.Asc})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "DEV-001", all[0].DeviceID)

	spans, err := repos.Readings.EnergySpans(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.InDelta(t, 0.05, spans[0].DeltaKWh(), 1e-9)
	assert.Equal(t, "DEV-002", spans[1].DeviceID)
}

func TestMongoDevices(t *testing.T) {
	repos := startMongo(t)
	ctx := context.Background()
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	d := domain.Device{DeviceID: "DEV-001", UserID: "u1", Name: "Meter", Type: domain.DeviceMeter, Status: domain.StatusOnline, RegisteredAt: first}
	require.NoError(t, repos.Devices.UpsertDevice(ctx, d))

	d.Status = domain.StatusOffline
	d.RegisteredAt = first.Add(48 * time.Hour)
	require.NoError(t, repos.Devices.UpsertDevice(ctx, d))

	got, err := repos.Devices.GetDevice(ctx, "DEV-001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, got.Status)
	assert.True(t, got.RegisteredAt.Equal(first))

	_, err = repos.Devices.GetDevice(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	owner := "665a1f0c2b3d4e5f60718293"
	require.NoError(t, repos.Devices.UpsertDevice(ctx, domain.Device{DeviceID: "DEV-002", UserID: owner, RegisteredAt: first}))
	owned, err := repos.Devices.GetDevice(ctx, "DEV-002")
	require.NoError(t, err)
	assert.Equal(t, owner, owned.UserID)

	ds, err := repos.Devices.ListDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, ds, 2)
}
