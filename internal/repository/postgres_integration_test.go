//go:build integration

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/sentinel-nexus/sentinel/internal/database"
	"github.com/sentinel-nexus/sentinel/internal/domain"
	"github.com/sentinel-nexus/sentinel/internal/repository"
)

func startPostgres(t *testing.T) *repository.Repos {
	t.Helper()
	skipIfNoDocker(t)
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("sentinel_test"),
		postgres.WithUsername("sentinel"),
		postgres.WithPassword("sentinel"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sqlx.Connect("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(ctx, db))
	return repository.NewPostgres(db)
}

func TestPostgresReadings(t *testing.T) {
	repos := startPostgres(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// Inserted out of timestamp order; the window must follow ts, not id.
	late := domain.Reading{DeviceID: "DEV-001", EnergyWh: 150, PowerW: 6, Timestamp: base.Add(time.Hour)}
	require.NoError(t, repos.Readings.Insert(ctx, &late))
	assert.NotEmpty(t, late.ID)

	batch := []domain.Reading{
		{DeviceID: "DEV-001", EnergyWh: 100, PowerW: 5, Timestamp: base},
		{DeviceID: "DEV-002", EnergyWh: 40, PowerW: 1, Timestamp: base},
		{DeviceID: "DEV-002", EnergyWh: 5, PowerW: 1, Timestamp: base.Add(30 * time.Minute)},
		{DeviceID: "DEV-003", EnergyWh: 9, PowerW: 1, Timestamp: base.Add(-2 * time.Hour)},
	}
	require.NoError(t, repos.Readings.InsertMany(ctx, batch))
	for _, r := range batch {
		assert.NotEmpty(t, r.ID)
	}

	latest, err := repos.Readings.List(ctx, domain.ReadingFilter{DeviceID: "DEV-001", Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, late.ID, latest[0].ID)
	assert.True(t, latest[0].Timestamp.Equal(base.Add(time.Hour)))

	asc, err := repos.Readings.List(ctx, domain.ReadingFilter{Order: domain.Asc, Since: base.Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, asc, 4)
	assert.Equal(t, "DEV-001", asc[0].DeviceID)
	assert.Equal(t, "DEV-002", asc[1].DeviceID)
	assert.Equal(t, late.ID, asc[3].ID)

	window, err := repos.Readings.List(ctx, domain.ReadingFilter{Since: base, Until: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, window, 3)

	spans, err := repos.Readings.EnergySpans(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, domain.EnergySpan{DeviceID: "DEV-001", FirstWh: 100, LastWh: 150}, spans[0])
	assert.InDelta(t, 0.05, spans[0].DeltaKWh(), 1e-9)
	assert.Equal(t, "DEV-002", spans[1].DeviceID)
	assert.Zero(t, spans[1].DeltaKWh())
}

func TestPostgresDevices(t *testing.T) {
	repos := startPostgres(t)
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

	ds, err := repos.Devices.ListDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, ds, 1)
}
