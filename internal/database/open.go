package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sentinel-nexus/sentinel/internal/cloud"
	"github.com/sentinel-nexus/sentinel/internal/config"
	"github.com/sentinel-nexus/sentinel/internal/repository"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverDynamo   = "dynamodb"
	DriverMemory   = "memory"
)

// Closer releases the connections behind a Repos.
type Closer func(ctx context.Context) error

func noopCloser(context.Context) error { return nil }

// Open builds the repositories selected by STORE_DRIVER. Store calls are
// instrumented, and the device list is cached when DEVICE_CACHE_TTL > 0.
func Open(ctx context.Context) (*repository.Repos, Closer, error) {
	repos, closeStore, err := openDriver(ctx, config.StoreDriver())
	if err != nil {
		return nil, nil, err
	}
	repos = repository.Instrument(repos)

	ttl := config.DeviceCacheTTL()
	if ttl <= 0 {
		return repos, closeStore, nil
	}
	cached, err := repository.NewCachedDevices(repos.Devices, ttl)
	if err != nil {
		_ = closeStore(ctx)
		return nil, nil, fmt.Errorf("device cache: %w", err)
	}
	repos = repository.New(repos.Readings, cached)
	return repos, func(ctx context.Context) error {
		cached.Close()
		return closeStore(ctx)
	}, nil
}

func openDriver(ctx context.Context, driver string) (*repository.Repos, Closer, error) {
	l := log.With().Str("component", "database").Str("driver", driver).Logger()

	switch driver {
	case DriverMongo, "mongodb":
		client, err := ConnectMongo(ctx, config.MongoURI(), config.StoreTimeout())
		if err != nil {
			return nil, nil, err
		}
		db := client.Database(config.MongoDatabase())
		ictx, cancel := context.WithTimeout(ctx, config.StoreTimeout())
		defer cancel()
		if err := EnsureMongoIndexes(ictx, db); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		l.Info().Str("database", db.Name()).Msg("connected to MongoDB")
		return repository.NewMongo(db), client.Disconnect, nil

	case DriverPostgres, "postgresql":
		db, err := Connect()
		if err != nil {
			return nil, nil, fmt.Errorf("unable to connect to Postgres: %w", err)
		}
		mctx, cancel := context.WithTimeout(ctx, config.StoreTimeout())
		defer cancel()
		if err := Migrate(mctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		l.Info().Msg("connected to Postgres")
		return repository.NewPostgres(db), func(context.Context) error { return db.Close() }, nil

	case DriverDynamo, "dynamo":
		store, err := cloud.NewDynamoStore(ctx, config.AWSRegion(), config.DynamoReadingsTable(), config.DynamoDevicesTable())
		if err != nil {
			return nil, nil, fmt.Errorf("unable to create DynamoDB client: %w", err)
		}
		l.Info().Str("readings_table", config.DynamoReadingsTable()).Msg("using DynamoDB")
		return repository.New(store, store), noopCloser, nil

	case DriverMemory, "":
		l.Warn().Msg("using in-memory store; data is lost on restart")
		return repository.NewMemory(), noopCloser, nil
	}
	return nil, nil, errors.New("unknown STORE_DRIVER " + driver)
}
