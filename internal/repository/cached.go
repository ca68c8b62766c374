package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/sentinel-nexus/sentinel/internal/domain"
)

const allDevicesKey = "devices:all"

// CachedDevices is a read-through cache in front of a DeviceRegistry. The
// device list is read on every dashboard and insights render but changes
// only on registration.
type CachedDevices struct {
	next  DeviceRegistry
	cache *ristretto.Cache[string, []domain.Device]
	ttl   time.Duration
	// gen is bumped on every write so a list read before the write is not cached.
	gen atomic.Uint64
}

func NewCachedDevices(next DeviceRegistry, ttl time.Duration) (*CachedDevices, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []domain.Device]{
		NumCounters: 1e3,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedDevices{next: next, cache: cache, ttl: ttl}, nil
}

func (c *CachedDevices) ListDevices(ctx context.Context) ([]domain.Device, error) {
	if ds, ok := c.cache.Get(allDevicesKey); ok {
		return append([]domain.Device(nil), ds...), nil
	}
	gen := c.gen.Load()
	ds, err := c.next.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	if c.gen.Load() == gen {
		c.cache.SetWithTTL(allDevicesKey, ds, int64(len(ds)+1), c.ttl)
		c.cache.Wait()
		// An upsert may have landed between the check and the set.
		if c.gen.Load() != gen {
			c.cache.Del(allDevicesKey)
		}
	}
	return append([]domain.Device(nil), ds...), nil
}

func (c *CachedDevices) GetDevice(ctx context.Context, deviceID string) (domain.Device, error) {
	return c.next.GetDevice(ctx, deviceID)
}

func (c *CachedDevices) UpsertDevice(ctx context.Context, d domain.Device) error {
	c.gen.Add(1)
	err := c.next.UpsertDevice(ctx, d)
	c.gen.Add(1)
	c.cache.Del(allDevicesKey)
	return err
}

func (c *CachedDevices) Close() { c.cache.Close() }
