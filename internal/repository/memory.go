package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-nexus/sentinel/internal/domain"
)

// MemoryStore keeps readings and devices in process memory. It backs the
// "memory" driver and the tests.
type MemoryStore struct {
	mu       sync.RWMutex
	readings []domain.Reading
	devices  map[string]domain.Device
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: make(map[string]domain.Device)}
}

// NewMemory returns Repos backed by a single MemoryStore.
func NewMemory() *Repos {
	m := NewMemoryStore()
	return New(m, m)
}

func (m *MemoryStore) Insert(ctx context.Context, r *domain.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.NewString()
	m.readings = append(m.readings, *r)
	return nil
}

func (m *MemoryStore) InsertMany(ctx context.Context, rs []domain.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range rs {
		rs[i].ID = uuid.NewString()
	}
	m.readings = append(m.readings, rs...)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, f domain.ReadingFilter) ([]domain.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := m.sorted(func(r domain.Reading) bool {
		if f.DeviceID != "" && r.DeviceID != f.DeviceID {
			return false
		}
		if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
			return false
		}
		if !f.Until.IsZero() && !r.Timestamp.Before(f.Until) {
			return false
		}
		return true
	})
	if f.Order == domain.Desc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) EnergySpans(ctx context.Context, since time.Time) ([]domain.EnergySpan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := m.sorted(func(r domain.Reading) bool { return !r.Timestamp.Before(since) })

	spans := make(map[string]*domain.EnergySpan)
	for _, r := range rows {
		s, ok := spans[r.DeviceID]
		if !ok {
			s = &domain.EnergySpan{DeviceID: r.DeviceID, FirstWh: r.EnergyWh}
			spans[r.DeviceID] = s
		}
		s.LastWh = r.EnergyWh
	}

	out := make([]domain.EnergySpan, 0, len(spans))
	for _, s := range spans {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// sorted returns matching readings ascending by timestamp; ties keep insertion order.
func (m *MemoryStore) sorted(keep func(domain.Reading) bool) []domain.Reading {
	m.mu.RLock()
	out := make([]domain.Reading, 0, len(m.readings))
	for _, r := range m.readings {
		if keep(r) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (m *MemoryStore) ListDevices(ctx context.Context) ([]domain.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]domain.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	m.mu.RUnlock()
	sortDevices(out)
	return out, nil
}

func (m *MemoryStore) GetDevice(ctx context.Context, deviceID string) (domain.Device, error) {
	if err := ctx.Err(); err != nil {
		return domain.Device{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return domain.Device{}, domain.ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) UpsertDevice(ctx context.Context, d domain.Device) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.devices[d.DeviceID]; ok {
		d.RegisteredAt = prev.RegisteredAt
	}
	m.devices[d.DeviceID] = d
	return nil
}

// sortDevices orders devices by registration time, then id.
func sortDevices(ds []domain.Device) {
	sort.Slice(ds, func(i, j int) bool {
		if !ds[i].RegisteredAt.Equal(ds[j].RegisteredAt) {
			return ds[i].RegisteredAt.Before(ds[j].RegisteredAt)
		}
		return ds[i].DeviceID < ds[j].DeviceID
	})
}
