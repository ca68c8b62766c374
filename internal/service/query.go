package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentinel-nexus/sentinel/internal/domain"
	"github.com/sentinel-nexus/sentinel/internal/repository"
)

// ReadingQuery selects a page of readings. DeviceID "" or "__ALL__" lists
// every device.
type ReadingQuery struct {
	DeviceID string
	Limit    int
	Order    domain.Order
	Since    time.Time
	Until    time.Time
}

type DashboardSummary struct {
	TotalReadings int `json:"totalReadings"`
	UniqueDevices int `json:"uniqueDevices"`
}

// DashboardView is everything the dashboard page needs for its first render.
type DashboardView struct {
	DeviceID        string           `json:"deviceId"`
	DeviceIDs       []string         `json:"deviceIds"`
	InitialReadings []domain.Reading `json:"initialReadings"`
	Summary         DashboardSummary `json:"summary"`
	WindowStart     time.Time        `json:"windowStart"`
	Username        string           `json:"username,omitempty"`
}

// QueryService serves history, windows and aggregates. It never writes.
type QueryService struct {
	repos        *repository.Repos
	now          func() time.Time
	timeout      time.Duration
	defaultLimit int
	maxLimit     int
	window       time.Duration
	demo         []string
	sources      InsightSources
	log          zerolog.Logger
}

// ClampLimit applies the default to non-positive limits and caps the rest.
func (s *QueryService) ClampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

func deviceSelector(id string) string {
	if id == domain.AllDevices {
		return ""
	}
	return id
}

func (s *QueryService) ListReadings(ctx context.Context, q ReadingQuery) ([]domain.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.repos.Readings.List(ctx, domain.ReadingFilter{
		DeviceID: deviceSelector(q.DeviceID),
		Since:    q.Since,
		Until:    q.Until,
		Limit:    s.ClampLimit(q.Limit),
		Order:    q.Order,
	})
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.Reading{}, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "list readings", Err: err}
	}
	if out == nil {
		out = []domain.Reading{}
	}
	return out, nil
}

// Dashboard returns the trailing window of readings, oldest first, for one
// device or all of them.
func (s *QueryService) Dashboard(ctx context.Context, deviceID string) (DashboardView, error) {
	if deviceID == "" {
		deviceID = domain.AllDevices
	}
	ids, err := s.DeviceIDs(ctx)
	if err != nil {
		return DashboardView{}, err
	}

	since := s.now().UTC().Add(-s.window)
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	readings, err := s.repos.Readings.List(rctx, domain.ReadingFilter{
		DeviceID: deviceSelector(deviceID),
		Since:    since,
		Order:    domain.Asc,
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return DashboardView{}, &domain.StoreError{Op: "dashboard readings", Err: err}
	}
	if readings == nil {
		readings = []domain.Reading{}
	}

	devices := make(map[string]struct{})
	for _, r := range readings {
		devices[r.DeviceID] = struct{}{}
	}
	return DashboardView{
		DeviceID:        deviceID,
		DeviceIDs:       ids,
		InitialReadings: readings,
		Summary:         DashboardSummary{TotalReadings: len(readings), UniqueDevices: len(devices)},
		WindowStart:     since,
	}, nil
}

// EnergyByDevice reports consumption since windowStart per device, using
// the first and last counter values by timestamp. Counter resets count as
// zero and devices without readings are left out.
func (s *QueryService) EnergyByDevice(ctx context.Context, windowStart time.Time) ([]domain.EnergyUsage, error) {
	spans, err := s.LatestByDevice(ctx, windowStart)
	if err != nil {
		return nil, err
	}
	out := make([]domain.EnergyUsage, 0, len(spans))
	for _, sp := range spans {
		out = append(out, domain.EnergyUsage{DeviceID: sp.DeviceID, KWh: sp.DeltaKWh()})
	}
	return out, nil
}

// LatestByDevice returns the first and last energyWh per device in the window,
// sorted by device id.
func (s *QueryService) LatestByDevice(ctx context.Context, windowStart time.Time) ([]domain.EnergySpan, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	spans, err := s.repos.Readings.EnergySpans(ctx, windowStart)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.EnergySpan{}, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "energy spans", Err: err}
	}
	return spans, nil
}

func (s *QueryService) ListDevices(ctx context.Context) ([]domain.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ds, err := s.repos.Devices.ListDevices(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.Device{}, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "list devices", Err: err}
	}
	if ds == nil {
		ds = []domain.Device{}
	}
	return ds, nil
}

// DeviceIDs lists registered device ids in registry order.
func (s *QueryService) DeviceIDs(ctx context.Context) ([]string, error) {
	ds, err := s.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	return mergeIDs(deviceIDs(ds)), nil
}

func deviceIDs(ds []domain.Device) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.DeviceID)
	}
	return out
}

// mergeIDs concatenates the lists keeping the first occurrence of each id.
func mergeIDs(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, l := range lists {
		for _, id := range l {
			if _, ok := seen[id]; ok || id == "" {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
