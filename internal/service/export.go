package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/sentinel-nexus/sentinel/internal/domain"
	"github.com/sentinel-nexus/sentinel/internal/repository"
)

// ErrExportDisabled is returned when no object store is configured.
var ErrExportDisabled = errors.New("reading export is not configured")

const defaultExportHours = 24

// Uploader stores an export and returns a download URL. cloud.S3Client
// implements it.
type Uploader interface {
	UploadExport(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type ExportRequest struct {
	DeviceID string `json:"device_id"`
	Hours    int    `json:"hours" validate:"omitempty,min=1,max=744"`
}

type ExportResult struct {
	Key   string `json:"key"`
	URL   string `json:"url"`
	Count int    `json:"count"`
}

// ExportService snapshots a window of readings to object storage.
type ExportService struct {
	store    repository.ReadingStore
	uploader Uploader
	now      func() time.Time
	timeout  time.Duration
	log      zerolog.Logger
}

func (s *ExportService) Enabled() bool { return s.uploader != nil }

// Export writes readings of the last Hours (default 24) as a JSON array,
// oldest first.
func (s *ExportService) Export(ctx context.Context, req ExportRequest) (ExportResult, error) {
	if s.uploader == nil {
		return ExportResult{}, ErrExportDisabled
	}
	if err := validateStruct(req); err != nil {
		return ExportResult{}, err
	}
	hours := req.Hours
	if hours == 0 {
		hours = defaultExportHours
	}
	device := deviceSelector(req.DeviceID)
	now := s.now().UTC()

	lctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	readings, err := s.store.List(lctx, domain.ReadingFilter{
		DeviceID: device,
		Since:    now.Add(-time.Duration(hours) * time.Hour),
		Order:    domain.Asc,
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return ExportResult{}, &domain.StoreError{Op: "export readings", Err: err}
	}
	if readings == nil {
		readings = []domain.Reading{}
	}

	body, err := json.Marshal(readings)
	if err != nil {
		return ExportResult{}, fmt.Errorf("marshal export: %w", err)
	}
	scope := device
	if scope == "" {
		scope = "all"
	}
	key := fmt.Sprintf("exports/%s/%s-%dh.json", scope, now.Format("20060102T150405Z"), hours)

	url, err := s.uploader.UploadExport(ctx, key, body, "application/json")
	if err != nil {
		return ExportResult{}, fmt.Errorf("upload export: %w", err)
	}
	s.log.Info().Str("key", key).Int("count", len(readings)).Msg("readings exported")
	return ExportResult{Key: key, URL: url, Count: len(readings)}, nil
}
