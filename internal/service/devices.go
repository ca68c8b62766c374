package service

import (
	"context"
	"strings"
	"time"

	"github.com/sentinel-nexus/sentinel/internal/domain"
	"github.com/sentinel-nexus/sentinel/internal/repository"
)

// DeviceInput registers or updates a device owned by the caller.
type DeviceInput struct {
	DeviceID string `json:"device_id" validate:"required,max=128"`
	Name     string `json:"name" validate:"max=128"`
	Type     string `json:"type" validate:"omitempty,oneof=meter inverter battery"`
	Status   string `json:"status" validate:"omitempty,oneof=online offline"`
}

type DeviceService struct {
	devices repository.DeviceRegistry
	now     func() time.Time
	timeout time.Duration
}

// Register upserts the device for ownerID and returns the stored record.
func (s *DeviceService) Register(ctx context.Context, ownerID string, in DeviceInput) (domain.Device, error) {
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	in.Name = strings.TrimSpace(in.Name)
	if err := validateStruct(in); err != nil {
		return domain.Device{}, err
	}

	d := domain.Device{
		DeviceID: in.DeviceID,
		UserID:   ownerID,
		Name:     in.Name,
		Type:     domain.DeviceType(in.Type),
		Status:   domain.DeviceStatus(in.Status),
	}
	d.ApplyDefaults(s.now().UTC())

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.devices.UpsertDevice(ctx, d); err != nil {
		return domain.Device{}, &domain.StoreError{Op: "upsert device", Err: err}
	}
	stored, err := s.devices.GetDevice(ctx, d.DeviceID)
	if err != nil {
		return domain.Device{}, &domain.StoreError{Op: "get device", Err: err}
	}
	return stored, nil
}
