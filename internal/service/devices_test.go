package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-nexus/sentinel/internal/domain"
	"github.com/sentinel-nexus/sentinel/internal/repository"
)

func TestRegisterDeviceDefaults(t *testing.T) {
	svcs := newTestServices(t, repository.NewMemory(), nil)

	d, err := svcs.Devices.Register(context.Background(), "user-1", DeviceInput{DeviceID: " DEV-010 "})
	require.NoError(t, err)
	assert.Equal(t, domain.Device{
		DeviceID:     "DEV-010",
		UserID:       "user-1",
		Name:         domain.DefaultDeviceName,
		Type:         domain.DeviceMeter,
		Status:       domain.StatusOffline,
		RegisteredAt: fixedNow,
	}, d)
}

func TestRegisterDeviceKeepsRegistrationTime(t *testing.T) {
	repos := repository.NewMemory()
	svcs := newTestServices(t, repos, nil)
	ctx := context.Background()
	require.NoError(t, repos.Devices.UpsertDevice(ctx, domain.Device{DeviceID: "BAT-1", RegisteredAt: fixedNow.Add(-72 * time.Hour)}))

	d, err := svcs.Devices.Register(ctx, "user-2", DeviceInput{DeviceID: "BAT-1", Name: "Garage battery", Type: "battery", Status: "online"})
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(-72*time.Hour), d.RegisteredAt)
	assert.Equal(t, domain.DeviceBattery, d.Type)
	assert.Equal(t, domain.StatusOnline, d.Status)
	assert.Equal(t, "Garage battery", d.Name)
}

func TestRegisterDeviceValidation(t *testing.T) {
	svcs := newTestServices(t, repository.NewMemory(), nil)
	for _, in := range []DeviceInput{
		{},
		{DeviceID: "X", Type: "fridge"},
		{DeviceID: "X", Status: "sleeping"},
		{DeviceID: strings.Repeat("x", 129)},
	} {
		_, err := svcs.Devices.Register(context.Background(), "u", in)
		assert.True(t, domain.IsValidation(err), "%+v", in)
	}
}

type fakeUploader struct {
	key         string
	body        []byte
	contentType string
	err         error
}

func (u *fakeUploader) UploadExport(_ context.Context, key string, data []byte, contentType string) (string, error) {
	u.key, u.body, u.contentType = key, data, contentType
	if u.err != nil {
		return "", u.err
	}
	return "https://exports.example.test/" + key, nil
}

func TestExportDisabled(t *testing.T) {
	svcs := newTestServices(t, repository.NewMemory(), nil)
	assert.False(t, svcs.Export.Enabled())

	_, err := svcs.Export.Export(context.Background(), ExportRequest{})
	assert.ErrorIs(t, err, ErrExportDisabled)
}

func TestExportWindow(t *testing.T) {
	repos := repository.NewMemory()
	seedReadings(t, repos,
		domain.Reading{DeviceID: "DEV-001", EnergyWh: 2, Timestamp: fixedNow.Add(-time.Hour)},
		domain.Reading{DeviceID: "DEV-001", EnergyWh: 1, Timestamp: fixedNow.Add(-2 * time.Hour)},
		domain.Reading{DeviceID: "DEV-002", EnergyWh: 9, Timestamp: fixedNow.Add(-30 * time.Minute)},
		domain.Reading{DeviceID: "DEV-001", EnergyWh: 0, Timestamp: fixedNow.Add(-5 * time.Hour)},
	)
	up := &fakeUploader{}
	opts := DefaultOptions()
	opts.Clock = func() time.Time { return fixedNow }
	opts.Uploader = up
	svcs := New(repos, nil, opts)
	require.True(t, svcs.Export.Enabled())

	res, err := svcs.Export.Export(context.Background(), ExportRequest{DeviceID: "DEV-001", Hours: 3})
	require.NoError(t, err)
	assert.Equal(t, "exports/DEV-001/20250601T120000Z-3h.json", res.Key)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, "https://exports.example.test/"+res.Key, res.URL)
	assert.Equal(t, "application/json", up.contentType)

	var body []domain.Reading
	require.NoError(t, json.Unmarshal(up.body, &body))
	require.Len(t, body, 2)
	assert.Equal(t, 1.0, body[0].EnergyWh)
	assert.Equal(t, 2.0, body[1].EnergyWh)

	res, err = svcs.Export.Export(context.Background(), ExportRequest{})
	require.NoError(t, err)
	assert.Equal(t, "exports/all/20250601T120000Z-24h.json", res.Key)
	assert.Equal(t, 4, res.Count)

	_, err = svcs.Export.Export(context.Background(), ExportRequest{Hours: 1000})
	assert.True(t, domain.IsValidation(err))

	up.err = errors.New("access denied")
	_, err = svcs.Export.Export(context.Background(), ExportRequest{})
	assert.ErrorContains(t, err, "access denied")
}
