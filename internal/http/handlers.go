package http

import (
	"bytes"
	"errors"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/sentinel-nexus/sentinel/internal/broadcast"
	"github.com/sentinel-nexus/sentinel/internal/domain"
	"github.com/sentinel-nexus/sentinel/internal/service"
)

const missingReadingFields = "device_id, energyWh and powerW are required"

type Handler struct {
	svcs *service.Services
	hub  *broadcast.Hub
	log  zerolog.Logger
}

// decodeBody unmarshals the JSON request body into v. An empty body leaves
// v untouched.
func decodeBody(c *fiber.Ctx, v interface{}) error {
	body := bytes.TrimSpace(c.Body())
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		return domain.NewValidationError("body", "malformed JSON: "+err.Error())
	}
	return nil
}

func (h *Handler) createReading(c *fiber.Ctx) error {
	var in service.ReadingInput
	if err := decodeBody(c, &in); err != nil {
		return h.fail(c, err, "Failed to create reading")
	}
	r, err := h.svcs.Ingestion.Submit(c.UserContext(), in)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) && missingRequired(verr) {
			return c.Status(fiber.StatusBadRequest).JSON(errorBody{Message: missingReadingFields, Fields: verr.Fields})
		}
		return h.fail(c, err, "Failed to create reading")
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

func missingRequired(verr *domain.ValidationError) bool {
	for _, f := range verr.Fields {
		if f.Reason == "is required" {
			return true
		}
	}
	return false
}

func (h *Handler) listReadings(c *fiber.Ctx) error {
	q := service.ReadingQuery{
		DeviceID: strings.TrimSpace(c.Query("device_id")),
		Limit:    c.QueryInt("limit", 0),
	}
	if strings.EqualFold(c.Query("order"), "asc") {
		q.Order = domain.Asc
	}
	readings, err := h.svcs.Query.ListReadings(c.UserContext(), q)
	if err != nil {
		return h.fail(c, err, "Failed to fetch readings")
	}
	return c.JSON(readings)
}

func (h *Handler) generateSample(c *fiber.Ctx) error {
	var req service.SampleRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, err, "Failed to generate sample data")
	}
	n, err := h.svcs.Ingestion.GenerateSample(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err, "Failed to generate sample data")
	}
	return c.JSON(fiber.Map{"ok": true, "inserted": n})
}

func (h *Handler) exportReadings(c *fiber.Ctx) error {
	var req service.ExportRequest
	if err := decodeBody(c, &req); err != nil {
		return h.fail(c, err, "Failed to export readings")
	}
	res, err := h.svcs.Export.Export(c.UserContext(), req)
	if err != nil {
		return h.fail(c, err, "Failed to export readings")
	}
	return c.JSON(res)
}

func (h *Handler) listDevices(c *fiber.Ctx) error {
	ds, err := h.svcs.Query.ListDevices(c.UserContext())
	if err != nil {
		return h.fail(c, err, "Failed to fetch devices")
	}
	return c.JSON(ds)
}

func (h *Handler) registerDevice(c *fiber.Ctx) error {
	var in service.DeviceInput
	if err := decodeBody(c, &in); err != nil {
		return h.fail(c, err, "Failed to register device")
	}
	d, err := h.svcs.Devices.Register(c.UserContext(), principal(c).UserID, in)
	if err != nil {
		return h.fail(c, err, "Failed to register device")
	}
	return c.Status(fiber.StatusCreated).JSON(d)
}

func (h *Handler) dashboard(c *fiber.Ctx) error {
	view, err := h.svcs.Query.Dashboard(c.UserContext(), strings.TrimSpace(c.Query("device_id")))
	if err != nil {
		return h.fail(c, err, "Failed to load dashboard")
	}
	view.Username = principal(c).Username
	return c.JSON(view)
}

func (h *Handler) insights(c *fiber.Ctx) error {
	view, err := h.svcs.Query.Insights(c.UserContext(), strings.TrimSpace(c.Query("device_id")))
	if err != nil {
		return h.fail(c, err, "Failed to load AI Insights")
	}
	view.Username = principal(c).Username
	return c.JSON(view)
}
