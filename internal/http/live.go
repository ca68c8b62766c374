package http

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/sentinel-nexus/sentinel/internal/broadcast"
	"github.com/sentinel-nexus/sentinel/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024

	liveDeviceKey = "live_device_id"
)

// liveFrame is one message on the live socket.
type liveFrame struct {
	Type string         `json:"type"`
	Data domain.Reading `json:"data"`
}

// upgrade rejects plain HTTP requests to the live endpoint.
func (h *Handler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals(liveDeviceKey, strings.TrimSpace(c.Query("device_id")))
	return c.Next()
}

// live streams reading:new events for the requested device, or all devices,
// until the client goes away or the hub shuts down.
func (h *Handler) live(conn *websocket.Conn) {
	deviceID, _ := conn.Locals(liveDeviceKey).(string)
	sub := h.hub.Subscribe(broadcast.DeviceFilter(deviceID))
	defer sub.Close()

	log := h.log.With().Str("subscriber", sub.ID()).Str("device_id", deviceID).Logger()
	log.Debug().Msg("live connection opened")

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		// Clients only send control frames; anything else is discarded.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Msg("unexpected live close")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			b, err := json.Marshal(liveFrame{Type: ev.Name, Data: ev.Reading})
			if err != nil {
				log.Error().Err(err).Msg("encode live frame")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			log.Debug().Msg("live connection closed")
			return
		}
	}
}
