package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// MQTTPublisher forwards events to <prefix>/<device_id> so other processes
// (the API relay, external consumers) can pick them up.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	origin string
	qos    byte
}

func NewMQTTPublisher(client mqtt.Client, prefix, origin string) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: strings.TrimSuffix(prefix, "/"), origin: origin}
}

func (p *MQTTPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(envelopeOf(ev, p.origin))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	token := p.client.Publish(p.prefix+"/"+ev.Reading.DeviceID, p.qos, false, payload)

	timeout := publishTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish timed out after %s", timeout)
	}
	return token.Error()
}

// Relay subscribes to the live topic and republishes foreign events into a
// local publisher, normally the Hub. Events carrying the relay's own origin
// were already delivered locally and are skipped.
type Relay struct {
	client mqtt.Client
	prefix string
	origin string
	local  Publisher
	log    zerolog.Logger
}

func NewRelay(client mqtt.Client, prefix, origin string, local Publisher, log zerolog.Logger) *Relay {
	return &Relay{client: client, prefix: strings.TrimSuffix(prefix, "/"), origin: origin, local: local, log: log}
}

// Start subscribes; delivery continues until Stop or client disconnect.
func (r *Relay) Start() error {
	topic := r.prefix + "/#"
	if token := r.client.Subscribe(topic, 0, r.onMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	r.log.Info().Str("topic", topic).Msg("live relay subscribed")
	return nil
}

func (r *Relay) Stop() {
	r.client.Unsubscribe(r.prefix + "/#").WaitTimeout(time.Second)
}

func (r *Relay) onMessage(_ mqtt.Client, m mqtt.Message) {
	r.handle(m.Topic(), m.Payload())
}

func (r *Relay) handle(topic string, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.log.Warn().Err(err).Str("topic", topic).Msg("dropping malformed live event")
		return
	}
	if env.Origin != "" && env.Origin == r.origin {
		return
	}
	if env.Event != EventReadingNew || env.Data.DeviceID == "" {
		r.log.Debug().Str("topic", topic).Str("event", env.Event).Msg("ignoring live event")
		return
	}
	if err := r.local.Publish(context.Background(), env.toEvent()); err != nil {
		r.log.Warn().Err(err).Msg("relay publish failed")
	}
}
