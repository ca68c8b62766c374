package broadcast

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
)

// SNSAPI is satisfied by cloud.SNSClient.
type SNSAPI interface {
	PublishEvent(ctx context.Context, event, deviceID string, body []byte) (string, error)
}

// SNSPublisher forwards events to an SNS topic.
type SNSPublisher struct {
	api    SNSAPI
	origin string
}

func NewSNSPublisher(api SNSAPI, origin string) *SNSPublisher {
	return &SNSPublisher{api: api, origin: origin}
}

func (p *SNSPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(envelopeOf(ev, p.origin))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = p.api.PublishEvent(ctx, ev.Name, ev.Reading.DeviceID, body)
	return err
}
