package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sentinel-nexus/sentinel/internal/broadcast"
	"github.com/sentinel-nexus/sentinel/internal/broker"
	"github.com/sentinel-nexus/sentinel/internal/cloud"
	"github.com/sentinel-nexus/sentinel/internal/config"
	"github.com/sentinel-nexus/sentinel/internal/database"
	"github.com/sentinel-nexus/sentinel/internal/domain"
	"github.com/sentinel-nexus/sentinel/internal/logging"
	"github.com/sentinel-nexus/sentinel/internal/service"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.Setup(logging.Options{Level: config.LogLevel(), Format: config.LogFormat(), File: config.LogFile()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, closeStore, err := database.Open(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("store open failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout())
		defer cancel()
		if err := closeStore(sctx); err != nil {
			log.Error().Err(err).Msg("store close failed")
		}
	}()

	origin := "ingestor-" + uuid.NewString()
	topic := config.MQTTReadingsTopic()
	// Messages that arrive while the sinks are still being wired wait here.
	ready := make(chan struct{})
	var handler mqtt.MessageHandler

	client, err := broker.Connect(broker.Options{
		Broker:   config.MQTTBroker(),
		ClientID: config.MQTTClientID() + "-" + origin,
		Username: config.MQTTUsername(),
		Password: config.MQTTPassword(),
		CAFile:   config.MQTTCAFile(),
		OnConnect: func(c mqtt.Client) {
			if token := c.Subscribe(topic, 1, func(c mqtt.Client, m mqtt.Message) {
				<-ready
				handler(c, m)
			}); token.Wait() && token.Error() != nil {
				log.Error().Err(token.Error()).Str("topic", topic).Msg("subscribe failed")
				return
			}
			log.Info().Str("topic", topic).Msg("subscribed")
		},
	}, 10*time.Second, logging.Component("mqtt"))
	if err != nil {
		log.Fatal().Err(err).Msg("mqtt connect failed")
	}
	defer client.Disconnect(250)

	fanout := broadcast.NewFanout(broadcast.Discard, broadcast.DefaultBreaker, logging.Component("fanout"))
	if config.MQTTLiveEnabled() {
		fanout.AddSink("mqtt", broadcast.NewMQTTPublisher(client, config.MQTTLiveTopic(), origin))
	}
	if config.UseCloudServices() && config.SNSTopicArn() != "" {
		snsClient, err := cloud.NewSNSClient(ctx, config.AWSRegion(), config.SNSTopicArn())
		if err != nil {
			log.Fatal().Err(err).Msg("sns client init failed")
		}
		fanout.AddSink("sns", broadcast.NewSNSPublisher(snsClient, origin))
	}

	svcs := service.New(repos, fanout, service.Options{
		StoreTimeout: config.StoreTimeout(),
		Logger:       log.Logger,
	})

	handler = func(_ mqtt.Client, msg mqtt.Message) {
		r, err := svcs.Ingestion.FromMQTT(ctx, msg.Topic(), msg.Payload())
		switch {
		case domain.IsValidation(err):
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("reading rejected")
		case err != nil:
			log.Error().Err(err).Str("topic", msg.Topic()).Msg("ingest failed")
		default:
			log.Debug().Str("device_id", r.DeviceID).Str("reading_id", r.ID).Msg("reading ingested")
		}
	}

	close(ready)

	log.Info().Str("origin", origin).Msg("ingestor running; Ctrl+C to stop")
	<-ctx.Done()
	log.Info().Msg("ingestor stopping")
}
