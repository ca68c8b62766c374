package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sentinel-nexus/sentinel/internal/auth"
	"github.com/sentinel-nexus/sentinel/internal/broadcast"
	"github.com/sentinel-nexus/sentinel/internal/broker"
	"github.com/sentinel-nexus/sentinel/internal/cloud"
	"github.com/sentinel-nexus/sentinel/internal/config"
	"github.com/sentinel-nexus/sentinel/internal/database"
	httpHandlers "github.com/sentinel-nexus/sentinel/internal/http"
	"github.com/sentinel-nexus/sentinel/internal/logging"
	"github.com/sentinel-nexus/sentinel/internal/service"
)

const mqttConnectTimeout = 10 * time.Second

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.Setup(logging.Options{Level: config.LogLevel(), Format: config.LogFormat(), File: config.LogFile()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, closeStore, err := database.Open(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("driver", config.StoreDriver()).Msg("store open failed")
	}

	origin := "api-" + uuid.NewString()
	hub := broadcast.NewHub(logging.Component("hub"))
	fanout := broadcast.NewFanout(hub, broadcast.DefaultBreaker, logging.Component("fanout"))

	var (
		mqttClient mqtt.Client
		relay      atomic.Pointer[broadcast.Relay]
	)
	if config.MQTTLiveEnabled() {
		mqttClient, err = broker.Connect(broker.Options{
			Broker:   config.MQTTBroker(),
			ClientID: config.MQTTClientID() + "-" + origin,
			Username: config.MQTTUsername(),
			Password: config.MQTTPassword(),
			CAFile:   config.MQTTCAFile(),
			OnConnect: func(mqtt.Client) {
				// Subscriptions do not survive a clean-session reconnect.
				if r := relay.Load(); r != nil {
					if err := r.Start(); err != nil {
						log.Error().Err(err).Msg("live relay resubscribe failed")
					}
				}
			},
		}, mqttConnectTimeout, logging.Component("mqtt"))
		if err != nil {
			log.Fatal().Err(err).Msg("mqtt connect failed")
		}
		fanout.AddSink("mqtt", broadcast.NewMQTTPublisher(mqttClient, config.MQTTLiveTopic(), origin))

		r := broadcast.NewRelay(mqttClient, config.MQTTLiveTopic(), origin, hub, logging.Component("relay"))
		relay.Store(r)
		if err := r.Start(); err != nil {
			log.Fatal().Err(err).Msg("live relay start failed")
		}
	}

	opts := service.Options{
		StoreTimeout:    config.StoreTimeout(),
		DefaultLimit:    config.ReadingsDefaultLimit(),
		MaxLimit:        config.ReadingsMaxLimit(),
		DashboardWindow: config.DashboardWindow(),
		SampleMaxPoints: config.SampleMaxPoints(),
		DemoDevices:     config.DemoDevices(),
		Logger:          log.Logger,
	}
	if config.UseCloudServices() {
		if arn := config.SNSTopicArn(); arn != "" {
			snsClient, err := cloud.NewSNSClient(ctx, config.AWSRegion(), arn)
			if err != nil {
				log.Fatal().Err(err).Msg("sns client init failed")
			}
			fanout.AddSink("sns", broadcast.NewSNSPublisher(snsClient, origin))
		}
		if bucket := config.S3Bucket(); bucket != "" {
			s3Client, err := cloud.NewS3Client(ctx, config.AWSRegion(), bucket)
			if err != nil {
				log.Fatal().Err(err).Msg("s3 client init failed")
			}
			opts.Uploader = s3Client
		}
	}
	svcs := service.New(repos, fanout, opts)

	var verifier *auth.Verifier
	if secret := config.JWTSecret(); secret != "" {
		verifier = auth.NewVerifier(secret, config.JWTIssuer())
	} else {
		log.Warn().Msg("AUTH_JWT_SECRET not set; pages are served to anonymous users")
	}

	app := httpHandlers.NewApp(httpHandlers.Deps{
		Services:    svcs,
		Hub:         hub,
		Verifier:    verifier,
		Cookie:      config.AuthCookie(),
		CORSOrigins: config.CORSOrigins(),
		Logger:      logging.Component("http"),
	})

	serverErr := make(chan error, 1)
	go func() {
		addr := config.APIAddr()
		log.Info().Str("addr", addr).Str("origin", origin).Msg("api listening")
		serverErr <- app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown server ...")
	case err := <-serverErr:
		log.Error().Err(err).Msg("server exit")
	}

	if err := app.ShutdownWithTimeout(config.ShutdownTimeout()); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if r := relay.Load(); r != nil {
		r.Stop()
	}
	hub.Close()
	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}

	sctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout())
	defer cancel()
	if err := closeStore(sctx); err != nil {
		log.Error().Err(err).Msg("store close failed")
	}
	log.Info().Msg("api stopped")
}
