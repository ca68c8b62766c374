package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sentinel-nexus/sentinel/internal/broker"
	"github.com/sentinel-nexus/sentinel/internal/config"
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

	client, err := broker.Connect(broker.Options{
		Broker:   config.MQTTBroker(),
		ClientID: config.MQTTClientID() + "-simulator-" + uuid.NewString()[:8],
		Username: config.MQTTUsername(),
		Password: config.MQTTPassword(),
		CAFile:   config.MQTTCAFile(),
	}, 10*time.Second, logging.Component("mqtt"))
	if err != nil {
		log.Fatal().Err(err).Msg("mqtt connect failed")
	}
	defer client.Disconnect(250)

	devices := config.SimulatorDevices()
	if len(devices) == 0 {
		devices = []string{service.DefaultSampleDevice}
	}
	interval := config.SimulatorInterval()
	count := config.SimulatorCount()
	topic := config.MQTTReadingsTopic()

	gens := make([]*service.SampleGenerator, len(devices))
	for i, id := range devices {
		gens[i] = service.NewSampleGenerator(id, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(i))))
	}

	// One token per published reading, across all devices.
	limiter := rate.NewLimiter(rate.Limit(config.SimulatorRate()), 1)
	sent := 0
	for round := 0; count <= 0 || round < count; round++ {
		for _, g := range gens {
			if err := limiter.Wait(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("rate limiter")
				}
				log.Info().Int("sent", sent).Msg("simulation interrupted")
				return
			}
			r := g.Next(time.Now().UTC(), interval)
			payload, err := json.Marshal(r)
			if err != nil {
				log.Error().Err(err).Msg("marshal reading")
				continue
			}
			token := client.Publish(topic, 1, false, payload)
			if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
				log.Warn().Err(token.Error()).Str("device_id", r.DeviceID).Msg("publish failed")
				continue
			}
			sent++
			log.Debug().Str("device_id", r.DeviceID).Float64("energyWh", r.EnergyWh).Float64("powerW", r.PowerW).Msg("reading published")
		}
	}
	log.Info().Int("sent", sent).Msg("simulation done")
}
