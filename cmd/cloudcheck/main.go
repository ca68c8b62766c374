// Command cloudcheck verifies the AWS wiring of a deployment: it writes and
// reads back a reading through DynamoDB, uploads a small export to S3 and
// publishes a test event to SNS. The S3 and SNS checks are skipped when no
// bucket or topic is configured.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/sentinel-nexus/sentinel/internal/broadcast"
	"github.com/sentinel-nexus/sentinel/internal/cloud"
	"github.com/sentinel-nexus/sentinel/internal/config"
	"github.com/sentinel-nexus/sentinel/internal/domain"
	"github.com/sentinel-nexus/sentinel/internal/logging"
)

const checkDevice = "DEV-CLOUDCHECK"

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.Setup(logging.Options{Level: config.LogLevel(), Format: config.LogFormat()})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	region := config.AWSRegion()
	probe := domain.Reading{DeviceID: checkDevice, EnergyWh: 1, PowerW: 1, Timestamp: time.Now().UTC()}

	failed := 0
	run := func(name string, check func() error) {
		l := log.With().Str("check", name).Logger()
		if err := check(); err != nil {
			failed++
			l.Error().Err(err).Msg("failed")
			return
		}
		l.Info().Msg("passed")
	}

	run("dynamodb", func() error {
		store, err := cloud.NewDynamoStore(ctx, region, config.DynamoReadingsTable(), config.DynamoDevicesTable())
		if err != nil {
			return err
		}
		r := probe
		if err := store.Insert(ctx, &r); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		got, err := store.List(ctx, domain.ReadingFilter{DeviceID: checkDevice, Limit: 1})
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		if len(got) == 0 || got[0].ID != r.ID {
			return fmt.Errorf("inserted reading %s not returned first", r.ID)
		}
		return nil
	})

	if bucket := config.S3Bucket(); bucket != "" {
		run("s3", func() error {
			client, err := cloud.NewS3Client(ctx, region, bucket)
			if err != nil {
				return err
			}
			body, err := json.Marshal([]domain.Reading{probe})
			if err != nil {
				return err
			}
			url, err := client.UploadExport(ctx, "exports/cloudcheck/"+probe.Timestamp.Format("20060102T150405Z")+".json", body, "application/json")
			if err != nil {
				return err
			}
			log.Info().Str("url", url).Msg("export uploaded")
			return nil
		})
	}

	if arn := config.SNSTopicArn(); arn != "" {
		run("sns", func() error {
			client, err := cloud.NewSNSClient(ctx, region, arn)
			if err != nil {
				return err
			}
			return broadcast.NewSNSPublisher(client, "cloudcheck").Publish(ctx, broadcast.NewReadingEvent(probe))
		})
	}

	if failed > 0 {
		log.Error().Int("failed", failed).Msg("cloud checks failed")
		os.Exit(1)
	}
	log.Info().Msg("all cloud checks passed")
}
