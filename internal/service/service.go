package service

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/sentinel-nexus/sentinel/internal/broadcast"
	"github.com/sentinel-nexus/sentinel/internal/repository"
)

// Options tunes the services. Zero fields take the values of DefaultOptions.
type Options struct {
	StoreTimeout    time.Duration
	DefaultLimit    int
	MaxLimit        int
	DashboardWindow time.Duration
	SampleMaxPoints int
	DemoDevices     []string
	Insights        *InsightSources
	Uploader        Uploader
	Clock           func() time.Time
	Logger          zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		StoreTimeout:    5 * time.Second,
		DefaultLimit:    100,
		MaxLimit:        1000,
		DashboardWindow: 24 * time.Hour,
		SampleMaxPoints: 5000,
		DemoDevices:     []string{"DEV-001", "DEV-002", "DEV-003"},
		Clock:           time.Now,
		Logger:          zerolog.Nop(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = d.StoreTimeout
	}
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = d.DefaultLimit
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = d.MaxLimit
	}
	if o.DefaultLimit > o.MaxLimit {
		o.DefaultLimit = o.MaxLimit
	}
	if o.DashboardWindow <= 0 {
		o.DashboardWindow = d.DashboardWindow
	}
	if o.SampleMaxPoints <= 0 {
		o.SampleMaxPoints = d.SampleMaxPoints
	}
	if o.DemoDevices == nil {
		o.DemoDevices = d.DemoDevices
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	return o
}

type Services struct {
	Repos     *repository.Repos
	Ingestion *IngestionService
	Query     *QueryService
	Devices   *DeviceService
	Export    *ExportService
}

// New wires the services around repos. pub receives every reading:new
// event; pass broadcast.Discard when nobody listens.
func New(repos *repository.Repos, pub broadcast.Publisher, opts Options) *Services {
	opts = opts.withDefaults()
	if pub == nil {
		pub = broadcast.Discard
	}
	sources := MockSources(NewMockInsights(opts.Clock))
	if opts.Insights != nil {
		sources = *opts.Insights
	}
	log := opts.Logger

	return &Services{
		Repos: repos,
		Ingestion: &IngestionService{
			store:     repos.Readings,
			pub:       pub,
			now:       opts.Clock,
			timeout:   opts.StoreTimeout,
			maxPoints: opts.SampleMaxPoints,
			rand:      defaultRand,
			log:       log.With().Str("component", "ingestion").Logger(),
		},
		Query: &QueryService{
			repos:        repos,
			now:          opts.Clock,
			timeout:      opts.StoreTimeout,
			defaultLimit: opts.DefaultLimit,
			maxLimit:     opts.MaxLimit,
			window:       opts.DashboardWindow,
			demo:         opts.DemoDevices,
			sources:      sources,
			log:          log.With().Str("component", "query").Logger(),
		},
		Devices: &DeviceService{
			devices: repos.Devices,
			now:     opts.Clock,
			timeout: opts.StoreTimeout,
		},
		Export: &ExportService{
			store:    repos.Readings,
			uploader: opts.Uploader,
			now:      opts.Clock,
			timeout:  opts.StoreTimeout,
			log:      log.With().Str("component", "export").Logger(),
		},
	}
}
