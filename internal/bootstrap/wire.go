package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"parley/internal/audio"
	"parley/internal/config"
	"parley/internal/domain"
	"parley/internal/events"
	"parley/internal/observability"
	"parley/internal/observability/logging"
	"parley/internal/observability/metrics"
	"parley/internal/ports"
	"parley/internal/providers/deepgram"
	"parley/internal/providers/google"
	"parley/internal/remote"
	"parley/internal/speech"
	"parley/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller    *usecase.TurnController
	Config        config.Config
	Client        *remote.Client
	Metrics       *metrics.Metrics
	Registry      *prometheus.Registry
	Publisher     *events.Publisher
	MetricsServer *observability.Server

	events  ports.EventSink
	logger  zerolog.Logger
	closers []func() error
}

// StartupReport summarizes the startup checks.
type StartupReport struct {
	Reachable bool
	Hydrated  int
}

// Build loads configuration and wires all backend dependencies.
func Build(ctx context.Context, eventSink ports.EventSink) (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return BuildWithConfig(ctx, cfg, eventSink)
}

// BuildWithConfig wires the runtime graph for cfg.
func BuildWithConfig(ctx context.Context, cfg config.Config, eventSink ports.EventSink) (*Services, error) {
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logger := logging.WithComponent("bootstrap")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}
	capture := audio.NewCapture(cfg.Audio.RecorderCommand, audioCfg)

	services := &Services{
		Config:   cfg,
		Metrics:  m,
		Registry: registry,
		events:   eventSink,
		logger:   logger,
	}

	provider, err := services.buildProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	recognizer := speech.NewRecognizer(capture, provider, speech.Config{
		Audio: audioCfg,
		Streaming: ports.StreamingConfig{
			SampleRate:     cfg.Audio.SampleRate,
			Channels:       cfg.Audio.Channels,
			Encoding:       "linear16",
			InterimResults: true,
		},
		ChunkSize:       cfg.Audio.ChunkSize,
		NoSpeechTimeout: cfg.Capture.NoSpeechTimeout,
	})

	services.Client = remote.NewClient(cfg.API.BaseURL, remote.WithHealthTimeout(cfg.API.HealthTimeout))
	services.Publisher = events.New(events.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		Enabled: cfg.Kafka.Enabled,
	}, m)
	services.closers = append(services.closers, services.Publisher.Close)

	retryLimit := cfg.Capture.RetryLimit
	if retryLimit == 0 {
		// The controller reads zero as "use the default".
		retryLimit = -1
	}
	services.Controller = usecase.NewTurnController(
		capture,
		recognizer,
		services.Client,
		eventSink,
		usecase.Config{
			RetryLimit:       retryLimit,
			RetryBackoff:     cfg.Capture.RetryBackoff,
			RequestTimeout:   cfg.API.RequestTimeout,
			StrictInvariants: cfg.Dev,
		},
		usecase.WithMetrics(m),
		usecase.WithPublisher(services.Publisher),
	)

	if cfg.Metrics.Addr != "" {
		services.MetricsServer = observability.NewServer(cfg.Metrics.Addr, registry, logging.WithComponent("observability"))
	}

	logger.Info().
		Str("sessionId", services.Controller.SessionID()).
		Str("recognizer", cfg.Recognizer.Provider).
		Str("apiBase", services.Client.BaseURL()).
		Str("configFile", cfg.Source).
		Bool("dev", cfg.Dev).
		Msg("Runtime assembled")
	return services, nil
}

func (s *Services) buildProvider(ctx context.Context, cfg config.Config) (ports.TranscriptionProvider, error) {
	switch cfg.Recognizer.Provider {
	case config.RecognizerGoogle:
		provider, err := google.NewProvider(ctx, google.Config{
			LanguageCode: cfg.Google.Language,
			Model:        cfg.Google.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("google recognizer: %w", err)
		}
		s.closers = append(s.closers, provider.Close)
		return provider, nil
	default:
		return deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
			Endpointing: cfg.Deepgram.Endpointing,
		}), nil
	}
}

// Startup runs the health probe and history hydration concurrently and
// starts the metrics server. Only a metrics listener failure is fatal.
func (s *Services) Startup(ctx context.Context) (StartupReport, error) {
	var report StartupReport
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ok, err := s.Client.Health(gctx)
		report.Reachable = ok
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Str("apiBase", s.Client.BaseURL()).Msg("Backend health probe failed")
		case !ok:
			s.logger.Warn().Str("apiBase", s.Client.BaseURL()).Msg("Backend reported unhealthy")
		}
		if !ok && s.events != nil {
			s.events.Notice(domain.Notice{
				Level:   domain.NoticeWarning,
				Code:    "backend_unreachable",
				Message: "Cannot reach the assistant at " + s.Client.BaseURL() + ".",
			})
		}
		return nil
	})

	if s.Config.API.HydrateHistory {
		g.Go(func() error {
			if err := s.Controller.HydrateHistory(gctx, s.Client, s.Config.API.HistoryLimit); err != nil {
				s.logger.Warn().Err(err).Msg("History hydration skipped")
				return nil
			}
			report.Hydrated = s.Controller.Status().HistoryLen
			return nil
		})
	}

	if s.MetricsServer != nil {
		g.Go(func() error {
			if err := s.MetricsServer.Start(); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	return report, err
}

// Close drains pending publishes and releases adapters.
func (s *Services) Close(ctx context.Context) error {
	if s.Controller != nil {
		s.Controller.Wait()
	}
	var errs []error
	if s.MetricsServer != nil {
		if err := s.MetricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
