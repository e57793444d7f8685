package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dimiro1/banner"
	"github.com/spf13/cobra"

	"github.com/sup1p/saubol/internal/config"
	"github.com/sup1p/saubol/internal/control"
	"github.com/sup1p/saubol/internal/job"
	"github.com/sup1p/saubol/internal/logging"
	"github.com/sup1p/saubol/internal/metrics"
	"github.com/sup1p/saubol/internal/stt"
	"github.com/sup1p/saubol/internal/summary"
	"github.com/sup1p/saubol/internal/vad"
	"github.com/sup1p/saubol/internal/version"
	"github.com/sup1p/saubol/internal/worker"
)

func NewServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription worker and control API",
		Long:  "Run the room worker manager, the HTTP control API and, when enabled, LiveKit agent dispatch. Stops every room on SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner()

			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logging.Init(cfg.LogLevel, cfg.LogJSON)

			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "config file (yaml, toml or json)")
	flags.String("url", "", "LiveKit server URL")
	flags.String("api-key", "", "LiveKit API key")
	flags.String("api-secret", "", "LiveKit API secret")
	flags.String("agent-name", "", "agent name used for dispatch and as participant name")
	flags.String("namespace", "", "agent dispatch namespace")
	flags.Bool("dispatch", false, "register as a LiveKit agent worker")
	flags.Int("max-jobs", 0, "maximum concurrently transcribed rooms")
	flags.Duration("drain-timeout", 0, "time allowed for rooms to stop on shutdown")
	flags.String("control-addr", "", "control API listen address")
	flags.String("pprof-addr", "", "pprof listen address (disabled when empty)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("stt-provider", "", "speech recognition provider: deepgram or scripted")
	flags.String("summary-output", "", "directory for transcript hand-off files")

	return cmd
}

func printBanner() {
	tpl := "{{ .Title \"saubol\" \"\" 0 }}\nVersion: " + version.Version + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info(logging.CategoryApp, "starting saubol %s", version.Full())

	provider, err := stt.New(cfg.STT.Provider, cfg.STT.Settings)
	if err != nil {
		return fmt.Errorf("creating stt provider: %w", err)
	}

	detector, err := vad.NewEnergyDetector(vad.EnergyConfig{
		Threshold:  cfg.VAD.Threshold,
		MinSilence: cfg.VAD.MinSilence,
		Smoothing:  cfg.VAD.Smoothing,
	}, func(ev vad.Event) {
		logging.Debug(logging.CategoryPipeline, "vad %s trackID=%s duration=%s", ev.Type, ev.TrackID, ev.Duration)
	})
	if err != nil {
		return fmt.Errorf("creating vad: %w", err)
	}

	header, err := summary.LoadHeader(cfg.Summary.HeaderFile)
	if err != nil {
		return fmt.Errorf("loading summary header: %w", err)
	}
	generators := summary.Multi{summary.FileWriter{Dir: cfg.Summary.OutputDir}}
	if cfg.Summary.WebhookURL != "" {
		generators = append(generators, summary.Webhook{URL: cfg.Summary.WebhookURL})
	}

	m := metrics.NewMetrics()
	runner := job.NewRunner(job.Deps{
		Config:  cfg,
		STT:     provider,
		VAD:     detector,
		Summary: generators,
		Header:  header,
		Metrics: m,
	})

	manager := worker.NewManager(context.Background(), func(ctx context.Context, req worker.Request) error {
		return runner.Run(ctx, req.JobID, req.Room, req.Token)
	}, worker.Options{
		MaxRooms: cfg.Agent.MaxConcurrentJobs,
		Metrics:  m,
	})

	server := control.NewServer(manager, control.Options{
		Addr:        cfg.Control.Addr,
		PProfAddr:   cfg.Control.PProfAddr,
		StopTimeout: cfg.Agent.DrainTimeout,
		Metrics:     m,
	})
	server.Start()

	if cfg.Agent.Dispatch {
		jobType, err := cfg.JobType()
		if err != nil {
			return err
		}
		dispatcher := worker.NewDispatcher(manager, worker.DispatcherOptions{
			URL:                cfg.LiveKit.URL,
			APIKey:             cfg.LiveKit.APIKey,
			APISecret:          cfg.LiveKit.APISecret,
			AgentName:          cfg.Agent.Name,
			Namespace:          cfg.Agent.Namespace,
			JobType:            jobType,
			LoadUpdateInterval: cfg.Agent.LoadUpdateInterval,
		})
		go func() {
			if err := dispatcher.Run(ctx); err != nil {
				logging.Error(logging.CategoryWorker, "agent dispatch stopped, shutting down: %v", err)
			}
			stop()
		}()
	}

	<-ctx.Done()
	logging.Info(logging.CategoryApp, "shutdown requested, draining rooms timeout=%s", cfg.Agent.DrainTimeout)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Agent.DrainTimeout)
	defer cancel()

	var shutdownErr error
	if err := manager.StopAll(drainCtx); err != nil {
		logging.Warning(logging.CategoryApp, "rooms did not drain cleanly: %v", err)
		shutdownErr = err
	}
	if err := server.Stop(drainCtx); err != nil {
		logging.Warning(logging.CategoryApp, "control server shutdown: %v", err)
	}

	logging.Info(logging.CategoryApp, "shutdown complete")
	return shutdownErr
}
