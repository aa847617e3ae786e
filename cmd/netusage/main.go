package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netusage/internal/api"
	"github.com/dmdmdm-nz/netusage/internal/counters"
	"github.com/dmdmdm-nz/netusage/internal/exporter"
	"github.com/dmdmdm-nz/netusage/internal/ifnames"
	"github.com/dmdmdm-nz/netusage/internal/monitor"
	"github.com/dmdmdm-nz/netusage/internal/render"
	"github.com/dmdmdm-nz/netusage/internal/runtime"
	"github.com/dmdmdm-nz/netusage/internal/usage"
	"github.com/dmdmdm-nz/netusage/pkg/cli"
)

func main() {
	os.Exit(run(cli.ParseFlags()))
}

// run returns the process exit code so deferred cleanup runs before exit.
func run(cfg *cli.Config) int {
	// Configure logging. stdout belongs to the console table.
	log.SetOutput(os.Stderr)
	setLogLevel(cfg.LogLevel)
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FullTimestamp:   true,
	})

	log.Debugf("Config: %s", cfg)

	kind, err := counters.ParseKind(cfg.Source)
	if err != nil {
		log.WithError(err).Error("Invalid counter source")
		return 2
	}

	src, rateSrc, err := counters.New(kind, counters.Options{
		Filter:      counters.NewFilter(cfg.Interfaces...),
		ProcPath:    cfg.ProcPath,
		NetstatPath: cfg.NetstatPath,
	})
	if err != nil {
		log.WithError(err).Error("Failed to create counter source")
		return 1
	}
	if c, ok := rateSrc.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				log.WithError(err).Warn("Failed to close counter source")
			}
		}()
	}

	labels, err := ifnames.LoadSystem()
	if err != nil {
		log.WithError(err).Debug("Interface labels unavailable")
		labels = ifnames.Labels{}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	streamOpts := usage.Options{Interval: cfg.Interval, MaxMalformed: cfg.MaxMalformed}
	monitorSvc := monitor.NewService(opener(src, rateSrc, streamOpts), cfg.Interval)

	tty := render.IsTTY(os.Stdout)
	console := render.NewConsole(render.ConsoleOptions{
		Out:    os.Stdout,
		Labels: labels,
		Redraw: tty,
		Color:  tty && !cfg.NoColor,
		Once:   cfg.Once,
	})

	// Subscribe consumers BEFORE starting the monitor so the first snapshot
	// is not missed.
	consoleCh, consoleUnsub := monitorSvc.Subscribe()

	super := runtime.NewSupervisor()
	super.Add("monitor", monitorSvc.Start, monitorSvc.Close)
	super.Add("console", func(ctx context.Context) error { return console.Run(ctx, consoleCh) }, func() error {
		consoleUnsub()
		return nil
	})

	if cfg.Listen != "" && !cfg.Once {
		exp := exporter.New(monitorSvc)
		apiSvc := api.NewService(monitorSvc, api.Options{
			Listen:    cfg.Listen,
			MaxConns:  cfg.MaxConns,
			Advertise: cfg.Advertise,
			Metrics:   exp.Gatherer(),
		})
		super.Add("exporter", exp.Start, exp.Close)
		super.Add("api", apiSvc.Start, apiSvc.Close)
	}

	if err := super.Start(ctx); err != nil {
		log.WithError(err).Error("Supervisor start failed")
		return 1
	}
	if err := super.Wait(); err != nil {
		log.WithError(err).Error("Network usage monitoring stopped")
		return 1
	}
	return 0
}

func opener(src counters.Source, rateSrc counters.RateSource, opts usage.Options) monitor.Opener {
	if rateSrc != nil {
		return func(ctx context.Context) (*usage.Stream, error) {
			return usage.OpenRates(ctx, rateSrc, opts)
		}
	}
	return func(ctx context.Context) (*usage.Stream, error) {
		return usage.Open(ctx, src, opts)
	}
}

func setLogLevel(level string) {
	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}
