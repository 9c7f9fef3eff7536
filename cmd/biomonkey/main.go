package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"biomonkey/internal/config"
	"biomonkey/internal/vegetation"
)

func main() {
	var (
		cfgPath    string
		duration   time.Duration
		orbit      float64
		speed      float64
		previewDir string
	)
	flag.StringVar(&cfgPath, "config", "", "path to configuration file (.json, .yaml or .toml)")
	flag.DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	flag.Float64Var(&orbit, "orbit", 256, "radius of the simulated viewer's orbit around the origin (0 walks along +x)")
	flag.Float64Var(&speed, "speed", 8, "simulated viewer speed in world units per second")
	flag.StringVar(&previewDir, "preview-dir", "", "write a PNG of the page under the viewer here on exit")
	flag.Parse()

	if _, err := writeConfigFromEnv(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "sync config: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, cancel := signalContext(logger)
	defer cancel()
	if duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, duration)
		defer stop()
	}

	path := viewerPath{Radius: orbit, Speed: speed}
	if err := run(ctx, cfg, logger, path, previewDir); err != nil {
		logger.WithError(err).Error("biomonkey exited with error")
		closeLog()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, path viewerPath, previewDir string) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := vegetation.NewEngine(cfg, vegetation.EngineOptions{Logger: logger, Registerer: registry})
	if err != nil {
		return fmt.Errorf("initialise engine: %w", err)
	}
	if err := engine.Init(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Listen != "" {
		metricsServer = serveMetrics(cfg.Metrics.Listen, registry, logger)
	}

	x, z, loopErr := tickLoop(ctx, cfg, engine, logger, path)

	if previewDir != "" {
		if file, err := savePreviewAt(engine, cfg.Paging.PageSize, x, z, previewDir); err != nil {
			logger.WithError(err).Warn("preview not written")
		} else {
			logger.WithField("file", file).Info("preview written")
		}
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("metrics server shutdown")
		}
	}
	return errors.Join(loopErr, engine.Shutdown())
}

// tickLoop drives the engine at the configured tick rate until ctx ends and
// returns the viewer's final position.
func tickLoop(ctx context.Context, cfg *config.Config, engine *vegetation.Engine, logger logrus.FieldLogger, path viewerPath) (float64, float64, error) {
	rate := cfg.Paging.TickRate.Duration()
	if rate <= 0 {
		rate = 33 * time.Millisecond
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	report := time.NewTicker(10 * time.Second)
	defer report.Stop()

	start := time.Now()
	last := start
	x, z := path.At(0)
	for {
		select {
		case <-ctx.Done():
			return x, z, nil
		case <-report.C:
			stats := engine.Manager().Stats()
			logger.WithFields(logrus.Fields{
				"x":         math.Round(x),
				"z":         math.Round(z),
				"pages":     stats.Pages,
				"loaded":    stats.Loaded,
				"pending":   stats.Pending,
				"instances": stats.Instances,
			}).Info("paging status")
		case now := <-ticker.C:
			tpf := now.Sub(last).Seconds()
			last = now
			x, z = path.At(now.Sub(start).Seconds())
			if err := engine.Update(tpf, x, z); err != nil {
				return x, z, fmt.Errorf("update at (%.1f, %.1f): %w", x, z, err)
			}
		}
	}
}

// viewerPath moves a simulated viewer on a circle around the origin, or along
// the x axis when Radius is zero.
type viewerPath struct {
	Radius float64
	Speed  float64
}

func (p viewerPath) At(elapsed float64) (float64, float64) {
	travelled := p.Speed * elapsed
	if p.Radius <= 0 {
		return travelled, 0
	}
	angle := travelled / p.Radius
	return p.Radius * math.Cos(angle), p.Radius * math.Sin(angle)
}

func savePreviewAt(engine *vegetation.Engine, pageSize, x, z float64, dir string) (string, error) {
	px := int(math.Floor(x / pageSize))
	pz := int(math.Floor(z / pageSize))
	return engine.SavePreview(px, pz, dir)
}

func newLogger(cfg config.LogConfig) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := logrus.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, err
		}
		level = parsed
	}
	logger.SetLevel(level)

	if cfg.File == "" {
		logger.SetOutput(os.Stdout)
		return logger, func() {}, nil
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
	}
	logger.SetOutput(rotator)
	return logger, func() { _ = rotator.Close() }, nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.WithField("addr", addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}

func signalContext(logger logrus.FieldLogger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			return
		}

		// Ensure the process terminates if shutdown stalls.
		time.AfterFunc(10*time.Second, func() {
			logger.Error("forced shutdown after timeout")
			os.Exit(1)
		})
	}()

	return ctx, cancel
}
