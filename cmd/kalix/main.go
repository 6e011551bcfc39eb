package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"kalix/internal/api"
	"kalix/internal/session"
	"kalix/pkg/config"
	"kalix/pkg/logger"
	"kalix/pkg/metrics"
	"kalix/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.InitWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		logger.Warn("failed to init telemetry", "error", err)
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("failed to shutdown telemetry", "error", err)
			}
		}()
	}

	m := metrics.InitMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem)
	m.SetServiceInfo(cfg.App.Version, cfg.App.Environment)
	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartMetricsServer(cfg.Metrics.Port); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "get-api":
		schema, err := api.CLISchemaJSON(cfg.App.Version)
		if err != nil {
			logger.Fatal("failed to render CLI schema", "error", err)
		}
		fmt.Println(schema)

	case "new-session":
		if err := runSession(ctx, cfg); err != nil {
			logger.Fatal("session failed", "error", err)
		}

	case "simulate", "optimise":
		// Model files and their parsing live in the frontend
		// integrations; the engine binary executes models shipped over
		// the session protocol.
		fmt.Fprintf(os.Stderr,
			"'%s' requires a model-file frontend; use 'new-session' and send the model over the protocol\n",
			os.Args[1])
		os.Exit(2)

	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kalix <simulate|optimise|new-session|get-api>")
}

// runSession wires the engine commands onto a stdio session.
func runSession(ctx context.Context, cfg *config.Config) error {
	transport := newStdioTransport(os.Stdin, os.Stdout)
	s := session.New(transport)

	s.Register(session.CommandSpec{
		Name:        "run_simulation",
		Description: "Run a model and return recorded series",
		Parameters: []session.ParameterSpec{
			{Name: "model", Type: "object", Required: true},
		},
		Interruptible: false,
	}, func(cmdCtx *session.CommandContext, params json.RawMessage) (any, error) {
		ctx, span := telemetry.StartSpan(ctx, "run_simulation")
		defer span.End()
		result, err := handleRunSimulation(cfg, params)
		if err != nil {
			telemetry.SetError(ctx, err)
		}
		s.State().ModelLoaded = err == nil
		now := time.Now().UTC().Format(time.RFC3339)
		s.State().LastSimulation = &now
		return result, err
	})

	s.Register(session.CommandSpec{
		Name:        "run_optimisation",
		Description: "Calibrate model parameters against observed data",
		Parameters: []session.ParameterSpec{
			{Name: "model", Type: "object", Required: true},
			{Name: "parameters", Type: "array", Required: true},
			{Name: "objective", Type: "string", Required: true},
			{Name: "observed_series", Type: "string", Required: true},
			{Name: "simulated_series", Type: "string", Required: true},
		},
		Interruptible: true,
	}, func(cmdCtx *session.CommandContext, params json.RawMessage) (any, error) {
		ctx, span := telemetry.StartSpan(ctx, "run_optimisation")
		defer span.End()
		result, err := handleRunOptimisation(cfg, cmdCtx, params)
		if err != nil {
			telemetry.SetError(ctx, err)
		} else {
			telemetry.SetAttributes(ctx,
				attribute.Float64("best_objective", result.BestObjective))
		}
		return result, err
	})

	logger.WithSession(s.ID()).Info("session started")
	return s.Run()
}
