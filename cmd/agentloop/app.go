package main

import (
	"context"
	"fmt"

	"github.com/zcox/eventagent/config"
	"github.com/zcox/eventagent/engine"
	"github.com/zcox/eventagent/eventlog"
	"github.com/zcox/eventagent/eventlog/postgres"
	"github.com/zcox/eventagent/model"
	"github.com/zcox/eventagent/telemetry"
	"github.com/zcox/eventagent/tools"
	"github.com/zcox/eventagent/tools/builtin"

	_ "github.com/zcox/eventagent/model/anthropic"
	_ "github.com/zcox/eventagent/model/bedrock"
	_ "github.com/zcox/eventagent/model/gemini"
	_ "github.com/zcox/eventagent/model/openai"
)

// app bundles everything a subcommand needs: the loaded config, the event
// log connection, and the category/version this invocation targets. Each
// subcommand that drives the processing loop builds its own Engine from app.newEngine once it knows which
// thread (if any) it is operating on, since the tool registry's builtin
// display tools are bound to one thread's side-stream.
type app struct {
	cfg      config.Config
	client   eventlog.Client
	category string
	version  string
}

func newApp(cfgPath, category, version string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	client, err := postgres.Connect(context.Background(), postgres.Config{
		Host:     cfg.EventLog.Host,
		Port:     cfg.EventLog.Port,
		Database: cfg.EventLog.Database,
		User:     cfg.EventLog.User,
		Password: cfg.EventLog.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connect event log: %w", err)
	}

	return &app{cfg: cfg, client: client, category: category, version: version}, nil
}

func (a *app) close() {
	a.client.Close()
}

// newEngine builds an Engine whose tool registry's builtin display tools
// (if threadID is non-empty) are bound to that thread. Pass an empty
// threadID for an engine that never invokes the processing loop (start's
// bootstrap engine, which only creates the session).
func (a *app) newEngine(threadID string) (*engine.Engine, error) {
	modelClient, err := model.NewClient(a.cfg.Model.Provider, a.cfg.Model.Name)
	if err != nil {
		return nil, fmt.Errorf("build model client: %w", err)
	}

	registry := tools.NewRegistry()
	if threadID != "" {
		if err := builtin.RegisterDisplayTools(registry, a.client, threadID); err != nil {
			return nil, fmt.Errorf("register display tools: %w", err)
		}
	}

	logger := telemetry.NewNoopLogger()
	metrics := telemetry.NewNoopMetrics()
	tracer := telemetry.NewNoopTracer()
	if a.cfg.Processing.EnableTracing {
		logger = telemetry.NewClueLogger()
		metrics = telemetry.NewClueMetrics()
		tracer = telemetry.NewClueTracer()
	}

	return engine.New(engine.Config{
		Category:      a.category,
		Version:       a.version,
		Client:        a.client,
		Model:         modelClient,
		Tools:         registry,
		MaxIterations: a.cfg.Processing.MaxIterations,
		MaxRetries:    a.cfg.Processing.MaxRetries,
		Logger:        logger,
		Metrics:       metrics,
		Tracer:        tracer,
	})
}
