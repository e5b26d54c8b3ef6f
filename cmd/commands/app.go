package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dbtpilot/internal/agent"
	"github.com/dohr-michael/dbtpilot/internal/callbacks"
	"github.com/dohr-michael/dbtpilot/internal/config"
	"github.com/dohr-michael/dbtpilot/internal/dbtcloud"
	"github.com/dohr-michael/dbtpilot/internal/events"
	"github.com/dohr-michael/dbtpilot/internal/models"
	"github.com/dohr-michael/dbtpilot/internal/secrets"
	"github.com/dohr-michael/dbtpilot/internal/sessions"
	"github.com/dohr-michael/dbtpilot/internal/skills"
	"github.com/dohr-michael/dbtpilot/internal/storage"
	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

// logLevel is shared by the default logger; config and --debug adjust it.
var logLevel slog.LevelVar

func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel})))
	if cmd.Bool("debug") {
		logLevel.Set(slog.LevelDebug)
	}
	return ctx, nil
}

// applyLogLevel sets the level from config unless --debug forces it.
func applyLogLevel(debug bool, cfg *config.Config) {
	if debug {
		return
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Events.LogLevel)); err != nil {
		slog.Warn("invalid log level in config", "level", cfg.Events.LogLevel)
		return
	}
	logLevel.Set(lvl)
}

func loadOptions() []config.LoadOption {
	return []config.LoadOption{config.WithDecrypter(secrets.NewDecrypter(secrets.KeyPath()))}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"), loadOptions()...)
	if err != nil {
		return nil, err
	}
	applyLogLevel(cmd.Bool("debug"), cfg)
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (sessions.Store, func(), error) {
	switch cfg.Sessions.Backend {
	case "file":
		return sessions.NewFileStore(cfg.Sessions.Dir), func() {}, nil
	case "sqlite":
		store, err := sessions.NewSQLiteStore(ctx, cfg.Sessions.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Shutdown() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Sessions.Backend)
	}
}

// loadSkills returns the built-in skills overridden by the skills directory.
func loadSkills(cfg *config.Config) (*skills.Registry, error) {
	reg, err := skills.NewBuiltinRegistry()
	if err != nil {
		return nil, err
	}
	n, err := reg.LoadDir(cfg.Agent.SkillsDir)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		slog.Info("skills loaded", "dir", cfg.Agent.SkillsDir, "count", n)
	}
	reg.Freeze()
	return reg, nil
}

func newDbtClient(cfg *config.Config) *dbtcloud.Client {
	return dbtcloud.NewClient(dbtcloud.ClientConfig{
		Host:          cfg.Dbt.Host,
		Token:         cfg.Dbt.Token,
		AccountID:     cfg.Dbt.AccountID,
		EnvironmentID: cfg.Dbt.EnvironmentID,
		Retries:       cfg.Dbt.Retries,
		Timeout:       cfg.Dbt.Timeout.Duration(),
	})
}

// loadTools builds the full dbt tool catalog.
func loadTools(ctx context.Context, cfg *config.Config, client *dbtcloud.Client) (toolexec.ToolSet, error) {
	engine, err := dbtcloud.NewSearchEngine(ctx, cfg.Search)
	if err != nil {
		return nil, fmt.Errorf("docs search: %w", err)
	}
	catalog := dbtcloud.Catalog{
		Client: client,
		Hub:    dbtcloud.NewHub(nil, "", cfg.Search.MaxResults, cfg.Dbt.Retries),
		Docs:   engine,
	}
	return catalog.Tools(ctx)
}

// app holds everything a conversational command needs.
type app struct {
	cfg   *config.Config
	bus   *events.Bus
	perms *toolexec.Permissions
	svc   *agent.Service

	closers []func()
}

// newApp wires config, storage, tools, models and the orchestrator.
func newApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, bus: events.NewBus(cfg.Events.BufferSize)}
	a.closers = append(a.closers, a.bus.Close)
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if cfg.Events.Persist {
		logger := storage.NewEventLogger(config.LogsPath(), a.bus, cmd.Bool("debug"))
		a.closers = append(a.closers, logger.Close)
	}
	costs := storage.NewCostTracker(a.bus)
	a.closers = append(a.closers, costs.Close)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	reg, err := loadSkills(cfg)
	if err != nil {
		return nil, fmt.Errorf("load skills: %w", err)
	}

	client := newDbtClient(cfg)
	if !client.Configured() {
		slog.Warn("dbt Cloud token not set: account tools will fail until dbt.token is configured")
	}
	all, err := loadTools(ctx, cfg, client)
	if err != nil {
		return nil, err
	}
	a.perms = toolexec.NewPermissions(cfg.Tools.AllowedDangerous)
	toolSets, err := dbtcloud.SkillToolSets(all, reg, a.perms)
	if err != nil {
		return nil, err
	}

	modelReg := models.NewRegistry(cfg.Models, cfg.Agent.Models)
	responders, err := agent.NewResponders(ctx, reg, toolSets, modelReg.Picker(ctx),
		agent.WithCallbacks(callbacks.NewEventBusHandler(a.bus, events.SourceAgent)))
	if err != nil {
		return nil, fmt.Errorf("init assistants: %w", err)
	}

	orch, err := agent.New(agent.Config{
		Registry:    reg,
		Responders:  responders,
		Tools:       toolSets,
		Gateway:     toolexec.NewGateway(a.bus),
		SideContext: dbtcloud.NewAccountProvider(client),
		MaxSteps:    cfg.Agent.MaxSteps,
		Bus:         a.bus,
	})
	if err != nil {
		return nil, err
	}
	a.svc = agent.NewService(orch, store, a.bus, agent.WithUsage(costs))

	ok = true
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
