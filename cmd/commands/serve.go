package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dbtpilot/internal/config"
	"github.com/dohr-michael/dbtpilot/internal/gateway"
	"github.com/dohr-michael/dbtpilot/internal/heartbeat"
	"github.com/dohr-michael/dbtpilot/internal/sessions"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the dbtpilot gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = int(cmd.Int("port"))
	}

	// SIGHUP re-reads .env and the config file. Log level and globally
	// approved tools apply live; other changes need a restart.
	reloader := config.NewReloader(cmd.String("config"), config.DotenvPath(), cfg, loadOptions()...)
	reloader.OnReload(func(_, next *config.Config) {
		applyLogLevel(cmd.Bool("debug"), next)
		a.perms.SetGlobal(next.Tools.AllowedDangerous)
	})
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloader.Watch(ctx, hup)

	server := gateway.NewServer(a.bus, a.svc, a.perms, cfg.Gateway.Host, cfg.Gateway.Port)

	hb := heartbeat.NewWriter(heartbeat.Path(), server.Addr(),
		heartbeat.WithSessionCount(func() int { return activeSessions(a.svc.Store()) }))
	hbCtx, stopBeat := context.WithCancel(ctx)
	beatDone := make(chan struct{})
	go func() {
		defer close(beatDone)
		hb.Run(hbCtx)
	}()
	defer func() {
		stopBeat()
		<-beatDone
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func activeSessions(store sessions.Store) int {
	list, err := store.List()
	if err != nil {
		return 0
	}
	n := 0
	for _, s := range list {
		if s.Status == sessions.SessionActive {
			n++
		}
	}
	return n
}
