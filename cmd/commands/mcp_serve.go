package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dbtpilot/internal/mcp"
)

// NewMCPServeCommand returns the mcp-serve subcommand.
func NewMCPServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp-serve",
		Usage: "Expose the dbt tools as an MCP server (stdio, or HTTP with --listen)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Serve the streamable HTTP transport on this address (e.g. 127.0.0.1:18431) instead of stdio",
			},
		},
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:      "filter",
				UsageText: "Skill or tool name to expose (empty = all)",
			},
		},
		Action: runMCPServe,
	}
}

func runMCPServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	listen := cmd.String("listen")
	// stdout carries the stdio transport.
	if listen == "" && !cmd.Bool("debug") {
		logLevel.Set(slog.LevelWarn)
	}
	reg, err := loadSkills(cfg)
	if err != nil {
		return err
	}
	// MCP clients confirm tool calls themselves, so tools are not guarded.
	all, err := loadTools(ctx, cfg, newDbtClient(cfg))
	if err != nil {
		return err
	}

	filter := cmd.StringArg("filter")
	server := mcp.NewMCPServer(all, reg, filter)
	if listen == "" {
		slog.Debug("starting MCP server", "transport", "stdio", "filter", filter, "tools", len(all))
		return server.Run(ctx, &mcpsdk.StdioTransport{})
	}

	slog.Info("starting MCP server", "transport", "http", "addr", listen, "filter", filter, "tools", len(all))
	return serveMCPHTTP(ctx, listen, server)
}

// serveMCPHTTP mounts the streamable transport on /mcp until ctx ends.
func serveMCPHTTP(ctx context.Context, addr string, server *mcpsdk.Server) error {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/mcp", mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return server
	}, nil))

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
