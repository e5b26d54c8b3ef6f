package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/cloudwego/eino/schema"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dbtpilot/internal/config"
	"github.com/dohr-michael/dbtpilot/internal/events"
	"github.com/dohr-michael/dbtpilot/internal/sessions"
	"github.com/dohr-michael/dbtpilot/internal/storage"
)

// NewSessionsCommand returns the sessions subcommand.
func NewSessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Manage assistant sessions",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all sessions",
				Action: runSessionsList,
			},
			{
				Name:      "show",
				Usage:     "Show the transcript of a session",
				ArgsUsage: "<session_id>",
				Action:    runSessionsShow,
			},
			{
				Name:      "events",
				Usage:     "Show the logged events of a session (needs events.persist)",
				ArgsUsage: "<session_id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "Number of most recent events"},
					&cli.StringSliceFlag{Name: "type", Usage: "Only these event types (e.g. skill.entered)"},
				},
				Action: runSessionsEvents,
			},
			{
				Name:      "close",
				Usage:     "Close a session",
				ArgsUsage: "<session_id>",
				Action:    runSessionsClose,
			},
		},
		DefaultCommand: "list",
	}
}

func withStore(ctx context.Context, cmd *cli.Command, fn func(sessions.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(store)
}

func runSessionsList(ctx context.Context, cmd *cli.Command) error {
	return withStore(ctx, cmd, func(store sessions.Store) error {
		list, err := store.List()
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTURNS\tTOKENS\tSTACK\tUPDATED\tTITLE")
		for _, s := range list {
			title := s.Title
			if title == "" {
				title = "-"
			}
			stack := strings.Join(s.Stack, ">")
			if stack == "" {
				stack = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d/%d\t%s\t%s\t%s\n",
				s.ID,
				s.Status,
				s.Turns,
				s.TokenUsage.Input, s.TokenUsage.Output,
				stack,
				s.UpdatedAt.Format("2006-01-02 15:04"),
				title,
			)
		}
		return w.Flush()
	})
}

func runSessionsShow(ctx context.Context, cmd *cli.Command) error {
	sessionID := cmd.Args().First()
	if sessionID == "" {
		return fmt.Errorf("usage: dbtpilot sessions show <session_id>")
	}

	return withStore(ctx, cmd, func(store sessions.Store) error {
		msgs, err := store.LoadMessages(sessionID)
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
		if len(msgs) == 0 {
			fmt.Println("No messages in this session.")
			return nil
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s\n", m.Ts.Format("15:04:05"), describeMessage(m.Message))
		}
		return nil
	})
}

func describeMessage(m *schema.Message) string {
	switch {
	case m.Role == schema.Tool:
		return fmt.Sprintf("tool %s (%s): %s", m.ToolName, m.ToolCallID, oneLine(m.Content, 200))
	case len(m.ToolCalls) > 0:
		calls := make([]string, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			calls[i] = tc.Function.Name + tc.Function.Arguments
		}
		return fmt.Sprintf("%s calls %s", m.Role, strings.Join(calls, ", "))
	default:
		return fmt.Sprintf("%s: %s", m.Role, m.Content)
	}
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func runSessionsEvents(_ context.Context, cmd *cli.Command) error {
	sessionID := cmd.Args().First()
	if sessionID == "" {
		return fmt.Errorf("usage: dbtpilot sessions events <session_id>")
	}
	var types []events.EventType
	for _, t := range cmd.StringSlice("type") {
		types = append(types, events.EventType(t))
	}

	list, err := storage.ReadEvents(config.LogsPath(), sessionID, int(cmd.Int("limit")), types...)
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No events logged for this session.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Format("15:04:05.000"), e.Source, e.Type, summarizePayload(e.Payload))
	}
	return w.Flush()
}

// summarizePayload renders the payload fields in key order on one line.
func summarizePayload(p map[string]any) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return oneLine(strings.Join(parts, " "), 160)
}

func runSessionsClose(ctx context.Context, cmd *cli.Command) error {
	sessionID := cmd.Args().First()
	if sessionID == "" {
		return fmt.Errorf("usage: dbtpilot sessions close <session_id>")
	}
	return withStore(ctx, cmd, func(store sessions.Store) error {
		if err := store.Close(sessionID); err != nil {
			return err
		}
		fmt.Printf("Session %s closed.\n", sessionID)
		return nil
	})
}
