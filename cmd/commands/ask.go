package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dbtpilot/internal/gateway/ws"
)

// NewAskCommand returns the ask subcommand.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Send one message to the assistant and print the answer",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session ID to resume (empty = new session)",
			},
			&cli.BoolFlag{
				Name:    "dangerously-accept-all",
				Aliases: []string{"y"},
				Usage:   "Approve every account-changing tool for this session",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the reply as JSON",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Response timeout in seconds",
				Value: 300,
			},
		},
		Action: runAsk,
	}
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	message := strings.Join(cmd.Args().Slice(), " ")
	if message == "" {
		return fmt.Errorf("usage: dbtpilot ask <message>")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Int("timeout"))*time.Second)
	defer cancel()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sessionID := cmd.String("session")
	if sessionID == "" {
		sess, err := a.svc.OpenSession(ctx)
		if err != nil {
			return err
		}
		sessionID = sess.ID
		fmt.Fprintf(os.Stderr, "session: %s\n", sessionID)
	}
	if cmd.Bool("dangerously-accept-all") {
		a.perms.AllowAllForSession(sessionID)
	}

	sess, res, err := a.svc.Send(ctx, sessionID, message)
	if err != nil {
		return fmt.Errorf("turn failed: %w", err)
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ws.NewReply(sess.ID, res))
	}
	newPrinter(os.Stdout, false).Reply(res.Reply.Content)
	return nil
}
