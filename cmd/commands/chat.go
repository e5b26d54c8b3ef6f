package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "charm.land/bubbletea/v2"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/dohr-michael/dbtpilot/internal/agent"
	"github.com/dohr-michael/dbtpilot/internal/events"
	"github.com/dohr-michael/dbtpilot/internal/sessions"
	"github.com/dohr-michael/dbtpilot/internal/toolexec"
)

const chatHelp = `Commands:
  /approve [tool]  approve an account-changing tool (all when empty)
  /new             start a new session
  /session         print the session id
  /exit            quit`

const approveHint = "hint: run /approve <tool> to allow an account-changing tool, then ask again"

// NewChatCommand returns the interactive chat subcommand.
func NewChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Talk to the assistant interactively",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "session",
				Aliases: []string{"s"},
				Usage:   "Session ID to resume (empty = new session)",
			},
			&cli.BoolFlag{
				Name:  "plain",
				Usage: "Read lines from stdin and print raw replies instead of the full-screen UI",
			},
		},
		Action: runChat,
	}
}

// chatBackend is the part of agent.Service a chat drives.
type chatBackend interface {
	OpenSession(ctx context.Context) (*sessions.Session, error)
	Send(ctx context.Context, id, text string) (*sessions.Session, *agent.TurnResult, error)
}

// chatSession tracks the session a chat talks to and runs its commands.
type chatSession struct {
	svc   chatBackend
	perms *toolexec.Permissions
	id    string
}

// command runs a slash command. It returns the text to show and whether
// the chat should end.
func (c *chatSession) command(ctx context.Context, line string) (string, bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return "", true, nil
	case "/help":
		return chatHelp, false, nil
	case "/session":
		return c.id, false, nil
	case "/new":
		sess, err := c.svc.OpenSession(ctx)
		if err != nil {
			return "", false, err
		}
		c.id = sess.ID
		return "session: " + c.id, false, nil
	case "/approve":
		if len(fields) > 1 {
			c.perms.AllowForSession(c.id, fields[1])
			return "approved " + fields[1], false, nil
		}
		c.perms.AllowAllForSession(c.id)
		return "approved", false, nil
	default:
		return "unknown command " + fields[0], false, nil
	}
}

// send runs one turn on session id and returns the reply text. The id is
// passed in so a turn running in the background keeps its session.
func (c *chatSession) send(ctx context.Context, id, text string) (string, error) {
	_, res, err := c.svc.Send(ctx, id, text)
	if err != nil {
		return "", fmt.Errorf("%s: %w", agent.FailureKind(err), err)
	}
	return res.Reply.Content, nil
}

func needsApproval(reply string) bool {
	return strings.Contains(reply, "Permission error")
}

func runChat(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	chat := &chatSession{svc: a.svc, perms: a.perms, id: cmd.String("session")}
	if chat.id == "" {
		sess, err := a.svc.OpenSession(ctx)
		if err != nil {
			return err
		}
		chat.id = sess.ID
	}

	plain := cmd.Bool("plain") || !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd()))
	if plain {
		unsubscribe := a.bus.Subscribe(func(e events.Event) {
			if p, ok := events.ExtractPayload[events.SkillEnteredPayload](e); ok {
				fmt.Fprintf(os.Stderr, "  -> %s\n", p.Skill)
			}
		}, events.EventSkillEntered)
		defer unsubscribe()
		return runLineChat(ctx, chat, os.Stdin, newPrinter(os.Stdout, cmd.Bool("plain")), os.Stderr)
	}

	width := defaultWidth
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		width = w
	}
	program := tea.NewProgram(newChatModel(ctx, chat, width), tea.WithContext(ctx))

	// The status line follows the assistant working on the turn.
	unsubscribe := a.bus.Subscribe(func(e events.Event) {
		if p, ok := events.ExtractPayload[events.SkillEnteredPayload](e); ok {
			program.Send(skillEnteredMsg{session: e.SessionID, skill: p.Skill})
		}
	}, events.EventSkillEntered)
	defer unsubscribe()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runLineChat reads one message per line until EOF or /exit.
func runLineChat(ctx context.Context, chat *chatSession, in io.Reader, out *printer, status io.Writer) error {
	fmt.Fprintf(status, "session: %s (type /help for commands)\n", chat.id)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(status, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(status)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			text, quit, err := chat.command(ctx, line)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
			fmt.Fprintln(status, text)
			continue
		}

		reply, err := chat.send(ctx, chat.id, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(status, "error (%v)\n", err)
			continue
		}
		out.Reply(reply)
		if needsApproval(reply) {
			fmt.Fprintln(status, approveHint)
		}
	}
}
