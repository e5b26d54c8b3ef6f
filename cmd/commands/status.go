package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dbtpilot/internal/config"
	"github.com/dohr-michael/dbtpilot/internal/heartbeat"
	"github.com/dohr-michael/dbtpilot/internal/models"
	"github.com/dohr-michael/dbtpilot/internal/secrets"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show gateway liveness and what the assistant is configured with",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the report as JSON"},
		},
		Action: runStatus,
	}
}

// statusReport summarizes what `serve` and `chat` would run with.
type statusReport struct {
	Gateway        heartbeat.Status `json:"gateway"`
	Addr           string           `json:"addr,omitempty"`
	PID            int              `json:"pid,omitempty"`
	Uptime         string           `json:"uptime,omitempty"`
	LastBeat       string           `json:"last_beat,omitempty"`
	ActiveSessions int              `json:"active_sessions"`

	Model          string   `json:"model,omitempty"`
	Providers      []string `json:"providers"`
	DbtHost        string   `json:"dbt_host"`
	DbtAccountID   int64    `json:"dbt_account_id,omitempty"`
	DbtToken       bool     `json:"dbt_token"`
	SessionBackend string   `json:"session_backend"`
	AgeKey         bool     `json:"age_key"`
	ConfigError    string   `json:"config_error,omitempty"`
}

func runStatus(_ context.Context, cmd *cli.Command) error {
	status, hb, err := heartbeat.Check(heartbeat.Path(), 4*heartbeat.DefaultInterval)
	if err != nil {
		return fmt.Errorf("check heartbeat: %w", err)
	}
	cfg, cfgErr := loadConfig(cmd)
	_, keyErr := os.Stat(secrets.KeyPath())

	report := buildStatusReport(status, hb, cfg, cfgErr, time.Now())
	report.AgeKey = keyErr == nil

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return report.print(os.Stdout)
}

func buildStatusReport(status heartbeat.Status, hb *heartbeat.Heartbeat, cfg *config.Config, cfgErr error, now time.Time) statusReport {
	r := statusReport{Gateway: status}
	if hb != nil && status != heartbeat.StatusDead {
		r.Addr = hb.Addr
		r.PID = hb.PID
		r.Uptime = hb.Uptime
		r.LastBeat = now.Sub(hb.Timestamp).Truncate(time.Second).String()
		r.ActiveSessions = hb.ActiveSessions
	}
	if cfgErr != nil {
		r.ConfigError = cfgErr.Error()
		return r
	}

	reg := models.NewRegistry(cfg.Models, cfg.Agent.Models)
	r.Model = reg.DefaultName()
	r.Providers = reg.Names()
	r.DbtHost = cfg.Dbt.Host
	r.DbtAccountID = cfg.Dbt.AccountID
	r.DbtToken = cfg.Dbt.Token != ""
	r.SessionBackend = cfg.Sessions.Backend
	return r
}

func (r statusReport) print(out io.Writer) error {
	switch r.Gateway {
	case heartbeat.StatusAlive:
		fmt.Fprintf(out, "Gateway: ALIVE on %s (PID %d, uptime %s, %d active sessions)\n",
			r.Addr, r.PID, r.Uptime, r.ActiveSessions)
	case heartbeat.StatusStale:
		fmt.Fprintf(out, "Gateway: STALE (PID %d, last heartbeat %s ago)\n", r.PID, r.LastBeat)
	default:
		fmt.Fprintln(out, "Gateway: NOT RUNNING")
	}
	if r.ConfigError != "" {
		fmt.Fprintf(out, "Config: %s\n", r.ConfigError)
		return nil
	}

	model := r.Model
	if model == "" {
		model = "none (set a provider or OPENAI_API_KEY / ANTHROPIC_API_KEY / GEMINI_API_KEY)"
	}
	account := "-"
	if r.DbtAccountID != 0 {
		account = fmt.Sprint(r.DbtAccountID)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Model:\t%s\n", model)
	fmt.Fprintf(tw, "dbt Cloud:\t%s (account %s, token %s)\n", r.DbtHost, account, yesNo(r.DbtToken))
	fmt.Fprintf(tw, "Sessions:\t%s\n", r.SessionBackend)
	fmt.Fprintf(tw, "Age key:\t%s\n", yesNo(r.AgeKey))
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "set"
	}
	return "missing"
}
