package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dbtpilot/internal/config"
)

// Version is set at build time with -ldflags "-X ...commands.Version=...".
var Version = "dev"

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "dbtpilot",
		Usage:                 "Ask dbt Cloud questions; a host assistant routes them to admin, discovery, semantic layer, docs and package skills",
		Version:               Version,
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the JSONC config file",
				Value:   config.ConfigPath(),
				Sources: cli.EnvVars("DBTPILOT_CONFIG"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("DBTPILOT_DEBUG"),
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			NewChatCommand(),
			NewAskCommand(),
			NewServeCommand(),
			NewStatusCommand(),
			NewSessionsCommand(),
			NewSkillsCommand(),
			NewMCPServeCommand(),
			NewSecretsCommand(),
		},
	}
}
