package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

// NewSkillsCommand returns the skills subcommand.
func NewSkillsCommand() *cli.Command {
	return &cli.Command{
		Name:  "skills",
		Usage: "Inspect the assistants",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List the router and its specialised assistants",
				Action: runSkillsList,
			},
		},
		DefaultCommand: "list",
	}
}

func runSkillsList(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reg, err := loadSkills(cfg)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDELEGATION\tTOOLS")
	router := reg.Router()
	fmt.Fprintf(w, "%s\t(router)\t%s\n", router.Name, strings.Join(router.Tools, ", "))
	for _, s := range reg.All() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.DelegationTool, strings.Join(s.Tools, ", "))
	}
	return w.Flush()
}
