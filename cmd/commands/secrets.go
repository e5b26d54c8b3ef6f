package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/dohr-michael/dbtpilot/internal/config"
	"github.com/dohr-michael/dbtpilot/internal/secrets"
)

// NewSecretsCommand returns the secrets subcommand.
func NewSecretsCommand() *cli.Command {
	return &cli.Command{
		Name:  "secrets",
		Usage: "Encrypt values for the config file",
		Commands: []*cli.Command{
			{
				Name:   "keygen",
				Usage:  "Create the age key used to decrypt ENC[age:...] values",
				Action: runSecretsKeygen,
			},
			{
				Name:      "encrypt",
				Usage:     "Encrypt a value (read from stdin when omitted)",
				ArgsUsage: "[value]",
				Action:    runSecretsEncrypt,
			},
			{
				Name:      "set",
				Usage:     "Encrypt a value into the .env file; reference it with ${{ .Env.KEY }}",
				ArgsUsage: "<KEY> [value]",
				Action:    runSecretsSet,
			},
			{
				Name:   "rotate",
				Usage:  "Add a new age key and re-encrypt the .env values for it",
				Action: runSecretsRotate,
			},
			{
				Name:      "unset",
				Usage:     "Remove a key from the .env file",
				ArgsUsage: "<KEY>",
				Action:    runSecretsUnset,
			},
		},
	}
}

func runSecretsKeygen(_ context.Context, _ *cli.Command) error {
	path := secrets.KeyPath()
	created, err := secrets.GenerateIdentity(path)
	if err != nil {
		return err
	}
	ring, err := secrets.LoadKeyring(path)
	if err != nil {
		return err
	}
	if !created {
		fmt.Printf("key already exists (%d identities)\n", ring.Len())
	}
	fmt.Printf("key: %s\npublic key: %s\n", path, ring.Recipient())
	return nil
}

func runSecretsRotate(_ context.Context, _ *cli.Command) error {
	path := secrets.KeyPath()
	recipient, err := secrets.RotateKey(path)
	if err != nil {
		return fmt.Errorf("rotate (run `dbtpilot secrets keygen` first?): %w", err)
	}
	keys, err := secrets.Reencrypt(config.DotenvPath(), path)
	if err != nil {
		return fmt.Errorf("re-encrypt %s: %w", config.DotenvPath(), err)
	}
	fmt.Printf("public key: %s\n", recipient)
	for _, k := range keys {
		fmt.Printf("re-encrypted %s\n", k)
	}
	if len(keys) > 0 {
		fmt.Println("values embedded in config.jsonc are still readable; re-run `secrets encrypt` to migrate them")
	}
	return nil
}

func runSecretsEncrypt(_ context.Context, cmd *cli.Command) error {
	value := cmd.Args().First()
	if value == "" {
		var err error
		if value, err = readSecret(); err != nil {
			return err
		}
	}
	if value == "" {
		return fmt.Errorf("nothing to encrypt")
	}

	blob, err := secrets.EncryptWithKey(value, secrets.KeyPath())
	if err != nil {
		return fmt.Errorf("encrypt (run `dbtpilot secrets keygen` first?): %w", err)
	}
	fmt.Println(blob)
	return nil
}

func runSecretsSet(_ context.Context, cmd *cli.Command) error {
	key := cmd.Args().Get(0)
	if !secrets.ValidKey(key) {
		return fmt.Errorf("usage: dbtpilot secrets set <KEY> [value]")
	}
	value := cmd.Args().Get(1)
	if value == "" {
		var err error
		if value, err = readSecret(); err != nil {
			return err
		}
	}

	blob, err := secrets.EncryptWithKey(value, secrets.KeyPath())
	if err != nil {
		return fmt.Errorf("encrypt (run `dbtpilot secrets keygen` first?): %w", err)
	}
	if err := secrets.SetEntry(config.DotenvPath(), key, blob); err != nil {
		return err
	}
	fmt.Printf("%s written to %s\n", key, config.DotenvPath())
	return nil
}

func runSecretsUnset(_ context.Context, cmd *cli.Command) error {
	key := cmd.Args().First()
	if key == "" {
		return fmt.Errorf("usage: dbtpilot secrets unset <KEY>")
	}
	removed, err := secrets.RemoveEntry(config.DotenvPath(), key)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%s is not set in %s", key, config.DotenvPath())
	}
	fmt.Printf("%s removed from %s\n", key, config.DotenvPath())
	return nil
}

// readSecret reads a value without echo on terminals, else one line of stdin.
func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "value: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
