// ABOUTME: Entry point for the deskgate auth server
// ABOUTME: Builds the cobra command tree and resolves the config file location

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/deskgate/internal/config"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _           _                    _
  __| | ___  ___| | ____ _  __ _| |_ ___
 / _' |/ _ \/ __| |/ / _' |/ _' | __/ _ \
| (_| |  __/\__ \   < (_| | (_| | ||  __/
 \__,_|\___||___/_|\_\__, |\__,_|\__\___|
                     |___/
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "deskgate",
		Short: "Authentication server for remote desktop clients",
		Long: `deskgate authenticates desk clients with local passwords or OAuth2
providers and issues the session tokens the rest of the backend checks.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "deskgate version %s\n" .Version}}`)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $DESKGATE_CONFIG or ~/.config/deskgate/config.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newUserCmd(opts),
		newHealthCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the deskgate version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "deskgate version %s\n", version)
		},
	}
}

// getConfigPath returns the path to the config file.
// Priority: --config flag > DESKGATE_CONFIG > XDG_CONFIG_HOME/deskgate/config.yaml > ~/.config/deskgate/config.yaml
func getConfigPath(flagPath string, env config.Environment) (path string, explicit bool) {
	if flagPath != "" {
		return flagPath, true
	}
	if env.ConfigPath != "" {
		return env.ConfigPath, true
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml", false
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "deskgate", "config.yaml"), false
}

// loadConfig reads the config file and overlays the environment. A missing
// file at the default location falls back to built-in defaults; a missing
// file that was asked for by name is an error.
func loadConfig(opts *rootOptions, notice io.Writer) (*config.Config, string, error) {
	env, err := config.ParseEnvironment()
	if err != nil {
		return nil, "", err
	}

	path, explicit := getConfigPath(opts.configPath, env)

	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(notice, "no config file at %s, using defaults\n", path)
		cfg = config.Default()
	default:
		return nil, "", fmt.Errorf("loading config: %w", err)
	}

	env.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}
