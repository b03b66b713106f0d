// ABOUTME: The serve subcommand that runs the deskgate gateway
// ABOUTME: Prints the startup banner and blocks until the process is signalled

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/deskgate/internal/gateway"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the deskgate server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			cyan.Fprint(out, banner)
			gray.Fprintf(out, "    version: %s\n\n", version)

			cfg, configPath, err := loadConfig(opts, out)
			if err != nil {
				return err
			}

			logger := setupLogger(cfg.Logging, out)

			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "Config:    %s\n", configPath)
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "HTTP:      %s\n", cfg.Server.HTTPAddr)
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "gRPC:      %s\n", cfg.Server.GRPCAddr)
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "Database:  %s\n", cfg.Database.Path)
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "OAuth2:    %s", cfg.OAuth2.ProvidersFile)
			if cfg.Auth.AutoProvision {
				yellow.Fprint(out, " [auto-provision]")
			}
			fmt.Fprintln(out)

			if cfg.Tailscale.Enabled {
				green.Fprint(out, "    ▶ ")
				fmt.Fprint(out, "Tailscale: ")
				cyan.Fprint(out, cfg.Tailscale.Hostname)
				if cfg.Tailscale.Funnel {
					yellow.Fprint(out, " [funnel]")
				}
				if cfg.Tailscale.Ephemeral {
					gray.Fprint(out, " (ephemeral)")
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}

			return gw.Run(cmd.Context())
		},
	}
}
