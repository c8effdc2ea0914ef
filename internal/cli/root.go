// Package cli builds the root command and owns process exit codes.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atlashq/atlas-cli/internal/appctx"
	"github.com/atlashq/atlas-cli/internal/commands"
	"github.com/atlashq/atlas-cli/internal/config"
	"github.com/atlashq/atlas-cli/internal/output"
	"github.com/atlashq/atlas-cli/internal/version"
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:           "atlas",
		Short:         "Command-line client for the Atlas venue directory",
		Long:          "atlas is a CLI for browsing and contributing to the Atlas directory: venue listings, verification, and donations.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help and version commands
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				APIBaseURL:      flags.APIBaseURL,
				PaymentsBaseURL: flags.PaymentsBaseURL,
				Format:          flags.Format,
				Verbose:         flags.Verbose,
			})
			if err != nil {
				return err
			}

			app, err := appctx.NewApp(cfg, flags)
			if err != nil {
				return err
			}

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	cmd.SetVersionTemplate(version.Full() + "\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.APIBaseURL, "api-url", "", "Base URL of the Atlas API")
	pf.StringVar(&flags.PaymentsBaseURL, "payments-url", "", "Base URL of the payments API")
	pf.StringVar(&flags.Format, "format", "", "Output format: json, yaml, quiet")
	pf.StringVar(&flags.Filter, "jq", "", "Filter output data with a jq expression")
	pf.CountVarP(&flags.Verbose, "verbose", "v", "Increase log verbosity (repeatable)")

	cmd.AddCommand(
		commands.NewAuthCmd(),
		commands.NewVenuesCmd(),
		commands.NewVerifyCmd(),
		commands.NewDonateCmd(),
	)

	return cmd
}

// Execute runs the CLI and exits with the appropriate code.
func Execute() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		e := output.AsError(err)
		fmt.Fprintf(os.Stderr, "atlas: %s\n", e.Error())
		os.Exit(e.ExitCode())
	}
}
