package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for certctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "certctl",
		Short: "Certificate tooling for the event portal",
		Long: `Render certificate templates offline, inspect serial numbers and
manage the certificate tables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "config.json", "path to the JSON config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewRenderCommand(opts))
	cmd.AddCommand(NewSerialCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}
