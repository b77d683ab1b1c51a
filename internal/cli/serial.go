package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"event-portal/portal-backend/internal/certificates"
)

// NewSerialCommand creates the serial command group.
func NewSerialCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serial",
		Short: "Inspect certificate serial numbers",
	}
	cmd.AddCommand(newSerialParseCommand())
	return cmd
}

func newSerialParseCommand() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "parse <serial>...",
		Short: "Split serial numbers into prefix, year, type, template and sequence",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serials := certificates.NewSerialService(nil, nil, certificates.SerialOptions{Prefix: prefix}, nil, nil)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, s := range args {
				parsed, err := serials.ParseSerialNumber(s)
				if err != nil {
					return err
				}
				if err := enc.Encode(parsed); err != nil {
					return fmt.Errorf("write result: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", certificates.DefaultSerialPrefix, "serial number prefix")
	return cmd
}
