package commands

import (
	"github.com/spf13/cobra"
)

// NewProfileCommand creates the profile command.
func NewProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profile <file>",
		Short: "Profile a data file",
		Long: `Load a CSV, TSV, Excel, JSON or Parquet file and print its profile:
per-column types, missing values, statistics and top values, plus an
overall quality score and warnings.`,
		Example: `  # Profile a CSV file
  datalens profile sales.csv

  # Machine-readable output
  datalens profile sales.xlsx -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			_, prof, err := cc.ingest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderProfile(cc.Renderer, prof)
		},
	}
}
