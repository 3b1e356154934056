package commands

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

// errNotAnswered makes a failed answer exit non-zero after it is printed.
var errNotAnswered = errors.New("question could not be answered")

// AskOptions holds options for the ask command.
type AskOptions struct {
	ShowCode bool
}

// NewAskCommand creates the ask command.
func NewAskCommand() *cobra.Command {
	opts := &AskOptions{}

	cmd := &cobra.Command{
		Use:   "ask <file> <question>",
		Short: "Ask a question about a data file",
		Long: `Load a data file and answer one natural-language question about it.

The model writes a short analysis snippet that runs in a sandbox against the
loaded data; the answer is printed with any resulting rows.`,
		Example: `  datalens ask sales.csv "Which region has the highest revenue?"
  datalens ask sales.csv "Monthly revenue trend" --show-code`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			id, _, err := cc.ingest(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			question := strings.Join(args[1:], " ")
			res := cc.Service.Answer(cmd.Context(), id, question, opts.ShowCode)
			if err := renderResult(cc.Renderer, res); err != nil {
				return err
			}
			if !res.Success {
				return errNotAnswered
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.ShowCode, "show-code", false, "Include the generated analysis code")

	return cmd
}
