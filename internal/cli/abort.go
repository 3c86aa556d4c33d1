package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mika/atelier/internal/tracing"
)

var abortCmd = &cobra.Command{
	Use:   "abort <session-id>",
	Short: "Abort a session",
	Long: `Request an abort. If the session is idle the abort applies at once;
if a step is in flight it lands at the next checkpoint. Aborted sessions
keep their history and their best artifact.`,
	Args: cobra.ExactArgs(1),
	RunE: runAbort,
}

func init() {
	rootCmd.AddCommand(abortCmd)
}

func runAbort(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := tracing.NewRequestContext(context.Background())
	ctx = tracing.WithSessionID(ctx, args[0])

	s, err := a.manager.Abort(ctx, args[0])
	if err != nil {
		return err
	}

	printSessionState(s)
	return nil
}
