package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mika/atelier/internal/tracing"
)

var promptCmd = &cobra.Command{
	Use:   "prompt <session-id> <next-prompt>",
	Short: "Supply the next prompt after a refinement failure",
	Long: `When the prompt rewriter fails, the session suspends with its current
turn already scored instead of losing progress. This command supplies
the next prompt by hand and resumes the loop.`,
	Args: cobra.ExactArgs(2),
	RunE: runPrompt,
}

func init() {
	rootCmd.AddCommand(promptCmd)
}

func runPrompt(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := tracing.NewRequestContext(context.Background())
	ctx = tracing.WithSessionID(ctx, args[0])

	s, err := a.manager.SubmitPrompt(ctx, args[0], strings.TrimSpace(args[1]))
	if err != nil {
		return err
	}

	printSessionState(s)
	return nil
}
