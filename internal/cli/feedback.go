package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mika/atelier/internal/tracing"
)

var (
	feedbackScore   float64
	feedbackComment string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <session-id>",
	Short: "Score the current artifact of a suspended session",
	Long: `Submit a score (and optional comment) for the artifact a session is
waiting on. The session continues immediately: it completes if the score
meets the target, aborts if the budget is spent, and otherwise refines
the prompt for the next iteration.`,
	Args: cobra.ExactArgs(1),
	RunE: runFeedback,
}

func init() {
	feedbackCmd.Flags().Float64Var(&feedbackScore, "score", 0, "score for the current artifact")
	feedbackCmd.Flags().StringVar(&feedbackComment, "comment", "", "what to change in the next iteration")
	feedbackCmd.MarkFlagRequired("score")
	rootCmd.AddCommand(feedbackCmd)
}

func runFeedback(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := tracing.NewRequestContext(context.Background())
	ctx = tracing.WithSessionID(ctx, args[0])

	s, err := a.manager.SubmitFeedback(ctx, args[0], feedbackScore, feedbackComment)
	if err != nil {
		return err
	}

	printSessionState(s)
	return nil
}
