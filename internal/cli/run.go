package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mika/atelier/internal/observability"
	"github.com/mika/atelier/pkg/session"
)

var runCmd = &cobra.Command{
	Use:   "run <session-id>",
	Short: "Drive a session until it finishes or needs feedback",
	Long: `Advance a session through generate-evaluate-refine cycles until it
reaches a terminal state or suspends for feedback. Interrupting with
Ctrl-C requests an abort that lands at the next checkpoint; the session
can also be resumed later from its last persisted state.

With no session id, recovers every non-terminal session on disk and
runs each of them in turn.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := a.cfg.MetricsAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: observability.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Warn().Err(err).Str("addr", addr).Msg("Metrics endpoint failed")
			}
		}()
		defer srv.Close()
	}

	var ids []string
	if len(args) == 1 {
		ids = args
	} else {
		recovered, err := a.manager.Recover(ctx)
		if err != nil {
			return err
		}
		if len(recovered) == 0 {
			fmt.Println("No sessions to resume.")
			return nil
		}
		for _, s := range recovered {
			ids = append(ids, s.ID)
		}
		fmt.Printf("Resuming %d session(s)\n", len(ids))
	}

	go func() {
		<-ctx.Done()
		if ctx.Err() == context.Canceled {
			for _, id := range ids {
				a.manager.Abort(context.Background(), id)
			}
		}
	}()

	for _, id := range ids {
		s, err := a.manager.Run(ctx, id)
		if err != nil && ctx.Err() == nil {
			return err
		}
		if s == nil {
			s, err = a.manager.Get(context.Background(), id)
			if err != nil {
				return err
			}
		}
		printSessionState(s)
		if ctx.Err() != nil {
			break
		}
	}
	return nil
}

func printSessionState(s *session.Session) {
	fmt.Printf("Session %s: %s (turn %d/%d)\n", s.ID, s.Status, len(s.Turns), s.MaxIterations)

	if cur := s.CurrentTurn(); cur != nil {
		if cur.ArtifactRef != "" {
			fmt.Printf("  artifact: %s\n", cur.ArtifactRef)
		}
		if cur.Score != nil {
			fmt.Printf("  score:    %.1f (target %.1f)\n", *cur.Score, s.TargetScore)
		}
	}

	switch s.Status {
	case session.StatusAwaitingFeedback:
		if cur := s.CurrentTurn(); cur != nil && cur.Score == nil {
			fmt.Printf("Awaiting score: atelier feedback %s --score <n> [--comment ...]\n", s.ID)
		} else {
			fmt.Printf("Awaiting prompt: atelier prompt %s \"<next prompt>\"\n", s.ID)
		}
	case session.StatusCompleted, session.StatusAborted:
		if best := s.BestTurn(); best != nil {
			fmt.Printf("Best result: iteration %d, score %.1f, %s\n", best.Iteration, *best.Score, best.ArtifactRef)
		}
	}
}
