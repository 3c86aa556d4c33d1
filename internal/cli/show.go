package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's full iteration history",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.manager.Get(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session:    %s\n", s.ID)
	fmt.Printf("Status:     %s\n", s.Status)
	fmt.Printf("Mode:       %s\n", s.Mode)
	fmt.Printf("Target:     %.1f\n", s.TargetScore)
	fmt.Printf("Budget:     %d iterations\n", s.MaxIterations)
	fmt.Printf("Created:    %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
	if len(s.Assets) > 0 {
		fmt.Println("Assets:")
		for _, ref := range s.Assets {
			fmt.Printf("  %s\n", ref.Path)
		}
	}

	for _, t := range s.Turns {
		fmt.Printf("\nTurn %d\n", t.Iteration)
		fmt.Printf("  prompt:   %s\n", t.Prompt)
		if t.ArtifactRef != "" {
			fmt.Printf("  artifact: %s\n", t.ArtifactRef)
		}
		if t.Score != nil {
			fmt.Printf("  score:    %.1f\n", *t.Score)
		}
		if t.Feedback != "" {
			fmt.Printf("  feedback: %s\n", t.Feedback)
		}
		if t.RefinementReasoning != "" {
			fmt.Printf("  refined:  %s\n", t.RefinementReasoning)
		}
	}

	if best := s.BestTurn(); best != nil {
		fmt.Printf("\nBest: iteration %d, score %.1f, %s\n", best.Iteration, *best.Score, best.ArtifactRef)
	}
	return nil
}
