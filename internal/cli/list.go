package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var listActive bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listActive, "active", false, "only sessions that can still make progress")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.manager.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No sessions")
		return nil
	}

	ctx := context.Background()
	for _, id := range ids {
		s, err := a.manager.Get(ctx, id)
		if err != nil {
			fmt.Printf("%s  (unreadable: %v)\n", id, err)
			continue
		}
		if listActive && s.Status.Terminal() {
			continue
		}

		score := "-"
		if best := s.BestTurn(); best != nil {
			score = fmt.Sprintf("%.1f", *best.Score)
		}
		fmt.Printf("%s  %-18s turns=%d/%d best=%s  %s\n",
			s.ID, s.Status, len(s.Turns), s.MaxIterations, score,
			s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
