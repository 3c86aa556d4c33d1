package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mika/atelier/internal/tracing"
	"github.com/mika/atelier/pkg/engine"
	"github.com/mika/atelier/pkg/session"
)

var (
	newTargetScore   float64
	newMaxIterations int
	newManual        bool
	newAssets        []string
	newRun           bool
)

var newCmd = &cobra.Command{
	Use:   "new <prompt>",
	Short: "Create a refinement session",
	Long: `Create a session seeded with the given prompt. The session iterates
until an artifact scores at or above the target, or the iteration budget
runs out. With --manual, you score each artifact yourself via
'atelier feedback'; otherwise the judge model scores automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: runNew,
}

func init() {
	newCmd.Flags().Float64Var(&newTargetScore, "target", 0, "target score (default from config)")
	newCmd.Flags().IntVar(&newMaxIterations, "max-iterations", 0, "iteration budget (default from config)")
	newCmd.Flags().BoolVar(&newManual, "manual", false, "score artifacts yourself instead of using the judge")
	newCmd.Flags().StringSliceVar(&newAssets, "asset", nil, "reference asset path from the asset catalog (repeatable)")
	newCmd.Flags().BoolVar(&newRun, "run", false, "start iterating immediately after creation")
	rootCmd.AddCommand(newCmd)
}

func runNew(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := tracing.NewRequestContext(context.Background())

	target := newTargetScore
	if !cmd.Flags().Changed("target") {
		target = a.cfg.Engine.DefaultTargetScore
	}
	budget := newMaxIterations
	if !cmd.Flags().Changed("max-iterations") {
		budget = a.cfg.Engine.DefaultMaxIterations
	}

	mode := session.ModeAuto
	if newManual {
		mode = session.ModeManual
	}

	refs, err := resolveAssets(a, newAssets)
	if err != nil {
		return err
	}

	s, err := a.manager.CreateSession(ctx, engine.CreateParams{
		SeedPrompt:    strings.TrimSpace(args[0]),
		TargetScore:   target,
		MaxIterations: budget,
		Mode:          mode,
		Assets:        refs,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Session %s created (mode=%s, target=%.1f, budget=%d)\n", s.ID, s.Mode, s.TargetScore, s.MaxIterations)

	if newRun {
		s, err = a.manager.Run(ctx, s.ID)
		if err != nil {
			return err
		}
		printSessionState(s)
	}
	return nil
}

func resolveAssets(a *app, paths []string) ([]session.AssetRef, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	refs := make([]session.AssetRef, 0, len(paths))
	for _, p := range paths {
		ref, ok := a.catalog.Lookup(p)
		if !ok {
			return nil, fmt.Errorf("asset %s not found in catalog (%s)", p, a.cfg.Assets.Dir)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
