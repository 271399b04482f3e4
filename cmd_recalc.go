package main

import (
	"fmt"
	"sort"

	"github.com/pocketbase/pocketbase/core"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tenderestimate/estimate"
)

// newRecalcCommand recomputes the cached totals of the given positions, or
// of every position when none are named.
func newRecalcCommand(app core.App, engine *estimate.Engine, logger *zap.Logger) *cobra.Command {
	var skipPrepare bool

	cmd := &cobra.Command{
		Use:   "recalc [positionId...]",
		Short: "Recalculate cached position totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !app.IsBootstrapped() {
				if err := app.Bootstrap(); err != nil {
					return fmt.Errorf("bootstrap: %w", err)
				}
			}
			if !skipPrepare {
				prepare(app, logger)
			}

			failed, err := engine.RecalculateAll(cmd.Context(), args...)
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(failed))
			for id := range failed {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				logger.Error("recalc failed", zap.String("position_id", id), zap.Error(failed[id]))
			}
			if len(ids) > 0 {
				return fmt.Errorf("%d position(s) failed to recalculate", len(ids))
			}

			for _, id := range args {
				if totals, ok := engine.CachedTotals(id); ok {
					cmd.Printf("%s\tworks %s\tmaterials %s\ttotal %s\n", id, totals.Works, totals.Materials, totals.Position)
				}
			}
			logger.Info("recalc finished", zap.Int("requested", len(args)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipPrepare, "skip-prepare", false, "do not run schema setup and migrations first")
	return cmd
}
