package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/snapkeep/limits"
	"github.com/yairfalse/snapkeep/providers"
	"github.com/yairfalse/snapkeep/types"
)

// limitsCmd represents the limits command
var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show the resolved snapshot limit of every instance",
	Long: `List every managed instance with its resolved snapshot limit and its
current number of managed snapshots. Nothing is changed.`,
	Example: `  snapkeep limits
  snapkeep limits --config ./dev.yaml`,
	Args: cobra.NoArgs,
	RunE: runLimits,
}

func init() {
	rootCmd.AddCommand(limitsCmd)
}

// limitRow is one instance in the limits listing
type limitRow struct {
	Instance   types.Instance
	Limit      int
	Overridden bool
	Snapshots  int
	Err        error
}

func runLimits(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, appOptions{inventory: true})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	rows, err := collectLimits(ctx, a.client, a.resolver)
	if err != nil {
		return err
	}
	newReportRenderer(cmd.OutOrStdout(), noColor).RenderLimits(rows)
	return nil
}

// collectLimits resolves limits and counts snapshots. A listing failure
// for one instance is reported on its row.
func collectLimits(ctx context.Context, client providers.InventoryClient, resolver *limits.Resolver) ([]limitRow, error) {
	instances, err := client.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	rows := make([]limitRow, 0, len(instances))
	for _, inst := range instances {
		row := limitRow{
			Instance:   inst,
			Limit:      resolver.Limit(inst.ID),
			Overridden: resolver.Overridden(inst.ID),
		}
		snapshots, err := client.ListSnapshots(ctx, inst.ID)
		if err != nil {
			row.Err = err
		} else {
			row.Snapshots = len(snapshots)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
