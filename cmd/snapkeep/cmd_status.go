package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yairfalse/snapkeep/internal/emitter"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the report of the last completed run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		path := filepath.Join(cfg.StateDir, emitter.LastRunFile)
		report, err := emitter.ReadLastRun(path)
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(cmd.OutOrStdout(), "No run has completed yet.")
			return nil
		}
		if err != nil {
			return err
		}

		newReportRenderer(cmd.OutOrStdout(), noColor).RenderRun(report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
