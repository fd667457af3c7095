package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/snapkeep/logstore"
)

var (
	logLines int
	logJSON  bool
)

// logCmd represents the log command
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Print the most recent run log records",
	Example: `  snapkeep log            # Last 20 records
  snapkeep log -n 100     # Last 100 records
  snapkeep log --json     # Raw JSON lines`,
	Args: cobra.NoArgs,
	RunE: runLog,
}

func init() {
	rootCmd.AddCommand(logCmd)

	logCmd.Flags().IntVarP(&logLines, "lines", "n", 20, "Number of records to print")
	logCmd.Flags().BoolVar(&logJSON, "json", false, "Print raw JSON records")
}

func runLog(cmd *cobra.Command, args []string) error {
	if logLines <= 0 {
		return fmt.Errorf("--lines must be positive, got %d", logLines)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := logstore.Open(logstore.Config{
		Backend: logstore.Backend(cfg.Log.Backend),
		Path:    cfg.Log.Path,
	})
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer func() { _ = store.Close() }()

	return printLog(cmd.OutOrStdout(), store, logLines, logJSON)
}

// printLog writes the last n records, oldest first
func printLog(out io.Writer, store logstore.Store, n int, raw bool) error {
	records, err := store.Tail(n)
	if err != nil {
		return fmt.Errorf("read run log: %w", err)
	}

	var w io.Writer = out
	if !raw {
		w = zerolog.ConsoleWriter{Out: out, NoColor: noColor, TimeFormat: time.RFC3339}
	}

	for _, rec := range records {
		data := rec.Data
		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}
