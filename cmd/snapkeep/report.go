package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/yairfalse/snapkeep/orchestrator"
	"github.com/yairfalse/snapkeep/rotation"
)

// reportRenderer prints reports as aligned, optionally colored tables
type reportRenderer struct {
	out     io.Writer
	noColor bool
}

func newReportRenderer(out io.Writer, noColor bool) *reportRenderer {
	return &reportRenderer{out: out, noColor: noColor}
}

func (r *reportRenderer) colorize(text string, attrs ...color.Attribute) string {
	if r.noColor {
		return text
	}
	return color.New(attrs...).Sprint(text)
}

// RenderRun prints one run report
func (r *reportRenderer) RenderRun(report *orchestrator.RunReport) {
	title := "Snapshot retention run"
	if report.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintln(r.out, r.colorize(title, color.FgCyan, color.Bold))
	fmt.Fprintf(r.out, "Run:       %s\n", report.RunID)
	fmt.Fprintf(r.out, "Provider:  %s\n", report.Provider)
	fmt.Fprintf(r.out, "Timestamp: %s\n\n", report.Timestamp)

	if len(report.Results) == 0 {
		fmt.Fprintln(r.out, "No instances found.")
	} else {
		w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INSTANCE\tNAME\tLIMIT\tBEFORE\tACTIONS\tOUTCOME")
		for _, res := range report.Results {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
				res.InstanceID,
				instanceName(res),
				res.Limit,
				res.SnapshotsBefore,
				actionSummary(res.Actions),
				r.outcome(res),
			)
		}
		_ = w.Flush()
	}

	fmt.Fprintln(r.out)
	summary := fmt.Sprintf("Instances: %d  Created: %d  Evicted: %d  Failed: %d  Duration: %s",
		report.Instances, report.Created, report.Evicted, report.Failed,
		report.Duration.Round(time.Millisecond))
	switch {
	case report.Interrupted:
		fmt.Fprintln(r.out, r.colorize(summary+"  (interrupted)", color.FgYellow))
	case report.Failed > 0:
		fmt.Fprintln(r.out, r.colorize(summary, color.FgRed))
	default:
		fmt.Fprintln(r.out, r.colorize(summary, color.FgGreen))
	}

	for _, msg := range report.Errors {
		fmt.Fprintf(r.out, "  %s %s\n", r.colorize("✗", color.FgRed), msg)
	}
}

func (r *reportRenderer) outcome(res rotation.Result) string {
	switch {
	case res.Failed():
		text := "failed"
		if res.FailedStep != "" {
			text += " at " + string(res.FailedStep)
		}
		return r.colorize(text, color.FgRed)
	case res.DryRun:
		return r.colorize(string(res.Outcome), color.FgYellow)
	default:
		return r.colorize(string(res.Outcome), color.FgGreen)
	}
}

func instanceName(res rotation.Result) string {
	if res.Instance == nil {
		return "-"
	}
	return res.Instance.DisplayName()
}

func actionSummary(actions []rotation.Action) string {
	if len(actions) == 0 {
		return "-"
	}
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = a.String()
	}
	return strings.Join(parts, "; ")
}

// RenderLimits prints the resolved limit of every instance
func (r *reportRenderer) RenderLimits(rows []limitRow) {
	if len(rows) == 0 {
		fmt.Fprintln(r.out, "No instances found.")
		return
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tNAME\tLIMIT\tSOURCE\tSNAPSHOTS\tSTATUS")
	for _, row := range rows {
		source := "default"
		if row.Overridden {
			source = "override"
		}

		snapshots := fmt.Sprintf("%d", row.Snapshots)
		status := r.colorize("ok", color.FgGreen)
		switch {
		case row.Err != nil:
			snapshots = "?"
			status = r.colorize("error: "+row.Err.Error(), color.FgRed)
		case row.Limit == 0:
			status = r.colorize("create only", color.FgYellow)
		case row.Snapshots >= row.Limit:
			status = r.colorize("at limit", color.FgYellow)
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			row.Instance.ID,
			row.Instance.DisplayName(),
			row.Limit,
			source,
			snapshots,
			status,
		)
	}
	_ = w.Flush()
}
