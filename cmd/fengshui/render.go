package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"datalens/application/analyzer"
)

// reportEnvelope is the JSON shape: the report itself plus the gate verdict
// when one was requested.
type reportEnvelope struct {
	*analyzer.Report
	Gate *analyzer.GateResult `json:"gate,omitempty"`
}

func writeReportJSON(w io.Writer, report *analyzer.Report, gate *analyzer.GateResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reportEnvelope{Report: report, Gate: gate})
}

func writeReportFile(path string, report *analyzer.Report, gate *analyzer.GateResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing report file: %w", err)
	}
	if err := writeReportJSON(f, report, gate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func renderReport(w io.Writer, report *analyzer.Report) {
	target := report.Root
	if report.Module != "" {
		target += " (module " + report.Module + ")"
	}
	fmt.Fprintf(w, "fengshui: %d finding(s) in %s, took %s\n",
		len(report.Findings), target, report.Duration.Round(time.Millisecond))

	for _, f := range report.Findings {
		loc := f.Location.Path
		if f.Location.Line > 0 {
			loc = fmt.Sprintf("%s:%d", loc, f.Location.Line)
		}
		fmt.Fprintf(w, "%-9s %-9s %s\n          %s\n",
			strings.ToUpper(string(f.Severity)), f.RuleID, loc, f.Message)
		if f.Remediation != "" {
			fmt.Fprintf(w, "          fix: %s\n", f.Remediation)
		}
	}

	if len(report.Health) > 0 {
		fmt.Fprintf(w, "\nmodule health:\n")
		for _, h := range report.Health {
			fmt.Fprintf(w, "  %-32s %3d   %d finding(s)\n", h.Module, h.Score, h.Findings)
		}
	}
}

func renderGate(w io.Writer, gate analyzer.GateResult) {
	verdict := "passed"
	if !gate.Passed {
		verdict = "failed"
	}
	if gate.Reason != "" {
		fmt.Fprintf(w, "\ngate: %s, %s\n", verdict, gate.Reason)
		return
	}
	fmt.Fprintf(w, "\ngate: %s\n", verdict)
}
