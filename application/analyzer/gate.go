package analyzer

import (
	"fmt"

	"datalens/domain/analysis"
)

// Exit codes reported by the CLI. Scripts key off these, so they are part of
// the contract.
const (
	ExitClean      = 0
	ExitFindings   = 1
	ExitGateFailed = 2
	ExitError      = 3
)

// DefaultMinHealth is the gate threshold when none is configured
const DefaultMinHealth = 70

// GateResult is the pass/fail verdict derived from a report
type GateResult struct {
	ExitCode int    `json:"exit_code"`
	Passed   bool   `json:"passed"`
	Reason   string `json:"reason,omitempty"`
}

// EvaluateGate turns a report into an exit code. Critical findings or any
// module scoring below minHealth fail the gate; non-blocking findings exit 1
// so pipelines can surface them without breaking.
func EvaluateGate(report *Report, minHealth int) GateResult {
	if minHealth <= 0 {
		minHealth = DefaultMinHealth
	}

	if analysis.HasCritical(report.Findings) {
		criticals := 0
		for _, f := range report.Findings {
			if f.Severity == analysis.SeverityCritical {
				criticals++
			}
		}
		return GateResult{
			ExitCode: ExitGateFailed,
			Reason:   fmt.Sprintf("%d critical finding(s)", criticals),
		}
	}

	for _, h := range report.Health {
		if h.Score < minHealth {
			return GateResult{
				ExitCode: ExitGateFailed,
				Reason:   fmt.Sprintf("module %s scored %d, below the %d threshold", h.Module, h.Score, minHealth),
			}
		}
	}

	if len(report.Findings) > 0 {
		return GateResult{
			ExitCode: ExitFindings,
			Passed:   true,
			Reason:   fmt.Sprintf("%d finding(s), none blocking", len(report.Findings)),
		}
	}
	return GateResult{ExitCode: ExitClean, Passed: true}
}
