// Package analyzer inspects untrusted skill script source. A static pass
// flags forbidden API usage from the syntax tree with a text-pattern net
// underneath it, and an optional dry run executes the script inside a
// capability-free interpreter under a wall-clock deadline.
package analyzer

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// Severity of a single analysis issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one finding in a script, tagged with the source line when known.
type Issue struct {
	Severity Severity `json:"severity"`
	Pattern  string   `json:"pattern"`
	Message  string   `json:"message"`
	Line     int      `json:"line,omitempty"`
}

// Report is the result of analyzing one script.
type Report struct {
	Valid  bool          `json:"valid"`
	Issues []Issue       `json:"issues"`
	DryRun *DryRunResult `json:"dry_run,omitempty"`
}

// DefaultTimeout bounds the sandboxed dry run.
const DefaultTimeout = 5 * time.Second

// Analyzer validates script source text.
type Analyzer struct {
	timeout time.Duration
	logger  *zap.Logger
}

// New creates an Analyzer. A non-positive timeout falls back to DefaultTimeout.
func New(timeout time.Duration, logger *zap.Logger) *Analyzer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{timeout: timeout, logger: logger}
}

// Validate runs the static phase and, when dryRun is set, the sandboxed
// dynamic phase. Sandbox failures are captured in the DryRun sub-result and
// never escalate into analyzer issues; neither phase substitutes for the
// other.
func (a *Analyzer) Validate(source string, dryRun bool) *Report {
	if strings.TrimSpace(source) == "" {
		return &Report{
			Valid:  false,
			Issues: []Issue{{Severity: SeverityError, Pattern: "empty", Message: "script source is empty"}},
		}
	}

	report := &Report{Issues: a.static(source)}
	report.Valid = true
	for _, issue := range report.Issues {
		if issue.Severity == SeverityError {
			report.Valid = false
			break
		}
	}

	if dryRun {
		report.DryRun = a.execute(source)
		if !report.DryRun.Success {
			a.logger.Debug("dry run failed",
				zap.String("error", report.DryRun.Error),
				zap.Bool("timed_out", report.DryRun.TimedOut))
		}
	}
	return report
}
