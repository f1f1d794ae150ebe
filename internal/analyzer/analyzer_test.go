package analyzer

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestAnalyzer(t *testing.T, timeout time.Duration) *Analyzer {
	t.Helper()
	return New(timeout, zap.NewNop())
}

func findIssue(issues []Issue, pattern string) *Issue {
	for i := range issues {
		if issues[i].Pattern == pattern {
			return &issues[i]
		}
	}
	return nil
}

func TestEmptySourceIsError(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	for _, src := range []string{"", "   \n\t"} {
		report := a.Validate(src, true)
		if report.Valid {
			t.Fatalf("empty source %q reported valid", src)
		}
		if len(report.Issues) != 1 || report.Issues[0].Severity != SeverityError {
			t.Fatalf("issues = %+v", report.Issues)
		}
		if report.DryRun != nil {
			t.Fatal("no dry run should happen for empty source")
		}
	}
}

func TestEvalAlwaysFlagged(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	for _, dryRun := range []bool{false, true} {
		report := a.Validate(`eval("1+1")`, dryRun)
		issue := findIssue(report.Issues, PatternEval)
		if issue == nil {
			t.Fatalf("dryRun=%v: eval not flagged: %+v", dryRun, report.Issues)
		}
		if issue.Severity != SeverityError {
			t.Fatalf("eval severity = %s", issue.Severity)
		}
		if issue.Line != 1 {
			t.Fatalf("eval line = %d", issue.Line)
		}
		if report.Valid {
			t.Fatal("report with eval must be invalid")
		}
	}
}

func TestEvalInsideFunctionFlagged(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	src := "function run() {\n  return eval('2*2');\n}\n"
	report := a.Validate(src, false)
	issue := findIssue(report.Issues, PatternEval)
	if issue == nil {
		t.Fatalf("nested eval not flagged: %+v", report.Issues)
	}
	if issue.Line != 2 {
		t.Fatalf("line = %d, want 2", issue.Line)
	}
}

func TestFunctionConstructorFlagged(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	report := a.Validate(`const f = new Function("return 1");`, false)
	if findIssue(report.Issues, PatternFunctionCtr) == nil {
		t.Fatalf("Function constructor not flagged: %+v", report.Issues)
	}
}

func TestSpawnModuleImports(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	cases := []string{
		`const cp = require("child_process");`,
		`const cp = require('node:child_process');`,
		`import { exec } from "child_process";`,
		`const cp = await import("child_process");`,
	}
	for _, src := range cases {
		report := a.Validate(src, false)
		issue := findIssue(report.Issues, PatternSpawnImport)
		if issue == nil {
			t.Fatalf("%q not flagged: %+v", src, report.Issues)
		}
		if issue.Severity != SeverityError {
			t.Fatalf("%q severity = %s", src, issue.Severity)
		}
	}
}

func TestProcessAccess(t *testing.T) {
	a := newTestAnalyzer(t, 0)

	report := a.Validate(`process.exit(1);`, false)
	issue := findIssue(report.Issues, PatternProcessKill)
	if issue == nil || issue.Severity != SeverityError {
		t.Fatalf("process.exit: %+v", report.Issues)
	}

	report = a.Validate(`const key = process.env.API_KEY;`, false)
	issue = findIssue(report.Issues, PatternProcessEnv)
	if issue == nil || issue.Severity != SeverityWarning {
		t.Fatalf("process.env: %+v", report.Issues)
	}
	// A warning alone does not invalidate the script.
	if !report.Valid {
		t.Fatal("env warning should not make the report invalid")
	}
}

func TestProtoMarkerWarns(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	report := a.Validate(`obj.__proto__ = evil;`, false)
	if issue := findIssue(report.Issues, PatternProtoMut); issue == nil || issue.Severity != SeverityWarning {
		t.Fatalf("__proto__: %+v", report.Issues)
	}
}

func TestUnparseableSourceStillScanned(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	// Broken syntax, but the pattern net still sees the eval.
	report := a.Validate("if (x { eval('1') }", false)
	if findIssue(report.Issues, PatternEval) == nil {
		t.Fatalf("pattern fallback missed eval: %+v", report.Issues)
	}
}

func TestIssuesNotDuplicatedAcrossPhases(t *testing.T) {
	a := newTestAnalyzer(t, 0)
	report := a.Validate(`eval("1")`, false)
	count := 0
	for _, issue := range report.Issues {
		if issue.Pattern == PatternEval && issue.Line == 1 {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("eval reported %d times", count)
	}
}

func TestDryRunSuccess(t *testing.T) {
	a := newTestAnalyzer(t, time.Second)
	report := a.Validate(`const x = 20 + 22; x;`, true)
	if report.DryRun == nil {
		t.Fatal("missing dry run result")
	}
	if !report.DryRun.Success {
		t.Fatalf("dry run failed: %s", report.DryRun.Error)
	}
	if report.DryRun.Output != "42" {
		t.Fatalf("output = %q", report.DryRun.Output)
	}
}

func TestDryRunFailureDoesNotInvalidate(t *testing.T) {
	a := newTestAnalyzer(t, time.Second)
	report := a.Validate(`missingFunction();`, true)
	if report.DryRun == nil || report.DryRun.Success {
		t.Fatalf("expected failed dry run, got %+v", report.DryRun)
	}
	// Sandbox failure is a sub-result, never an analyzer error.
	if !report.Valid {
		t.Fatalf("runtime failure should not invalidate static result: %+v", report.Issues)
	}
}

func TestDryRunTimeout(t *testing.T) {
	a := newTestAnalyzer(t, 50*time.Millisecond)
	start := time.Now()
	report := a.Validate(`while (true) {}`, true)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
	if report.DryRun == nil || report.DryRun.Success {
		t.Fatal("expected dry run failure")
	}
	if !report.DryRun.TimedOut {
		t.Fatalf("expected timeout, got error %q", report.DryRun.Error)
	}
	if !strings.Contains(report.DryRun.Error, "wall-clock") {
		t.Fatalf("error = %q", report.DryRun.Error)
	}
}

func TestSandboxExposesNoHostPrimitives(t *testing.T) {
	a := newTestAnalyzer(t, time.Second)
	for _, src := range []string{
		`typeof require;`,
		`typeof process;`,
		`typeof setTimeout;`,
	} {
		report := a.Validate(src, true)
		if report.DryRun == nil || !report.DryRun.Success {
			t.Fatalf("%q: %+v", src, report.DryRun)
		}
		if report.DryRun.Output != "undefined" {
			t.Fatalf("%q leaked a host primitive: %q", src, report.DryRun.Output)
		}
	}
}

func TestConsoleIsNoop(t *testing.T) {
	a := newTestAnalyzer(t, time.Second)
	report := a.Validate(`console.log("hello"); "done";`, true)
	if report.DryRun == nil || !report.DryRun.Success {
		t.Fatalf("console call broke the sandbox: %+v", report.DryRun)
	}
	if report.DryRun.Output != "done" {
		t.Fatalf("output = %q", report.DryRun.Output)
	}
}
