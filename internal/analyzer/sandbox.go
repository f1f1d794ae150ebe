package analyzer

import (
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// DryRunResult captures the outcome of executing a script in the sandbox.
type DryRunResult struct {
	Success   bool   `json:"success"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// execute runs the source inside a fresh interpreter that exposes no
// filesystem, process, timer or module-loading primitives — only a no-op
// console. The wall clock is enforced from outside the interpreter via its
// interrupt channel, so a busy loop cannot hold the request hostage.
func (a *Analyzer) execute(source string) *DryRunResult {
	vm := goja.New()

	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	console := vm.NewObject()
	for _, method := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(method, noop)
	}
	_ = vm.Set("console", console)

	timer := time.AfterFunc(a.timeout, func() {
		vm.Interrupt("wall-clock timeout")
	})
	defer timer.Stop()

	start := time.Now()
	value, err := vm.RunString(source)
	elapsed := time.Since(start)

	res := &DryRunResult{ElapsedMS: elapsed.Milliseconds()}
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			res.TimedOut = true
			res.Error = fmt.Sprintf("execution exceeded the %s wall-clock limit", a.timeout)
		} else {
			res.Error = err.Error()
		}
		return res
	}

	res.Success = true
	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		res.Output = value.String()
	}
	return res
}
