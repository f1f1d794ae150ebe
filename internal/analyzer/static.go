package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// Patterns reported by the static phase.
const (
	PatternEval        = "eval()"
	PatternFunctionCtr = "new Function()"
	PatternSpawnImport = "child_process import"
	PatternProcessKill = "process termination"
	PatternProcessEnv  = "process.env"
	PatternProtoMut    = "__proto__"
)

var spawnModules = map[string]bool{
	"child_process":      true,
	"node:child_process": true,
}

var terminationProps = map[string]bool{
	"exit":  true,
	"kill":  true,
	"abort": true,
}

// textRules is the pattern net under the syntax-tree pass. It also covers
// constructs the parser cannot represent (module syntax) or source that does
// not parse at all.
var textRules = []struct {
	re       *regexp.Regexp
	severity Severity
	pattern  string
	message  string
}{
	{regexp.MustCompile(`\beval\s*\(`), SeverityError, PatternEval, "call to eval executes arbitrary code"},
	{regexp.MustCompile(`\bnew\s+Function\s*\(`), SeverityError, PatternFunctionCtr, "dynamic function construction from a string"},
	{regexp.MustCompile(`\brequire\s*\(\s*['"](?:node:)?child_process['"]`), SeverityError, PatternSpawnImport, "require of a process-spawning module"},
	{regexp.MustCompile(`\bimport\b[^\n]{0,200}['"](?:node:)?child_process['"]`), SeverityError, PatternSpawnImport, "import of a process-spawning module"},
	{regexp.MustCompile(`\bprocess\s*\.\s*(exit|kill|abort)\b`), SeverityError, PatternProcessKill, "access to a process-termination primitive"},
	{regexp.MustCompile(`\bprocess\s*\.\s*env\b`), SeverityWarning, PatternProcessEnv, "direct access to the process environment table; declare variables through the manifest instead"},
	{regexp.MustCompile(`__proto__`), SeverityWarning, PatternProtoMut, "prototype-chain mutation marker in source"},
}

// static runs the syntax-tree inspection and the text-pattern scan, merging
// findings deduplicated by (pattern, line).
func (a *Analyzer) static(source string) []Issue {
	pass := &staticPass{
		src:  source,
		seen: make(map[string]bool),
	}

	prog, err := parser.ParseFile(nil, "skill.js", source, 0)
	if err == nil {
		for _, stmt := range prog.Body {
			pass.walk(stmt)
		}
	}

	for i, line := range strings.Split(source, "\n") {
		for _, rule := range textRules {
			if rule.re.MatchString(line) {
				pass.add(rule.severity, rule.pattern, rule.message, i+1)
			}
		}
	}
	return pass.issues
}

type staticPass struct {
	src    string
	issues []Issue
	seen   map[string]bool
}

func (p *staticPass) add(sev Severity, pattern, message string, line int) {
	key := fmt.Sprintf("%s@%d", pattern, line)
	if p.seen[key] {
		return
	}
	p.seen[key] = true
	p.issues = append(p.issues, Issue{Severity: sev, Pattern: pattern, Message: message, Line: line})
}

// lineAt converts a 1-based byte index from the parser into a line number.
func (p *staticPass) lineAt(idx int) int {
	if idx < 1 {
		return 0
	}
	if idx > len(p.src) {
		idx = len(p.src)
	}
	return 1 + strings.Count(p.src[:idx-1], "\n")
}

func (p *staticPass) walk(n ast.Node) {
	if n == nil {
		return
	}
	switch n := n.(type) {
	case *ast.Program:
		for _, s := range n.Body {
			p.walk(s)
		}
	case *ast.ExpressionStatement:
		p.walk(n.Expression)
	case *ast.BlockStatement:
		for _, s := range n.List {
			p.walk(s)
		}
	case *ast.IfStatement:
		p.walk(n.Test)
		p.walk(n.Consequent)
		p.walk(n.Alternate)
	case *ast.WhileStatement:
		p.walk(n.Test)
		p.walk(n.Body)
	case *ast.DoWhileStatement:
		p.walk(n.Test)
		p.walk(n.Body)
	case *ast.ForStatement:
		p.walk(n.Test)
		p.walk(n.Update)
		p.walk(n.Body)
	case *ast.ForInStatement:
		p.walk(n.Source)
		p.walk(n.Body)
	case *ast.ForOfStatement:
		p.walk(n.Source)
		p.walk(n.Body)
	case *ast.ReturnStatement:
		p.walk(n.Argument)
	case *ast.ThrowStatement:
		p.walk(n.Argument)
	case *ast.TryStatement:
		p.walk(n.Body)
		if n.Catch != nil {
			p.walk(n.Catch.Body)
		}
		p.walk(n.Finally)
	case *ast.SwitchStatement:
		p.walk(n.Discriminant)
		for _, c := range n.Body {
			p.walk(c.Test)
			for _, s := range c.Consequent {
				p.walk(s)
			}
		}
	case *ast.VariableStatement:
		for _, b := range n.List {
			p.walk(b.Initializer)
		}
	case *ast.LexicalDeclaration:
		for _, b := range n.List {
			p.walk(b.Initializer)
		}
	case *ast.FunctionDeclaration:
		p.walk(n.Function)
	case *ast.FunctionLiteral:
		p.walk(n.Body)
	case *ast.ArrowFunctionLiteral:
		p.walk(n.Body)
	case *ast.ExpressionBody:
		p.walk(n.Expression)
	case *ast.CallExpression:
		p.checkCall(n)
		p.walk(n.Callee)
		for _, arg := range n.ArgumentList {
			p.walk(arg)
		}
	case *ast.NewExpression:
		p.checkNew(n)
		p.walk(n.Callee)
		for _, arg := range n.ArgumentList {
			p.walk(arg)
		}
	case *ast.DotExpression:
		p.checkDot(n)
		p.walk(n.Left)
	case *ast.BracketExpression:
		p.checkBracket(n)
		p.walk(n.Left)
		p.walk(n.Member)
	case *ast.AssignExpression:
		p.walk(n.Left)
		p.walk(n.Right)
	case *ast.BinaryExpression:
		p.walk(n.Left)
		p.walk(n.Right)
	case *ast.UnaryExpression:
		p.walk(n.Operand)
	case *ast.ConditionalExpression:
		p.walk(n.Test)
		p.walk(n.Consequent)
		p.walk(n.Alternate)
	case *ast.SequenceExpression:
		for _, e := range n.Sequence {
			p.walk(e)
		}
	case *ast.ArrayLiteral:
		for _, e := range n.Value {
			p.walk(e)
		}
	case *ast.ObjectLiteral:
		for _, prop := range n.Value {
			switch prop := prop.(type) {
			case *ast.PropertyKeyed:
				p.walk(prop.Key)
				p.walk(prop.Value)
			case *ast.SpreadElement:
				p.walk(prop.Expression)
			}
		}
	}
}

func (p *staticPass) checkCall(n *ast.CallExpression) {
	ident, ok := n.Callee.(*ast.Identifier)
	if !ok {
		return
	}
	line := p.lineAt(int(n.Idx0()))
	switch ident.Name.String() {
	case "eval":
		p.add(SeverityError, PatternEval, "call to eval executes arbitrary code", line)
	case "Function":
		p.add(SeverityError, PatternFunctionCtr, "dynamic function construction from a string", line)
	case "require":
		if len(n.ArgumentList) > 0 {
			if lit, ok := n.ArgumentList[0].(*ast.StringLiteral); ok && spawnModules[lit.Value.String()] {
				p.add(SeverityError, PatternSpawnImport, "require of a process-spawning module", line)
			}
		}
	}
}

func (p *staticPass) checkNew(n *ast.NewExpression) {
	if ident, ok := n.Callee.(*ast.Identifier); ok && ident.Name.String() == "Function" {
		p.add(SeverityError, PatternFunctionCtr, "dynamic function construction from a string", p.lineAt(int(n.Idx0())))
	}
}

func (p *staticPass) checkDot(n *ast.DotExpression) {
	ident, ok := n.Left.(*ast.Identifier)
	if !ok || ident.Name.String() != "process" {
		return
	}
	line := p.lineAt(int(n.Idx0()))
	prop := n.Identifier.Name.String()
	switch {
	case terminationProps[prop]:
		p.add(SeverityError, PatternProcessKill, "access to a process-termination primitive", line)
	case prop == "env":
		p.add(SeverityWarning, PatternProcessEnv, "direct access to the process environment table; declare variables through the manifest instead", line)
	}
}

func (p *staticPass) checkBracket(n *ast.BracketExpression) {
	ident, ok := n.Left.(*ast.Identifier)
	if !ok || ident.Name.String() != "process" {
		return
	}
	lit, ok := n.Member.(*ast.StringLiteral)
	if !ok {
		return
	}
	line := p.lineAt(int(n.Idx0()))
	prop := lit.Value.String()
	switch {
	case terminationProps[prop]:
		p.add(SeverityError, PatternProcessKill, "access to a process-termination primitive", line)
	case prop == "env":
		p.add(SeverityWarning, PatternProcessEnv, "direct access to the process environment table; declare variables through the manifest instead", line)
	}
}
