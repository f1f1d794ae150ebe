package archive

import (
	"errors"
	"strings"
)

// Pattern is a compiled restricted glob used by manifest file size rules.
// The only wildcard is `*`, which matches any run of characters up to the
// next path separator. Matching is iterative and never backtracks across
// segments, so a hostile filename cannot blow up match time.
type Pattern struct {
	segments []string
}

// CompilePattern validates and compiles a size-rule pattern.
func CompilePattern(raw string) (*Pattern, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty pattern")
	}
	if strings.HasPrefix(raw, "/") || strings.Contains(raw, "..") {
		return nil, errors.New("pattern must be a relative path without traversal")
	}
	return &Pattern{segments: strings.Split(raw, "/")}, nil
}

// Match reports whether a normalized entry path matches the pattern.
// Segment counts must agree exactly; `*` never crosses a separator.
func (p *Pattern) Match(name string) bool {
	parts := strings.Split(name, "/")
	if len(parts) != len(p.segments) {
		return false
	}
	for i, seg := range p.segments {
		if !matchSegment(seg, parts[i]) {
			return false
		}
	}
	return true
}

// matchSegment is the classic iterative wildcard match over one path
// segment: linear scans with a single star resume point, no recursion.
func matchSegment(pattern, s string) bool {
	var pi, si int
	star, starMatch := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			starMatch = si
			pi++
		case star >= 0:
			pi = star + 1
			starMatch++
			si = starMatch
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
