package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aymerick/raymond"
	"go.uber.org/zap"

	"github.com/skilldock/skilldock/internal/analyzer"
	"github.com/skilldock/skilldock/internal/manifest"
)

// Validator inspects an uploaded skill package archive and produces a
// Result holding every issue found, the parsed manifest and definition,
// and per-script analysis reports.
type Validator struct {
	analyzer *analyzer.Analyzer
	logger   *zap.Logger
}

func NewValidator(an *analyzer.Analyzer, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if an == nil {
		an = analyzer.New(0, logger)
	}
	return &Validator{analyzer: an, logger: logger}
}

// Validate runs the full check pipeline over a zip archive held in memory.
// It never returns an error; everything it finds lands in the Result.
func (v *Validator) Validate(data []byte) *Result {
	res := &Result{}

	if int64(len(data)) > CompressedLimit {
		res.addIssue(SeverityError, "", fmt.Sprintf("archive is %d bytes, over the %d MiB compressed limit", len(data), CompressedLimit>>20))
		res.finish()
		return res
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		res.addIssue(SeverityError, "", "archive is not a readable zip file")
		res.finish()
		return res
	}

	entries, ok := v.collectEntries(zr, res)
	if !ok {
		res.finish()
		return res
	}

	_, hasDefinition := entries[DefinitionFile]
	_, hasManifest := entries[ManifestFile]
	if !hasDefinition {
		res.addIssue(SeverityError, DefinitionFile, "required file skill.md is missing from the package root")
	}
	if !hasManifest {
		res.addIssue(SeverityError, ManifestFile, "required file manifest.json is missing from the package root")
	}
	if !hasDefinition && !hasManifest {
		res.finish()
		return res
	}

	if hasDefinition {
		def, err := ParseDefinition(entries[DefinitionFile])
		if err != nil {
			res.addIssue(SeverityError, DefinitionFile, err.Error())
		} else {
			res.Definition = def
		}
	}
	if hasManifest {
		m, violations := manifest.Parse(entries[ManifestFile])
		for _, viol := range violations {
			msg := viol.Message
			if viol.Field != "" {
				msg = viol.Field + ": " + msg
			}
			res.addIssue(SeverityError, ManifestFile, msg)
		}
		res.Manifest = m
	}

	v.checkFiles(entries, res)
	if res.Manifest != nil {
		v.applyFileRules(res.Manifest.FileRules, res)
	}

	res.finish()
	return res
}

// collectEntries normalizes paths and records the per-file inventory. A
// false return means the archive is unusable and validation stops here.
func (v *Validator) collectEntries(zr *zip.Reader, res *Result) (map[string][]byte, bool) {
	var declared uint64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		declared += f.UncompressedSize64
	}
	if declared > UncompressedLimit {
		res.addIssue(SeverityError, "", fmt.Sprintf("uncompressed contents declare %d bytes, over the %d MiB limit", declared, UncompressedLimit>>20))
		return nil, false
	}

	entries := make(map[string][]byte)
	var total int64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name, err := normalizeEntryPath(f.Name)
		if err != nil {
			res.addIssue(SeverityError, f.Name, fmt.Sprintf("unsafe entry path: %v", err))
			continue
		}
		if name == "" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			res.addIssue(SeverityError, name, "entry could not be opened")
			continue
		}
		b, err := io.ReadAll(io.LimitReader(rc, UncompressedLimit+1))
		_ = rc.Close()
		if err != nil {
			res.addIssue(SeverityError, name, "entry could not be read")
			continue
		}
		total += int64(len(b))
		if total > UncompressedLimit {
			res.addIssue(SeverityError, "", fmt.Sprintf("uncompressed contents exceed the %d MiB limit", UncompressedLimit>>20))
			return nil, false
		}
		if _, dup := entries[name]; dup {
			res.addIssue(SeverityWarning, name, "duplicate entry, later copy overwrites the earlier one")
		}
		entries[name] = b
		res.Files = append(res.Files, FileInfo{Path: name, SizeBytes: int64(len(b)), Kind: Classify(name)})
	}
	if len(entries) == 0 {
		res.addIssue(SeverityError, "", "archive contains no files")
		return nil, false
	}
	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })
	return entries, true
}

// checkFiles walks the inventory in path order, applying per-kind rules.
func (v *Validator) checkFiles(entries map[string][]byte, res *Result) {
	for _, fi := range res.Files {
		switch fi.Kind {
		case KindScript:
			rep := v.analyzer.Validate(string(entries[fi.Path]), false)
			for _, is := range rep.Issues {
				res.Issues = append(res.Issues, Issue{
					Severity: Severity(is.Severity),
					File:     fi.Path,
					Message:  is.Message,
					Line:     is.Line,
				})
			}
			res.ScriptReports = append(res.ScriptReports, rep)
		case KindTemplate:
			if _, err := raymond.Parse(string(entries[fi.Path])); err != nil {
				res.addIssue(SeverityError, fi.Path, fmt.Sprintf("template does not compile: %v", err))
			}
		case KindReference, KindAsset:
			if !allowedExtension(fi.Kind, fi.Path) {
				res.addIssue(SeverityError, fi.Path, "file extension is not allowed in this directory")
			}
		case KindOther:
			res.addIssue(SeverityWarning, fi.Path, "unexpected file location")
		}
	}
}

// applyFileRules enforces the manifest's per-glob size limits, given in KiB.
func (v *Validator) applyFileRules(rules map[string]int, res *Result) {
	patterns := make([]string, 0, len(rules))
	for p := range rules {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	for _, raw := range patterns {
		pat, err := CompilePattern(raw)
		if err != nil {
			res.addIssue(SeverityWarning, ManifestFile, fmt.Sprintf("file rule %q is not a valid pattern: %v", raw, err))
			continue
		}
		limit := int64(rules[raw]) * 1024
		matched := false
		for _, fi := range res.Files {
			if !pat.Match(fi.Path) {
				continue
			}
			matched = true
			if fi.SizeBytes > limit {
				res.addIssue(SeverityError, fi.Path, fmt.Sprintf("file is %d bytes, over the %d KiB limit for %q", fi.SizeBytes, rules[raw], raw))
			}
		}
		if !matched {
			v.logger.Debug("file rule matched nothing", zap.String("pattern", raw))
		}
	}
}

// DescribeIssues renders issues one per line for logs and API payloads.
func DescribeIssues(issues []Issue) string {
	var b strings.Builder
	for i, is := range issues {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(is.Severity))
		if is.File != "" {
			b.WriteString(" " + is.File)
			if is.Line > 0 {
				fmt.Fprintf(&b, ":%d", is.Line)
			}
		}
		b.WriteString(": " + is.Message)
	}
	return b.String()
}
