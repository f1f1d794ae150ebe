// Package archive validates, stores and extracts untrusted skill package
// archives. Validation never executes bundle contents; extraction writes
// read-only files and refuses anything that resolves outside the target
// directory.
package archive

import (
	"time"

	"github.com/skilldock/skilldock/internal/analyzer"
	"github.com/skilldock/skilldock/internal/manifest"
)

// Size ceilings for uploaded archives.
const (
	CompressedLimit   = 5 << 20  // 5 MiB raw upload
	UncompressedLimit = 20 << 20 // 20 MiB declared/actual extracted total
)

// Required root files of every package.
const (
	DefinitionFile = "skill.md"
	ManifestFile   = "manifest.json"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is a single validation finding. Issues keep insertion order and are
// never deduplicated.
type Issue struct {
	Severity Severity `json:"severity"`
	File     string   `json:"file,omitempty"`
	Message  string   `json:"message"`
	Line     int      `json:"line,omitempty"`
}

// FileKind classifies a package entry by its top-level directory and
// extension.
type FileKind string

const (
	KindManifest   FileKind = "manifest"
	KindDefinition FileKind = "skill-definition"
	KindScript     FileKind = "script"
	KindTemplate   FileKind = "template"
	KindReference  FileKind = "reference"
	KindAsset      FileKind = "asset"
	KindOther      FileKind = "other"
)

// FileInfo describes one entry of a validated package.
type FileInfo struct {
	Path      string   `json:"path"`
	SizeBytes int64    `json:"size_bytes"`
	Kind      FileKind `json:"kind"`
}

// Definition is the parsed skill.md: YAML front-matter plus the numbered
// step list extracted from the body.
type Definition struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Trigger     string   `json:"trigger,omitempty"`
	Steps       []string `json:"steps,omitempty"`
}

// Result is the outcome of validating one archive. Immutable once returned;
// Valid is true iff no issue carries error severity.
type Result struct {
	Valid         bool               `json:"valid"`
	Issues        []Issue            `json:"issues"`
	Manifest      *manifest.Manifest `json:"manifest,omitempty"`
	Definition    *Definition        `json:"skill_definition,omitempty"`
	Files         []FileInfo         `json:"files"`
	ScriptReports []*analyzer.Report `json:"script_reports,omitempty"`
}

func (r *Result) addIssue(sev Severity, file, message string) {
	r.Issues = append(r.Issues, Issue{Severity: sev, File: file, Message: message})
}

func (r *Result) finish() *Result {
	r.Valid = true
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			r.Valid = false
			break
		}
	}
	return r
}

// SavedPackage describes a persisted archive.
type SavedPackage struct {
	PackageID string    `json:"package_id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}
