package archive

import (
	"path"
	"strings"
)

var referenceExts = map[string]bool{".md": true, ".txt": true, ".pdf": true}
var assetExts = map[string]bool{".csv": true, ".json": true, ".txt": true, ".png": true, ".jpg": true}

// Classify maps a normalized entry path onto the closed set of file kinds.
// Unknown combinations land in KindOther, which the validator flags with a
// warning.
func Classify(p string) FileKind {
	topDir, rest, nested := strings.Cut(p, "/")
	ext := strings.ToLower(path.Ext(p))

	if !nested {
		switch p {
		case ManifestFile:
			return KindManifest
		case DefinitionFile:
			return KindDefinition
		case "README.md":
			return KindReference
		}
		return KindOther
	}
	if rest == "" {
		return KindOther
	}

	switch topDir {
	case "scripts":
		if ext == ".js" {
			return KindScript
		}
		return KindOther
	case "templates":
		if ext == ".hbs" {
			return KindTemplate
		}
		return KindOther
	case "references":
		return KindReference
	case "assets":
		return KindAsset
	}
	return KindOther
}

// allowedExtension reports whether an entry of the given kind uses a
// permitted extension. Kinds without an allow-list always pass.
func allowedExtension(kind FileKind, p string) bool {
	ext := strings.ToLower(path.Ext(p))
	switch kind {
	case KindReference:
		// Root README.md has no directory allow-list.
		if !strings.Contains(p, "/") {
			return true
		}
		return referenceExts[ext]
	case KindAsset:
		return assetExts[ext]
	}
	return true
}
