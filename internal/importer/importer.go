// Package importer pulls a third-party repository archive over HTTP and
// turns the skill definitions it contains into packages ready for
// validation. Downloads carry the same trust model as direct uploads:
// size-capped, path-sanitized, nothing executed.
package importer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skilldock/skilldock/internal/archive"
	"github.com/skilldock/skilldock/internal/manifest"
)

const (
	// MaxDownloadBytes caps a repository archive download.
	MaxDownloadBytes = int64(20 << 20)
	// MaxDiscoveryDepth bounds how deep skill.md discovery descends,
	// counted in directory levels below the repository root.
	MaxDiscoveryDepth = 3

	maxRedirects    = 5
	downloadTimeout = 45 * time.Second
)

// DiscoveredSkill is one skill found inside an imported repository.
type DiscoveredSkill struct {
	// Dir is the repository directory holding the skill, "" for root.
	Dir        string
	Definition *archive.Definition
	// Manifest is the parsed sibling manifest.json, nil when the skill
	// ships without one or it fails to parse. Full validation happens
	// when the assembled package is submitted, not here.
	Manifest *manifest.Manifest
	// Files maps package-relative paths to contents, skill.md included.
	Files map[string][]byte
}

// Importer downloads and dissects remote repositories.
type Importer struct {
	client *http.Client
	logger *zap.Logger
}

func New(logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		client: &http.Client{
			Timeout: downloadTimeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects while downloading archive")
				}
				return nil
			},
		},
		logger: logger,
	}
}

// Import downloads the archive at rawURL and returns every skill found
// within the discovery depth.
func (im *Importer) Import(ctx context.Context, rawURL string) ([]DiscoveredSkill, error) {
	data, finalURL, err := im.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	entries, err := archive.Unpack(finalURL, data)
	if err != nil {
		return nil, fmt.Errorf("unpack repository archive: %w", err)
	}
	return Discover(entries)
}

func (im *Importer) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, "", fmt.Errorf("invalid archive URL %q", rawURL)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := im.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download failed: %s", resp.Status)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read archive body: %w", err)
	}
	if int64(len(b)) > MaxDownloadBytes {
		return nil, "", fmt.Errorf("download exceeds %d byte limit", MaxDownloadBytes)
	}
	im.logger.Info("repository archive downloaded",
		zap.String("url", finalURL),
		zap.Int("bytes", len(b)))
	return b, finalURL, nil
}

// Discover scans unpacked entries for skill.md files within the depth
// bound and groups each with its sibling files. Source-control exports
// wrap everything in a single top-level directory; that wrapper does not
// count against the depth.
func Discover(entries []archive.Entry) ([]DiscoveredSkill, error) {
	stripped := stripCommonRoot(entries)

	byDir := make(map[string]map[string][]byte)
	for _, e := range stripped {
		dir := path.Dir(e.Path)
		if dir == "." {
			dir = ""
		}
		if byDir[dir] == nil {
			byDir[dir] = make(map[string][]byte)
		}
		byDir[dir][path.Base(e.Path)] = e.Data
	}

	var dirs []string
	for dir, files := range byDir {
		if _, ok := files[archive.DefinitionFile]; !ok {
			continue
		}
		if depth(dir) > MaxDiscoveryDepth {
			continue
		}
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var out []DiscoveredSkill
	for _, dir := range dirs {
		def, err := archive.ParseDefinition(byDir[dir][archive.DefinitionFile])
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path.Join(dir, archive.DefinitionFile), err)
		}
		// The package keeps everything below the skill directory, with
		// paths rebased onto it.
		files := make(map[string][]byte)
		prefix := dir
		if prefix != "" {
			prefix += "/"
		}
		for _, e := range stripped {
			if prefix == "" {
				// A root-level skill keeps everything that is not part
				// of a deeper skill directory.
				if !underAnySkillDir(e.Path, dirs) {
					files[e.Path] = e.Data
				}
				continue
			}
			if strings.HasPrefix(e.Path, prefix) {
				files[strings.TrimPrefix(e.Path, prefix)] = e.Data
			}
		}
		var mf *manifest.Manifest
		if raw, ok := byDir[dir][archive.ManifestFile]; ok {
			if m, violations := manifest.Parse(raw); len(violations) == 0 {
				mf = m
			}
		}
		out = append(out, DiscoveredSkill{Dir: dir, Definition: def, Manifest: mf, Files: files})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no %s found within %d directory levels", archive.DefinitionFile, MaxDiscoveryDepth)
	}
	return out, nil
}

func underAnySkillDir(p string, skillDirs []string) bool {
	for _, d := range skillDirs {
		if d != "" && strings.HasPrefix(p, d+"/") {
			return true
		}
	}
	return false
}

func depth(dir string) int {
	if dir == "" {
		return 0
	}
	return strings.Count(dir, "/") + 1
}

// stripCommonRoot removes the single top-level wrapper directory that
// repository tarballs carry, when every entry shares one.
func stripCommonRoot(entries []archive.Entry) []archive.Entry {
	if len(entries) == 0 {
		return entries
	}
	root, _, ok := strings.Cut(entries[0].Path, "/")
	if !ok {
		return entries
	}
	prefix := root + "/"
	for _, e := range entries {
		if !strings.HasPrefix(e.Path, prefix) {
			return entries
		}
	}
	out := make([]archive.Entry, len(entries))
	for i, e := range entries {
		out[i] = archive.Entry{Path: strings.TrimPrefix(e.Path, prefix), Data: e.Data}
	}
	return out
}
