package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skilldock/skilldock/internal/manifest"
)

// Storage persists validated packages on disk under
// {root}/{tenant}/{skill}/{version}/package.zip with a JSON metadata
// sidecar, and extracts them into agent workspaces.
type Storage struct {
	root   string
	logger *zap.Logger
}

func NewStorage(root string, logger *zap.Logger) *Storage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storage{root: root, logger: logger}
}

// Metadata is the sidecar written next to every stored package.
type Metadata struct {
	PackageID  string             `json:"package_id"`
	TenantID   string             `json:"tenant_id"`
	UserID     string             `json:"user_id"`
	Manifest   *manifest.Manifest `json:"manifest"`
	Definition *Definition        `json:"parsed_definition,omitempty"`
	Files      []FileInfo         `json:"files"`
	CreatedAt  time.Time          `json:"created_at"`
}

var ErrNotValidated = errors.New("package has not passed validation")

// Save writes the archive and its metadata sidecar. Re-uploading the same
// tenant/name/version coordinates overwrites the previous copy.
func (s *Storage) Save(data []byte, res *Result, tenantID, userID string) (*SavedPackage, error) {
	if res == nil || !res.Valid || res.Manifest == nil {
		return nil, ErrNotValidated
	}
	if tenantID == "" || userID == "" {
		return nil, errors.New("tenant and user are required to store a package")
	}

	dir := filepath.Join(s.root, tenantID, res.Manifest.Name, res.Manifest.Version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create package directory: %w", err)
	}

	archivePath := filepath.Join(dir, "package.zip")
	if err := os.WriteFile(archivePath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write package archive: %w", err)
	}

	meta := Metadata{
		PackageID:  uuid.NewString(),
		TenantID:   tenantID,
		UserID:     userID,
		Manifest:   res.Manifest,
		Definition: res.Definition,
		Files:      res.Files,
		CreatedAt:  time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode package metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "package.meta.json"), raw, 0o644); err != nil {
		return nil, fmt.Errorf("write package metadata: %w", err)
	}

	s.logger.Info("stored skill package",
		zap.String("tenant_id", tenantID),
		zap.String("skill", res.Manifest.Name),
		zap.String("version", res.Manifest.Version),
		zap.String("package_id", meta.PackageID))

	return &SavedPackage{PackageID: meta.PackageID, Path: archivePath, CreatedAt: meta.CreatedAt}, nil
}

// LoadMetadata reads the sidecar for a stored package archive.
func (s *Storage) LoadMetadata(archivePath string) (*Metadata, error) {
	raw, err := os.ReadFile(filepath.Join(filepath.Dir(archivePath), "package.meta.json"))
	if err != nil {
		return nil, fmt.Errorf("read package metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode package metadata: %w", err)
	}
	return &meta, nil
}

// ExtractOptions tunes what lands in the workspace.
type ExtractOptions struct {
	// IncludeManifest keeps manifest.json in the output. Deployments leave
	// it false so the manifest never reaches an agent workspace.
	IncludeManifest bool
}

// Extract unpacks a stored archive into targetDir. Every file is written
// read-only. Entries that would escape targetDir are skipped and logged,
// never fatal, so one bad entry cannot block a deployment.
func (s *Storage) Extract(archivePath, targetDir string, opts ExtractOptions) error {
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return fmt.Errorf("read package archive: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open package archive: %w", err)
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("create workspace directory: %w", err)
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name, err := normalizeEntryPath(f.Name)
		if err != nil || name == "" {
			s.logger.Warn("skipping unsafe archive entry",
				zap.String("entry", f.Name), zap.Error(err))
			continue
		}
		if !opts.IncludeManifest && name == ManifestFile {
			continue
		}
		dest := filepath.Join(targetDir, filepath.FromSlash(name))
		rel, err := filepath.Rel(targetDir, dest)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			s.logger.Warn("skipping entry resolving outside the workspace",
				zap.String("entry", f.Name))
			continue
		}
		if err := writeReadOnly(f, dest); err != nil {
			return fmt.Errorf("extract %s: %w", name, err)
		}
	}
	return nil
}

func writeReadOnly(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	// An earlier extraction may have left a read-only copy behind.
	_ = os.Chmod(dest, 0o644)
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, io.LimitReader(rc, UncompressedLimit+1)); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dest, 0o444)
}
