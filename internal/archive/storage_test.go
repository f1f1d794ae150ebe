package archive

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func validatedPackage(t *testing.T) ([]byte, *Result) {
	t.Helper()
	files := basePackage()
	files["scripts/run.js"] = "console.log('ok');"
	data := buildZip(t, files)
	res := newTestValidator().Validate(data)
	if !res.Valid {
		t.Fatalf("fixture package invalid: %v", res.Issues)
	}
	return data, res
}

func TestStorageSaveAndLoad(t *testing.T) {
	root := t.TempDir()
	st := NewStorage(root, zap.NewNop())
	data, res := validatedPackage(t)

	saved, err := st.Save(data, res, "tenant-1", "user-1")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	want := filepath.Join(root, "tenant-1", "report-builder", "1.2.0", "package.zip")
	if saved.Path != want {
		t.Fatalf("stored at %s, want %s", saved.Path, want)
	}
	if saved.PackageID == "" {
		t.Fatal("missing package id")
	}

	meta, err := st.LoadMetadata(saved.Path)
	if err != nil {
		t.Fatalf("load metadata: %v", err)
	}
	if meta.TenantID != "tenant-1" || meta.Manifest == nil || meta.Manifest.Name != "report-builder" {
		t.Fatalf("metadata misround-tripped: %+v", meta)
	}
	if len(meta.Files) != len(res.Files) {
		t.Fatalf("file inventory lost: %d vs %d", len(meta.Files), len(res.Files))
	}
}

func TestStorageSaveOverwritesSameCoordinates(t *testing.T) {
	st := NewStorage(t.TempDir(), zap.NewNop())
	data, res := validatedPackage(t)

	first, err := st.Save(data, res, "tenant-1", "user-1")
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	second, err := st.Save(data, res, "tenant-1", "user-2")
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if first.Path != second.Path {
		t.Fatalf("paths differ: %s vs %s", first.Path, second.Path)
	}
	meta, err := st.LoadMetadata(second.Path)
	if err != nil {
		t.Fatalf("load metadata: %v", err)
	}
	if meta.UserID != "user-2" {
		t.Fatalf("sidecar not overwritten: %+v", meta)
	}
}

func TestStorageSaveRejectsUnvalidated(t *testing.T) {
	st := NewStorage(t.TempDir(), zap.NewNop())
	data, res := validatedPackage(t)

	if _, err := st.Save(data, &Result{Valid: false}, "t", "u"); err == nil {
		t.Fatal("invalid result accepted")
	}
	if _, err := st.Save(data, nil, "t", "u"); err == nil {
		t.Fatal("nil result accepted")
	}
	if _, err := st.Save(data, res, "", "u"); err == nil {
		t.Fatal("missing tenant accepted")
	}
}

func TestStorageExtract(t *testing.T) {
	st := NewStorage(t.TempDir(), zap.NewNop())
	data, res := validatedPackage(t)
	saved, err := st.Save(data, res, "tenant-1", "user-1")
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	target := t.TempDir()
	if err := st.Extract(saved.Path, target, ExtractOptions{}); err != nil {
		t.Fatalf("extract: %v", err)
	}

	if _, err := os.Stat(filepath.Join(target, ManifestFile)); !os.IsNotExist(err) {
		t.Fatal("manifest.json must not be extracted into a workspace")
	}
	for _, name := range []string{"skill.md", filepath.Join("scripts", "run.js")} {
		info, err := os.Stat(filepath.Join(target, name))
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if perm := info.Mode().Perm(); perm != 0o444 {
			t.Fatalf("%s extracted with mode %o, want 0444", name, perm)
		}
	}
}

func TestStorageExtractIncludeManifest(t *testing.T) {
	st := NewStorage(t.TempDir(), zap.NewNop())
	data, res := validatedPackage(t)
	saved, err := st.Save(data, res, "tenant-1", "user-1")
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	target := t.TempDir()
	if err := st.Extract(saved.Path, target, ExtractOptions{IncludeManifest: true}); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, ManifestFile)); err != nil {
		t.Fatalf("manifest missing despite IncludeManifest: %v", err)
	}
}

func TestStorageExtractIsRepeatable(t *testing.T) {
	st := NewStorage(t.TempDir(), zap.NewNop())
	data, res := validatedPackage(t)
	saved, err := st.Save(data, res, "tenant-1", "user-1")
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	target := t.TempDir()
	for i := 0; i < 2; i++ {
		if err := st.Extract(saved.Path, target, ExtractOptions{}); err != nil {
			t.Fatalf("extract pass %d: %v", i+1, err)
		}
	}
}
