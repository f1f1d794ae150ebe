package importer

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/skilldock/skilldock/internal/archive"
)

const sampleDefinition = `---
title: Report Builder
description: Builds weekly reports.
---
1. Run the export.
`

func tarGzArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}); err != nil {
			t.Fatalf("header %s: %v", name, err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func entriesFrom(t *testing.T, data []byte) []archive.Entry {
	t.Helper()
	entries, err := archive.UnpackTarGz(data)
	if err != nil {
		t.Fatalf("unpack fixture: %v", err)
	}
	return entries
}

func TestImportFromHTTP(t *testing.T) {
	data := tarGzArchive(t, map[string]string{
		"repo-main/skills/report/skill.md":       sampleDefinition,
		"repo-main/skills/report/manifest.json":  "{}",
		"repo-main/skills/report/scripts/run.js": "console.log('ok');",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/gzip")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	skills, err := New(zap.NewNop()).Import(context.Background(), srv.URL+"/archive.tar.gz")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(skills) != 1 {
		t.Fatalf("expected 1 skill, got %d", len(skills))
	}
	sk := skills[0]
	if sk.Dir != "skills/report" || sk.Definition.Title != "Report Builder" {
		t.Fatalf("discovered %+v", sk)
	}
	if string(sk.Files["scripts/run.js"]) != "console.log('ok');" {
		t.Fatalf("files not rebased: %v", sk.Files)
	}
}

func TestImportZipArchive(t *testing.T) {
	data := zipArchive(t, map[string]string{
		"skill.md":      sampleDefinition,
		"manifest.json": "{}",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	skills, err := New(zap.NewNop()).Import(context.Background(), srv.URL+"/archive.zip")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(skills) != 1 || skills[0].Dir != "" {
		t.Fatalf("discovered %+v", skills)
	}
}

func TestImportRejectsOversizedDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		big := make([]byte, 1<<20)
		for written := int64(0); written <= MaxDownloadBytes; written += int64(len(big)) {
			if _, err := w.Write(big); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	_, err := New(zap.NewNop()).Import(context.Background(), srv.URL+"/huge.tar.gz")
	if err == nil || !strings.Contains(err.Error(), "limit") {
		t.Fatalf("oversized download accepted: %v", err)
	}
}

func TestImportRejectsBadStatusAndScheme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	im := New(zap.NewNop())
	if _, err := im.Import(context.Background(), srv.URL+"/gone.zip"); err == nil {
		t.Fatal("404 accepted")
	}
	if _, err := im.Import(context.Background(), "ftp://example.com/a.zip"); err == nil {
		t.Fatal("ftp scheme accepted")
	}
}

func TestDiscoverDepthBound(t *testing.T) {
	entries := entriesFrom(t, tarGzArchive(t, map[string]string{
		"repo/a/b/c/skill.md":        sampleDefinition,
		"repo/a/b/c/d/skill.md":      sampleDefinition,
		"repo/a/b/c/d/manifest.json": "{}",
	}))
	skills, err := Discover(entries)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(skills) != 1 || skills[0].Dir != "a/b/c" {
		t.Fatalf("depth bound ignored: %+v", skills)
	}
}

func TestDiscoverMultipleSkills(t *testing.T) {
	entries := entriesFrom(t, tarGzArchive(t, map[string]string{
		"repo/skills/one/skill.md": sampleDefinition,
		"repo/skills/two/skill.md": sampleDefinition,
		"repo/README.md":           "docs",
	}))
	skills, err := Discover(entries)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(skills) != 2 {
		t.Fatalf("expected 2 skills, got %+v", skills)
	}
	if skills[0].Dir != "skills/one" || skills[1].Dir != "skills/two" {
		t.Fatalf("discovery order not deterministic: %+v", skills)
	}
}

func TestDiscoverParsesSiblingManifest(t *testing.T) {
	valid := `{
  "name": "report-builder",
  "version": "1.2.0",
  "description": "Builds weekly reports",
  "category": "automation"
}`
	entries := entriesFrom(t, tarGzArchive(t, map[string]string{
		"repo/skills/report/skill.md":      sampleDefinition,
		"repo/skills/report/manifest.json": valid,
		"repo/skills/bare/skill.md":        sampleDefinition,
	}))
	skills, err := Discover(entries)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(skills) != 2 {
		t.Fatalf("expected 2 skills, got %+v", skills)
	}
	// Sorted: bare before report.
	if skills[0].Manifest != nil {
		t.Fatalf("manifest-less skill should carry nil manifest: %+v", skills[0])
	}
	mf := skills[1].Manifest
	if mf == nil || mf.Name != "report-builder" || mf.Version != "1.2.0" {
		t.Fatalf("sibling manifest not parsed: %+v", mf)
	}
}

func TestDiscoverNoSkills(t *testing.T) {
	entries := entriesFrom(t, tarGzArchive(t, map[string]string{
		"repo/README.md": "just docs",
	}))
	if _, err := Discover(entries); err == nil {
		t.Fatal("expected error for repository without skills")
	}
}

func TestDiscoverBadDefinition(t *testing.T) {
	entries := entriesFrom(t, tarGzArchive(t, map[string]string{
		"repo/skill.md": "no front matter",
	}))
	if _, err := Discover(entries); err == nil {
		t.Fatal("expected parse error")
	}
}
