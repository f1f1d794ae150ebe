package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
)

// Entry is one file pulled out of an archive, path normalized.
type Entry struct {
	Path string
	Data []byte
}

var (
	errEmptyArchive = errors.New("archive contains no files")
	errTooLarge     = fmt.Errorf("uncompressed contents exceed the %d MiB limit", UncompressedLimit>>20)
)

// normalizeEntryPath strips leading ./ and / and rejects traversal,
// absolute and NUL-bearing paths. Returns an empty string for entries that
// must be skipped outright (directory markers).
func normalizeEntryPath(raw string) (string, error) {
	p := strings.TrimSpace(raw)
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", nil
	}
	if strings.ContainsRune(p, 0) {
		return "", errors.New("path contains NUL byte")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", errors.New("path traversal segment")
		}
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.New("path resolves outside the package root")
	}
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", errors.New("absolute path")
	}
	return clean, nil
}

// UnpackZip reads a zip held fully in memory, enforcing the declared and
// actual uncompressed ceilings before any content is trusted.
func UnpackZip(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	var declared uint64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		declared += f.UncompressedSize64
		if declared > UncompressedLimit {
			return nil, errTooLarge
		}
	}

	var entries []Entry
	var total int64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name, err := normalizeEntryPath(f.Name)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", f.Name, err)
		}
		if name == "" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open entry %q: %w", f.Name, err)
		}
		b, err := io.ReadAll(io.LimitReader(rc, UncompressedLimit+1))
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read entry %q: %w", f.Name, err)
		}
		total += int64(len(b))
		if total > UncompressedLimit {
			return nil, errTooLarge
		}
		entries = append(entries, Entry{Path: name, Data: b})
	}
	if len(entries) == 0 {
		return nil, errEmptyArchive
	}
	return entries, nil
}

// UnpackTarGz reads a gzip-compressed tarball with the same ceilings and
// path rules as UnpackZip. Links of any flavor are rejected.
func UnpackTarGz(data []byte) ([]Entry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var entries []Entry
	var total int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeSymlink, tar.TypeLink:
			return nil, fmt.Errorf("link entry not allowed: %s", hdr.Name)
		case tar.TypeReg:
			name, err := normalizeEntryPath(hdr.Name)
			if err != nil {
				return nil, fmt.Errorf("entry %q: %w", hdr.Name, err)
			}
			if name == "" {
				continue
			}
			if hdr.Size < 0 || total+hdr.Size > UncompressedLimit {
				return nil, errTooLarge
			}
			b, err := io.ReadAll(io.LimitReader(tr, UncompressedLimit+1))
			if err != nil {
				return nil, fmt.Errorf("read entry %q: %w", hdr.Name, err)
			}
			total += int64(len(b))
			if total > UncompressedLimit {
				return nil, errTooLarge
			}
			entries = append(entries, Entry{Path: name, Data: b})
		default:
			// Devices, FIFOs and friends have no business in a skill package.
			return nil, fmt.Errorf("unsupported entry type for %s", hdr.Name)
		}
	}
	if len(entries) == 0 {
		return nil, errEmptyArchive
	}
	return entries, nil
}

// Unpack chooses a format by filename hint, falling back to sniffing both.
func Unpack(name string, data []byte) ([]Entry, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return UnpackZip(data)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return UnpackTarGz(data)
	}
	if entries, err := UnpackZip(data); err == nil {
		return entries, nil
	}
	if entries, err := UnpackTarGz(data); err == nil {
		return entries, nil
	}
	return nil, errors.New("unsupported archive format (expected .zip or .tar.gz)")
}
