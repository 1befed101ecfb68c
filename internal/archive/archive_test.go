// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package archive

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestZipFolder(t *testing.T) {
	src := filepath.Join(t.TempDir(), "20240301_101500")
	writeFile(t, filepath.Join(src, "result.json"), `{"a": 1}`)
	writeFile(t, filepath.Join(src, "report.pdf"), "%PDF")
	writeFile(t, filepath.Join(src, "images", "roi_1.png"), "png")

	dest := filepath.Join(t.TempDir(), "staging")
	zipPath, err := ZipFolder(src, "catphan_", dest)
	if err != nil {
		t.Fatalf("ZipFolder() error = %v", err)
	}
	if want := filepath.Join(dest, "catphan_20240301_101500.zip"); zipPath != want {
		t.Errorf("ZipFolder() path = %s, want %s", zipPath, want)
	}

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()

	var names []string
	contents := map[string]string{}
	for _, f := range zr.File {
		names = append(names, f.Name)
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		contents[f.Name] = string(b)
	}
	sort.Strings(names)

	want := []string{"images/roi_1.png", "report.pdf", "result.json"}
	if len(names) != len(want) {
		t.Fatalf("entries = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d = %s, want %s", i, names[i], want[i])
		}
	}
	if contents["result.json"] != `{"a": 1}` {
		t.Errorf("result.json content = %q", contents["result.json"])
	}
}

func TestZipFolder_Errors(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		_, err := ZipFolder(filepath.Join(t.TempDir(), "nope"), "p_", t.TempDir())
		if err == nil {
			t.Fatal("expected error for missing source")
		}
	})

	t.Run("empty source", func(t *testing.T) {
		src := t.TempDir()
		if err := os.MkdirAll(filepath.Join(src, "sub"), 0o755); err != nil {
			t.Fatal(err)
		}
		_, err := ZipFolder(src, "p_", t.TempDir())
		if !errors.Is(err, ErrEmptyFolder) {
			t.Fatalf("expected ErrEmptyFolder, got %v", err)
		}
	})

	t.Run("source is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "result.json")
		writeFile(t, file, "{}")
		if _, err := ZipFolder(file, "p_", t.TempDir()); err == nil {
			t.Fatal("expected error for file source")
		}
	})

	t.Run("destination inside source", func(t *testing.T) {
		src := t.TempDir()
		writeFile(t, filepath.Join(src, "result.json"), "{}")
		if _, err := ZipFolder(src, "p_", filepath.Join(src, "tmp")); err == nil {
			t.Fatal("expected error for destination inside source")
		}
	})
}

func TestArchiveName(t *testing.T) {
	if got := ArchiveName("/data/out/site_dev_catphan/20240101_000000/", "catphan_"); got != "catphan_20240101_000000.zip" {
		t.Errorf("ArchiveName() = %s", got)
	}
}
