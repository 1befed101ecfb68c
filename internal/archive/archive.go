// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptyFolder is returned when the source folder holds no regular files.
var ErrEmptyFolder = errors.New("folder contains no files")

// ArchiveName returns the archive file name for srcDir: <prefix><base>.zip.
func ArchiveName(srcDir, prefix string) string {
	return prefix + filepath.Base(filepath.Clean(srcDir)) + ".zip"
}

// ZipFolder writes the recursive contents of srcDir into destDir/<prefix><base>.zip
// and returns the archive path. Entry names are relative to srcDir.
// The caller owns the returned file.
func ZipFolder(srcDir, prefix, destDir string) (string, error) {
	srcDir = filepath.Clean(srcDir)
	fi, err := os.Stat(srcDir)
	if err != nil {
		return "", fmt.Errorf("stat source folder: %w", err)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("source %s is not a directory", srcDir)
	}

	files, err := listFiles(srcDir)
	if err != nil {
		return "", fmt.Errorf("walk source folder: %w", err)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%s: %w", srcDir, ErrEmptyFolder)
	}

	if inside(srcDir, destDir) {
		return "", fmt.Errorf("destination %s is inside source folder %s", destDir, srcDir)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create destination folder: %w", err)
	}

	zipPath := filepath.Join(destDir, ArchiveName(srcDir, prefix))
	if err := writeZip(zipPath, srcDir, files); err != nil {
		_ = os.Remove(zipPath)
		return "", err
	}
	return zipPath, nil
}

// listFiles returns the regular files under root as slash-separated relative paths.
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, err
}

func writeZip(zipPath, root string, files []string) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create zip: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range files {
		if err := writeZipFileFromDisk(zw, filepath.Join(root, filepath.FromSlash(name)), name); err != nil {
			_ = zw.Close()
			return fmt.Errorf("add %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish zip: %w", err)
	}
	return f.Close()
}

func writeZipFileFromDisk(zw *zip.Writer, srcPath, zipPath string) error {
	fi, err := os.Stat(srcPath)
	if err != nil {
		return err
	}

	hdr, err := zip.FileInfoHeader(fi)
	if err != nil {
		return err
	}
	hdr.Name = zipPath
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = io.Copy(w, src)
	return err
}

// inside reports whether dir is root or lies below it.
func inside(root, dir string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
