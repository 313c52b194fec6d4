// Package archive implements the pre-pack/final-pack pipeline: pre-packing
// vendored wheels into a cached, reusable archive per cell, then copying
// that archive and appending the manifest, optional settings, and extension
// source to produce the final pack (spec §4.8).
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// Entry maps one on-disk file to its in-archive path.
type Entry struct {
	DiskPath    string
	ArchivePath string
	Size        int64
}

// PrePack ensures the archive at path contains exactly the given entries.
// If an existing archive already lists exactly this entry set, it is left
// untouched (spec §8: "Pre-pack of an already-up-to-date cell touches no
// files"). Otherwise it is rebuilt from scratch — single-entry deletion from
// a zip is avoided — writing files in ascending size order to keep memory
// peaks small.
func PrePack(path string, entries []Entry) error {
	if existing, err := existingEntryNames(path); err == nil {
		if sameEntrySet(existing, entries) {
			return nil
		}
	}

	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })

	return buildZip(path, func(zw *zip.Writer) error {
		for _, e := range sorted {
			if err := copyEntryInto(zw, e); err != nil {
				return err
			}
		}

		return nil
	})
}

// FinalPack produces the final extension archive at path by copying every
// entry out of the already-built pre-pack archive at prepackPath, then
// appending entries (the manifest, optional init settings, and extension
// source — the parts that change on every rebuild even when the vendored
// wheel set doesn't). Unlike PrePack it never reuses an existing archive by
// comparing entry names: the pre-pack reuse check only tells you the wheel
// set is unchanged, and the manifest and source it's combined with here
// change far more often, so the final archive is always rewritten from the
// two inputs.
//
// If path already exists, FinalPack fails unless overwrite is true (spec
// §4.8: overwriting an existing final-pack target is governed by a
// caller-supplied flag).
func FinalPack(path, prepackPath string, entries []Entry, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("final pack %s already exists and overwrite was not requested", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
	}

	pr, err := zip.OpenReader(prepackPath)
	if err != nil {
		return fmt.Errorf("opening pre-pack archive %s: %w", prepackPath, err)
	}
	defer func() { _ = pr.Close() }()

	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })

	return buildZip(path, func(zw *zip.Writer) error {
		for _, zf := range pr.File {
			if err := copyZipFileInto(zw, zf); err != nil {
				return err
			}
		}

		for _, e := range sorted {
			if err := copyEntryInto(zw, e); err != nil {
				return err
			}
		}

		return nil
	})
}

func existingEntryNames(path string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}

	return names, nil
}

func sameEntrySet(existing []string, wanted []Entry) bool {
	if len(existing) != len(wanted) {
		return false
	}

	want := make(map[string]bool, len(wanted))
	for _, e := range wanted {
		want[e.ArchivePath] = true
	}

	for _, name := range existing {
		if !want[name] {
			return false
		}
	}

	return true
}

// buildZip writes a fresh zip to path by staging it at path+".tmp" and
// renaming over the target only once write has fully succeeded, so a failed
// or interrupted pack never leaves a corrupt archive at path.
func buildZip(path string, write func(*zip.Writer) error) error {
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmpPath, err)
	}

	zw := zip.NewWriter(f)

	if err := write(zw); err != nil {
		_ = zw.Close()
		_ = f.Close()
		_ = os.Remove(tmpPath)

		return err
	}

	if err := zw.Close(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("closing zip writer: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("renaming %s: %w", tmpPath, err)
	}

	return nil
}

func copyEntryInto(zw *zip.Writer, e Entry) error {
	src, err := os.Open(e.DiskPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", e.DiskPath, err)
	}
	defer func() { _ = src.Close() }()

	archivePath, err := safeArchivePath(e.ArchivePath)
	if err != nil {
		return err
	}

	w, err := zw.Create(archivePath)
	if err != nil {
		return fmt.Errorf("creating zip entry %s: %w", archivePath, err)
	}

	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("writing zip entry %s: %w", archivePath, err)
	}

	return nil
}

// copyZipFileInto streams one entry of an already-open zip (the pre-pack
// archive) into zw, preserving its compression method.
func copyZipFileInto(zw *zip.Writer, zf *zip.File) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("opening pre-pack entry %s: %w", zf.Name, err)
	}
	defer func() { _ = rc.Close() }()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: zf.Name, Method: zf.Method})
	if err != nil {
		return fmt.Errorf("creating zip entry %s: %w", zf.Name, err)
	}

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("copying pre-pack entry %s: %w", zf.Name, err)
	}

	return nil
}

// safeArchivePath rejects any in-archive path that would escape the archive
// root (ZipSlip), normalizing directory separators to "/".
func safeArchivePath(p string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(p))

	if strings.HasPrefix(clean, "../") || clean == ".." || strings.HasPrefix(clean, "/") {
		return "", fmt.Errorf("unsafe archive path %q", p)
	}

	return clean, nil
}
