// Package fileset implements the FileSet/ChunkWriter external collaborator
// of spec.md §6, grounded on the teacher's internal/chunker package: a
// filesystem-backed default that walks a payload root into an ordered
// FileHeader list, lays chunks end to end across that list, and writes
// received blocks back to the right file/offset. The teacher's
// domain-specific manifest profiles (media/medical/engineering/telemetry)
// have no home here and are not carried over.
package fileset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileHeader mirrors the data model's FileHeader: {name, length, ordinal}.
type FileHeader struct {
	Name    string
	Length  int64
	Ordinal int
}

// ComputeFileHeaders walks root in deterministic (lexical) order, building
// the ordered FileHeader list both sides must agree on structurally.
func ComputeFileHeaders(root string) ([]FileHeader, error) {
	var rel []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		r, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = append(rel, filepath.ToSlash(r))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk payload root: %w", err)
	}
	sort.Strings(rel)

	headers := make([]FileHeader, len(rel))
	for i, name := range rel {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(name)))
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		headers[i] = FileHeader{Name: name, Length: info.Size(), Ordinal: i}
	}
	return headers, nil
}

// HeadersEqual reports structural equality of two FileHeader lists, the
// check spec.md §4.2's reconnect rule requires (a mismatch is fatal:
// PayloadMismatch).
func HeadersEqual(a, b []FileHeader) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
