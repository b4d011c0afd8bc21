// Package flist implements the receiver-side directory enumeration that
// produces the file list (§3, §4.4): a flat, index-ordered catalog of the
// destination tree, filtered by the exclude predicate.
package flist

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/mirrorsync/mirrorsync/internal/protocol"
)

// Excluded reports whether path should be skipped, given the configured
// exclude fragments. A path is excluded iff any fragment is a literal
// prefix or suffix of it (§4.4) — the same rule in both the recursive and
// non-recursive branches, resolving the inversion defect the spec
// documents in §9 open question 1 — or, supplementally, a fragment
// containing '*' matches the path as a doublestar glob.
func Excluded(path string, exclude []string) bool {
	for _, fragment := range exclude {
		if fragment == "" {
			continue
		}
		if strings.HasPrefix(path, fragment) || strings.HasSuffix(path, fragment) {
			return true
		}
		if strings.Contains(fragment, "*") {
			if ok, _ := doublestar.Match(fragment, path); ok {
				return true
			}
		}
	}
	return false
}

// Enumerate walks root (recursively if recursive is true, otherwise only
// its immediate children) and returns the ordered, index-assigned file
// list, applying Excluded along the way. Directories and symlinks are
// recorded with their own entries and marked accordingly but are not
// themselves descended into beyond what the walk strategy already visits.
func Enumerate(root string, recursive bool, exclude []string) ([]protocol.FlistEntry, error) {
	if recursive {
		return enumerateRecursive(root, exclude)
	}
	return enumerateFlat(root, exclude)
}

func enumerateRecursive(root string, exclude []string) ([]protocol.FlistEntry, error) {
	var entries []protocol.FlistEntry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if Excluded(path, exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		entry, err := buildEntry(path, d)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "flist: walking %s", root)
	}

	assignIndices(entries)
	return entries, nil
}

func enumerateFlat(root string, exclude []string) ([]protocol.FlistEntry, error) {
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "flist: reading directory %s", root)
	}

	// os.ReadDir already sorts by name; keep that order for determinism.
	sort.Slice(dirEntries, func(i, j int) bool { return dirEntries[i].Name() < dirEntries[j].Name() })

	var entries []protocol.FlistEntry
	for _, d := range dirEntries {
		path := filepath.Join(root, d.Name())
		if Excluded(path, exclude) {
			continue
		}
		entry, err := buildEntry(path, d)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	assignIndices(entries)
	return entries, nil
}

func assignIndices(entries []protocol.FlistEntry) {
	for i := range entries {
		entries[i].Index = uint32(i)
	}
}

func buildEntry(path string, d os.DirEntry) (protocol.FlistEntry, error) {
	info, err := d.Info()
	if err != nil {
		return protocol.FlistEntry{}, errors.Wrapf(err, "flist: stat %s", path)
	}

	entry := protocol.FlistEntry{
		Filename:  path,
		Size:      uint64(info.Size()),
		Mtime:     info.ModTime().Unix(),
		Mode:      uint32(info.Mode().Perm()),
		IsDir:     d.IsDir(),
		IsSymlink: info.Mode()&os.ModeSymlink != 0,
	}

	if stat, ok := info.Sys().(*unix.Stat_t); ok {
		uid := stat.Uid
		gid := stat.Gid
		entry.UID = &uid
		entry.GID = &gid
	}

	return entry, nil
}
