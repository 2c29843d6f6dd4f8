// Package sweep finds and removes build output directories and lockfiles
// below a workspace root.
package sweep

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
)

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".jj":  true,
}

// skipper decides which directories a walk never enters.
type skipper struct {
	names map[string]bool
	paths map[string]bool
}

// newSkipper extends skipDirs with extra entries. An absolute entry skips
// that exact directory; any other entry skips every directory with that
// base name.
func newSkipper(extra []string) skipper {
	s := skipper{names: make(map[string]bool), paths: make(map[string]bool)}
	for name := range skipDirs {
		s.names[name] = true
	}
	for _, e := range extra {
		switch {
		case e == "":
		case filepath.IsAbs(e):
			s.paths[filepath.Clean(e)] = true
		default:
			s.names[e] = true
		}
	}
	return s
}

func (s skipper) skip(path, name string) bool {
	return s.names[name] || s.paths[path]
}

// FindDirs returns every directory below root whose base name is name.
// Matched directories are not descended into. Directories listed in skip
// are never entered (see newSkipper).
func FindDirs(root, name string, skip ...string) ([]string, error) {
	if name == "" {
		return nil, errors.New("directory name is empty")
	}

	sk := newSkipper(skip)
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() || path == root {
			return nil
		}
		if sk.paths[path] || (d.Name() != name && sk.names[d.Name()]) {
			return filepath.SkipDir
		}
		if d.Name() == name {
			found = append(found, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Strings(found)
	return found, nil
}

// FindFiles returns every regular file below root whose base name matches
// the glob pattern. Directories listed in skip are never entered.
func FindFiles(root, pattern string, skip ...string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	sk := newSkipper(skip)
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != root && sk.skip(path, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Strings(found)
	return found, nil
}

// Remove deletes each path. It keeps going after a failure and returns the
// paths that were removed along with every failure joined together.
func Remove(paths []string) ([]string, error) {
	var removed []string
	var errs []error
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", p, err))
			continue
		}
		removed = append(removed, p)
	}
	return removed, errors.Join(errs...)
}

// Fingerprint returns the BLAKE3 digest of each file, keyed by path.
// Files that do not exist are omitted.
func Fingerprint(paths []string) (map[string]string, error) {
	sums := make(map[string]string, len(paths))
	for _, p := range paths {
		sum, err := hashFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		sums[p] = sum
	}
	return sums, nil
}

// Changed compares two fingerprint sets and returns the paths that were
// added, removed or modified, sorted.
func Changed(before, after map[string]string) []string {
	seen := make(map[string]bool)
	var changed []string
	for p, sum := range before {
		seen[p] = true
		if after[p] != sum {
			changed = append(changed, p)
		}
	}
	for p := range after {
		if !seen[p] {
			changed = append(changed, p)
		}
	}
	sort.Strings(changed)
	return changed
}

// hashFile returns the BLAKE3 hash of a file as a prefixed hex string.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil)), nil
}
