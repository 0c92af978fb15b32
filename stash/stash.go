// ABOUTME: Stash storage interface and filesystem implementation for saving and restoring workspace file sets.
// ABOUTME: Selection uses glob patterns with ** support; relative directory structure is preserved in the stash.
package stash

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// StashResult describes the outcome of a stash operation.
type StashResult struct {
	Name         string
	StashedFiles []string // workspace-relative paths, sorted
	Location     string
	FileCount    int
	TotalSize    int64
	Checksums    map[string]string // relative path -> sha256 hex
	Timestamp    time.Time
}

// UnstashResult describes the outcome of an unstash operation.
type UnstashResult struct {
	Name          string
	RestoredFiles []string // workspace-relative paths, sorted
	FileCount     int
}

// Storage saves and restores named file sets selected from a workspace tree.
type Storage interface {
	// Stash copies workspace files matching includes (and not matching
	// excludes) under the given name. A repeated stash under the same name
	// overwrites the previous one.
	Stash(name, workspaceRoot string, includes, excludes []string) (*StashResult, error)

	// Unstash restores a previously stashed file set into the workspace,
	// preserving relative paths.
	Unstash(name, workspaceRoot string) (*UnstashResult, error)
}

// FSStore is a Storage backed by a local directory. Each stash lives under
// baseDir/<name> mirroring the workspace-relative layout of its files.
type FSStore struct {
	baseDir string
}

// Compile-time check that FSStore implements Storage.
var _ Storage = (*FSStore)(nil)

// NewFSStore creates a filesystem stash store rooted at baseDir.
func NewFSStore(baseDir string) *FSStore {
	return &FSStore{baseDir: baseDir}
}

// Stash walks the workspace, selects files by include/exclude patterns, and
// copies them into the stash location with sha256 checksums.
func (s *FSStore) Stash(name, workspaceRoot string, includes, excludes []string) (*StashResult, error) {
	if name == "" {
		return nil, fmt.Errorf("stash name must not be empty")
	}
	if len(includes) == 0 {
		return nil, fmt.Errorf("stash %q: at least one include pattern required", name)
	}

	location := filepath.Join(s.baseDir, name)

	// Overwrite semantics: a repeated stash replaces the previous contents.
	if err := os.RemoveAll(location); err != nil {
		return nil, fmt.Errorf("clearing previous stash %q: %w", name, err)
	}
	if err := os.MkdirAll(location, 0755); err != nil {
		return nil, fmt.Errorf("creating stash location: %w", err)
	}

	result := &StashResult{
		Name:      name,
		Location:  location,
		Checksums: make(map[string]string),
		Timestamp: time.Now(),
	}

	err := filepath.WalkDir(workspaceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(workspaceRoot, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if !MatchAny(includes, rel) || MatchAny(excludes, rel) {
			return nil
		}

		dest := filepath.Join(location, filepath.FromSlash(rel))
		if mkErr := os.MkdirAll(filepath.Dir(dest), 0755); mkErr != nil {
			return mkErr
		}
		size, sum, copyErr := copyFileChecksum(path, dest)
		if copyErr != nil {
			return fmt.Errorf("stashing %q: %w", rel, copyErr)
		}

		result.StashedFiles = append(result.StashedFiles, rel)
		result.Checksums[rel] = sum
		result.TotalSize += size
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stash %q: %w", name, err)
	}

	sort.Strings(result.StashedFiles)
	result.FileCount = len(result.StashedFiles)
	return result, nil
}

// Unstash copies all files of the named stash back into the workspace.
func (s *FSStore) Unstash(name, workspaceRoot string) (*UnstashResult, error) {
	location := filepath.Join(s.baseDir, name)
	info, err := os.Stat(location)
	if err != nil {
		return nil, fmt.Errorf("stash %q not found: %w", name, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("stash location %q is not a directory", location)
	}

	result := &UnstashResult{Name: name}

	err = filepath.WalkDir(location, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(location, path)
		if relErr != nil {
			return relErr
		}

		dest := filepath.Join(workspaceRoot, rel)
		if mkErr := os.MkdirAll(filepath.Dir(dest), 0755); mkErr != nil {
			return mkErr
		}
		if _, _, copyErr := copyFileChecksum(path, dest); copyErr != nil {
			return fmt.Errorf("restoring %q: %w", rel, copyErr)
		}

		result.RestoredFiles = append(result.RestoredFiles, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unstash %q: %w", name, err)
	}

	sort.Strings(result.RestoredFiles)
	result.FileCount = len(result.RestoredFiles)
	return result, nil
}

// copyFileChecksum copies src to dest, returning the byte count and the
// sha256 hex digest of the copied content.
func copyFileChecksum(src, dest string) (int64, string, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, "", err
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		out.Close()
		return 0, "", err
	}
	if err := out.Close(); err != nil {
		return 0, "", err
	}
	return n, fmt.Sprintf("%x", h.Sum(nil)), nil
}
