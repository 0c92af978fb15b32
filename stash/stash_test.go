// ABOUTME: Tests for the filesystem stash store: selection, checksums, overwrite semantics,
// ABOUTME: and restoring into a fresh workspace.
package stash

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, root string, paths map[string]string) {
	t.Helper()
	for rel, content := range paths {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestStashSelectsByIncludeAndExclude(t *testing.T) {
	workspace := t.TempDir()
	writeFiles(t, workspace, map[string]string{
		"src/main/App.java":     "app",
		"src/test/AppTest.java": "test",
		"docs/readme.md":        "docs",
	})
	store := NewFSStore(t.TempDir())

	result, err := store.Stash("sources", workspace, []string{"**/*.java"}, []string{"**/test/**"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FileCount != 1 {
		t.Fatalf("expected 1 file, got %d: %v", result.FileCount, result.StashedFiles)
	}
	if result.StashedFiles[0] != "src/main/App.java" {
		t.Errorf("expected src/main/App.java, got %q", result.StashedFiles[0])
	}
	if result.TotalSize != 3 {
		t.Errorf("expected 3 bytes, got %d", result.TotalSize)
	}
	if sum := result.Checksums["src/main/App.java"]; len(sum) != 64 {
		t.Errorf("expected sha256 hex checksum, got %q", sum)
	}
}

func TestUnstashRestoresRelativeLayout(t *testing.T) {
	workspace := t.TempDir()
	writeFiles(t, workspace, map[string]string{
		"a/one.txt": "1",
		"b/two.txt": "2",
	})
	store := NewFSStore(t.TempDir())

	if _, err := store.Stash("all", workspace, []string{"**/*.txt"}, nil); err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	result, err := store.Unstash("all", dest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FileCount != 2 {
		t.Fatalf("expected 2 restored files, got %d", result.FileCount)
	}

	content, err := os.ReadFile(filepath.Join(dest, "a", "one.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "1" {
		t.Errorf("expected content %q, got %q", "1", content)
	}
}

func TestRepeatedStashOverwrites(t *testing.T) {
	workspace := t.TempDir()
	writeFiles(t, workspace, map[string]string{"old.txt": "old"})
	store := NewFSStore(t.TempDir())

	if _, err := store.Stash("name", workspace, []string{"*.txt"}, nil); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(workspace, "old.txt")); err != nil {
		t.Fatal(err)
	}
	writeFiles(t, workspace, map[string]string{"new.txt": "new"})
	if _, err := store.Stash("name", workspace, []string{"*.txt"}, nil); err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	result, err := store.Unstash("name", dest)
	if err != nil {
		t.Fatal(err)
	}
	if result.FileCount != 1 || result.RestoredFiles[0] != "new.txt" {
		t.Errorf("expected only the new stash contents, got %v", result.RestoredFiles)
	}
}

func TestUnstashUnknownNameErrors(t *testing.T) {
	store := NewFSStore(t.TempDir())
	if _, err := store.Unstash("missing", t.TempDir()); err == nil {
		t.Error("expected an error for an unknown stash name")
	}
}

func TestStashRejectsEmptyNameAndPatterns(t *testing.T) {
	store := NewFSStore(t.TempDir())
	if _, err := store.Stash("", t.TempDir(), []string{"*"}, nil); err == nil {
		t.Error("expected an error for an empty name")
	}
	if _, err := store.Stash("x", t.TempDir(), nil, nil); err == nil {
		t.Error("expected an error for empty includes")
	}
}
