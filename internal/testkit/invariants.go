// Package testkit holds invariant checks shared by package tests.
package testkit

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// CheckDiscovery verifies the structural invariants of a discovered index:
// 1) every input directory lies strictly inside root
// 2) no input directory is nested inside another (accepted directories are
// not descended into)
// 3) input directories are unique
// 4) keys are clean, relative, slash-separated paths
func CheckDiscovery(root string, inputDirs, keys []string) error {
	seen := make(map[string]struct{}, len(inputDirs))
	for _, dir := range inputDirs {
		if _, dup := seen[dir]; dup {
			return fmt.Errorf("input dir %q listed twice", dir)
		}
		seen[dir] = struct{}{}
		if !within(root, dir) || dir == root {
			return fmt.Errorf("input dir %q is outside root %q", dir, root)
		}
	}
	for _, outer := range inputDirs {
		for _, inner := range inputDirs {
			if outer != inner && within(outer, inner) {
				return fmt.Errorf("input dir %q is nested in %q", inner, outer)
			}
		}
	}
	for _, key := range keys {
		if key == "" || key == "." {
			return fmt.Errorf("empty key")
		}
		if strings.Contains(key, "\\") {
			return fmt.Errorf("key %q is not slash-separated", key)
		}
		if path.IsAbs(key) || path.Clean(key) != key || key == ".." || strings.HasPrefix(key, "../") {
			return fmt.Errorf("key %q is not a clean relative path", key)
		}
	}
	return nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
