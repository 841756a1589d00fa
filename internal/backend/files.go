package backend

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// recentScanWindow is the trailing mtime window used when no touched-file
	// markers were found for a successful run
	recentScanWindow = 90 * time.Second

	// recentScanLimit bounds how many files a fallback scan may report
	recentScanLimit = 50
)

// skippedDirs are never scanned for modifications.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"vendor":       true,
}

// touchedPaths resolves which files an invocation is believed to have
// modified. Driver-observed writes are preferred; without them the working
// tree is scanned for files modified within a short trailing window, so a
// backend that edits files without reporting them still yields a non-empty
// result. The task scope, when given, filters the outcome either way.
func touchedPaths(task *Task, raw *RawOutput, now time.Time) []string {
	paths := raw.ModifiedFiles
	if len(paths) == 0 {
		paths = scanRecentFiles(task.RepoRoot, now.Add(-recentScanWindow), recentScanLimit)
	}

	if scope := task.Scope(); scope != nil {
		paths = scope.Filter(paths)
	}
	return paths
}

// scanRecentFiles walks root and returns repo-relative paths of regular
// files modified after cutoff, newest first, capped at limit.
func scanRecentFiles(root string, cutoff time.Time, limit int) []string {
	type recentFile struct {
		path string
		mod  time.Time
	}
	var found []recentFile

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		if info.ModTime().After(cutoff) {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return nil
			}
			found = append(found, recentFile{path: filepath.ToSlash(rel), mod: info.ModTime()})
		}
		return nil
	})

	sort.Slice(found, func(i, j int) bool { return found[i].mod.After(found[j].mod) })
	if len(found) > limit {
		found = found[:limit]
	}

	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.path
	}
	return out
}
