package workspace

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// skipDirs are never descended into.
var skipDirs = map[string]struct{}{
	"bin":          {},
	"obj":          {},
	"node_modules": {},
	"packages":     {},
	"TestResults":  {},
}

// discoverSources returns the slash-separated, root-relative paths of all C#
// sources under root, sorted.
func discoverSources(root string, exclude []string, respectGitignore bool) ([]string, error) {
	var gi *ignore.GitIgnore
	if respectGitignore {
		gi = loadGitignore(root)
	}

	var results []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			rel := relSlash(root, path)
			if excluded(exclude, rel+"/") || (gi != nil && gi.MatchesPath(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(name) != ".cs" || d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		rel := relSlash(root, path)
		if excluded(exclude, rel) || (gi != nil && gi.MatchesPath(rel)) {
			return nil
		}
		results = append(results, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(results)
	return results, nil
}

// isSourcePath reports whether a watcher event path should trigger a reload.
func isSourcePath(root, path string, exclude []string) bool {
	if filepath.Ext(path) != ".cs" {
		return false
	}
	rel := relSlash(root, path)
	for _, seg := range strings.Split(rel, "/") {
		if _, skip := skipDirs[seg]; skip {
			return false
		}
	}
	return !excluded(exclude, rel)
}

// excluded reports whether rel matches any doublestar pattern. Directory
// paths end in a slash so that patterns like **/gen/** prune them.
func excluded(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if strings.HasSuffix(rel, "/") {
			if ok, _ := doublestar.Match(p, rel+"x.cs"); ok {
				return true
			}
		}
	}
	return false
}

func relSlash(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	return filepath.ToSlash(rel)
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
