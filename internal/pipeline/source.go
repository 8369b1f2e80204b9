package pipeline

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Source selects the files a pipeline starts from. Patterns are
// slash-separated globs relative to Root and support ** and {a,b}.
type Source struct {
	Root    string
	Include []string
	Exclude []string
}

// Read returns the matching files in glob order. Each file's Base is the
// static prefix of the pattern that matched it, so relative paths below the
// glob's first wildcard are preserved on output.
func (s Source) Read() ([]*File, error) {
	fsys := os.DirFS(s.Root)
	seen := make(map[string]struct{})
	var files []*File

	for _, pattern := range s.Include {
		pattern = cleanPattern(pattern)
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid glob %q", pattern)
		}

		base, _ := doublestar.SplitPattern(pattern)
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("globbing %q: %w", pattern, err)
		}

		for _, match := range matches {
			if _, ok := seen[match]; ok {
				continue
			}
			excluded, err := s.Excluded(match)
			if err != nil {
				return nil, err
			}
			if excluded {
				continue
			}
			seen[match] = struct{}{}

			abs := filepath.Join(s.Root, filepath.FromSlash(match))
			data, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", match, err)
			}

			rel := match
			if base != "." {
				rel = strings.TrimPrefix(match, base+"/")
			}
			files = append(files, &File{
				Base:     filepath.Join(s.Root, filepath.FromSlash(base)),
				Path:     rel,
				Source:   abs,
				Contents: data,
			})
		}
	}

	return files, nil
}

// Matches reports whether a slash-separated path relative to Root is selected.
func (s Source) Matches(name string) (bool, error) {
	name = path.Clean(name)
	for _, pattern := range s.Include {
		ok, err := doublestar.Match(cleanPattern(pattern), name)
		if err != nil {
			return false, fmt.Errorf("matching %q: %w", pattern, err)
		}
		if ok {
			excluded, err := s.Excluded(name)
			if err != nil {
				return false, err
			}
			return !excluded, nil
		}
	}
	return false, nil
}

// Excluded reports whether name matches one of the exclusion patterns.
// A pattern ending in "/" excludes everything below that directory.
func (s Source) Excluded(name string) (bool, error) {
	for _, pattern := range s.Exclude {
		pattern = cleanPattern(pattern)
		if strings.HasSuffix(pattern, "/") {
			if strings.HasPrefix(name, pattern) {
				return true, nil
			}
			continue
		}
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return false, fmt.Errorf("matching %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// cleanPattern collapses duplicate slashes and a leading "./" without
// touching wildcards or a trailing slash.
func cleanPattern(pattern string) string {
	pattern = filepath.ToSlash(pattern)
	for strings.Contains(pattern, "//") {
		pattern = strings.ReplaceAll(pattern, "//", "/")
	}
	return strings.TrimPrefix(pattern, "./")
}
