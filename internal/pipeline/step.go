package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Step transforms the ordered set of files flowing through a pipeline.
type Step interface {
	Name() string
	Apply(ctx context.Context, files []*File) ([]*File, error)
}

// StepError ties a step failure to the file being processed, if any.
type StepError struct {
	File string
	Err  error
}

func (e *StepError) Error() string {
	if e.File == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type stepFunc struct {
	name string
	fn   func(ctx context.Context, files []*File) ([]*File, error)
}

func (s stepFunc) Name() string { return s.name }

func (s stepFunc) Apply(ctx context.Context, files []*File) ([]*File, error) {
	return s.fn(ctx, files)
}

// StepFunc wraps a function operating on the whole file set.
func StepFunc(name string, fn func(ctx context.Context, files []*File) ([]*File, error)) Step {
	return stepFunc{name: name, fn: fn}
}

// Each applies fn to every file in order and stops at the first failure.
func Each(name string, fn func(ctx context.Context, f *File) error) Step {
	return StepFunc(name, func(ctx context.Context, files []*File) ([]*File, error) {
		for _, f := range files {
			if err := fn(ctx, f); err != nil {
				return nil, &StepError{File: f.Path, Err: err}
			}
		}
		return files, nil
	})
}

// EachConcurrent applies fn to up to limit files at a time. Every file is
// independent, so ordering of the result is unchanged.
func EachConcurrent(name string, limit int, fn func(ctx context.Context, f *File) error) Step {
	return StepFunc(name, func(ctx context.Context, files []*File) ([]*File, error) {
		g, gctx := errgroup.WithContext(ctx)
		if limit > 0 {
			g.SetLimit(limit)
		}
		for _, f := range files {
			g.Go(func() error {
				if err := fn(gctx, f); err != nil {
					return &StepError{File: f.Path, Err: err}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return files, nil
	})
}

// Rename inserts suffix before each file's extension: a.css -> a.min.css.
// The source map no longer describes the renamed contents and is dropped.
func Rename(suffix string) Step {
	return StepFunc("rename", func(_ context.Context, files []*File) ([]*File, error) {
		out := make([]*File, 0, len(files))
		for _, f := range files {
			c := f.Clone()
			ext := path.Ext(c.Path)
			c.Path = strings.TrimSuffix(c.Path, ext) + suffix + ext
			c.SourceMap = nil
			out = append(out, c)
		}
		return out, nil
	})
}

// Concat joins all files, in order, into a single file named name.
func Concat(name string) Step {
	return StepFunc("concat", func(_ context.Context, files []*File) ([]*File, error) {
		if len(files) == 0 {
			return files, nil
		}

		parts := make([][]byte, 0, len(files))
		for _, f := range files {
			parts = append(parts, f.Contents)
		}
		return []*File{{
			Base:     files[0].Base,
			Path:     name,
			Contents: bytes.Join(parts, []byte("\n")),
		}}, nil
	})
}

// Dest writes every file below dir, keeping relative paths. Files carrying a
// source map get a sibling ".map" file and a sourceMappingURL comment.
func Dest(dir string) Step {
	return StepFunc("dest "+filepath.ToSlash(dir), func(_ context.Context, files []*File) ([]*File, error) {
		out := make([]*File, 0, len(files))
		for _, f := range files {
			c := f.Clone()
			c.Base = dir
			target := c.Abs()

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, &StepError{File: f.Path, Err: fmt.Errorf("creating directory: %w", err)}
			}

			contents := c.Contents
			if c.SourceMap != nil {
				mapName := path.Base(c.Path) + ".map"
				contents = appendMapComment(contents, mapName, c.Ext())
				if err := os.WriteFile(target+".map", c.SourceMap, 0644); err != nil {
					return nil, &StepError{File: f.Path, Err: fmt.Errorf("writing source map: %w", err)}
				}
			}
			if err := os.WriteFile(target, contents, 0644); err != nil {
				return nil, &StepError{File: f.Path, Err: fmt.Errorf("writing file: %w", err)}
			}
			out = append(out, c)
		}
		return out, nil
	})
}

func appendMapComment(contents []byte, mapName, ext string) []byte {
	var comment string
	switch ext {
	case ".js":
		comment = "//# sourceMappingURL=" + mapName
	default:
		comment = "/*# sourceMappingURL=" + mapName + " */"
	}
	buf := bytes.TrimRight(contents, "\n")
	out := make([]byte, 0, len(buf)+len(comment)+2)
	out = append(out, buf...)
	out = append(out, '\n')
	out = append(out, comment...)
	return append(out, '\n')
}
