// Package scripts minifies concatenated JavaScript bundles.
package scripts

import (
	"context"
	"fmt"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/js"

	"github.com/spachava753/oscar/internal/pipeline"
)

const mediaType = "application/javascript"

// Minifier shrinks JavaScript sources.
type Minifier struct {
	m *minify.M
}

func NewMinifier() *Minifier {
	m := minify.New()
	m.Add(mediaType, &js.Minifier{})
	return &Minifier{m: m}
}

func (m *Minifier) Minify(src []byte) ([]byte, error) {
	out, err := m.m.Bytes(mediaType, src)
	if err != nil {
		return nil, fmt.Errorf("minifying javascript: %w", err)
	}
	return out, nil
}

// MinifyStep minifies every file in the pipeline.
func MinifyStep(m *Minifier) pipeline.Step {
	return pipeline.Each("uglify", func(_ context.Context, f *pipeline.File) error {
		out, err := m.Minify(f.Contents)
		if err != nil {
			return err
		}
		f.Contents = out
		return nil
	})
}

// Bundle returns the steps shared by the script tasks: concatenate into
// name, write it, then write a minified ".min" copy next to it.
func Bundle(name, dest string, m *Minifier) []pipeline.Step {
	return []pipeline.Step{
		pipeline.Concat(name),
		pipeline.Dest(dest),
		pipeline.Rename(".min"),
		MinifyStep(m),
		pipeline.Dest(dest),
	}
}
