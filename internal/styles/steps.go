package styles

import (
	"context"
	"path"
	"strings"

	"github.com/spachava753/oscar/internal/pipeline"
)

// CompileStep compiles every file and renames it to .css.
func CompileStep(c Compiler) pipeline.Step {
	return pipeline.Each("sass", func(ctx context.Context, f *pipeline.File) error {
		src := f.Source
		if src == "" {
			src = f.Abs()
		}
		out, sourceMap, err := c.Compile(ctx, src)
		if err != nil {
			return err
		}
		f.Path = strings.TrimSuffix(f.Path, path.Ext(f.Path)) + ".css"
		f.Contents = out
		f.SourceMap = sourceMap
		return nil
	})
}

// PrefixStep runs the autoprefixer over each stylesheet. The source map is
// kept: prefixing only inserts declarations next to the original ones.
func PrefixStep(p Prefixer) pipeline.Step {
	return pipeline.Each("autoprefixer", func(ctx context.Context, f *pipeline.File) error {
		out, err := p.Prefix(ctx, f.Contents)
		if err != nil {
			return err
		}
		f.Contents = out
		return nil
	})
}

// CombineMediaQueriesStep merges duplicate media query blocks.
func CombineMediaQueriesStep() pipeline.Step {
	return pipeline.Each("combine-mq", func(_ context.Context, f *pipeline.File) error {
		out, err := CombineMediaQueries(f.Contents)
		if err != nil {
			return err
		}
		f.Contents = out
		return nil
	})
}

// MinifyStep minifies each stylesheet.
func MinifyStep(m *Minifier) pipeline.Step {
	return pipeline.Each("cssnano", func(_ context.Context, f *pipeline.File) error {
		out, err := m.Minify(f.Contents)
		if err != nil {
			return err
		}
		f.Contents = out
		return nil
	})
}
