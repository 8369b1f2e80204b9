package sprite

import (
	"context"
	"log/slog"
	"path"

	"github.com/spachava753/oscar/internal/pipeline"
)

// AssembleStep replaces the input shapes with a single sprite file at
// spritePath. When stylesheetPath is set, a Sass partial describing the
// symbols is emitted as well. Both paths are relative to the destination the
// pipeline writes to next.
func AssembleStep(a *Assembler, spritePath, stylesheetPath string, logger *slog.Logger) pipeline.Step {
	if logger == nil {
		logger = slog.Default()
	}

	return pipeline.StepFunc("svg-sprite", func(_ context.Context, files []*pipeline.File) ([]*pipeline.File, error) {
		if len(files) == 0 {
			return files, nil
		}

		shapes := make([]Shape, 0, len(files))
		for _, f := range files {
			shapes = append(shapes, Shape{Name: path.Base(f.Path), Data: f.Contents})
		}

		data, symbols, err := a.Assemble(shapes)
		if err != nil {
			return nil, err
		}

		ids := make([]string, 0, len(symbols))
		for _, s := range symbols {
			ids = append(ids, s.ID)
		}
		logger.Info("assembled sprite", "sprite", spritePath, "symbols", ids)

		out := []*pipeline.File{{
			Base:     files[0].Base,
			Path:     spritePath,
			Contents: data,
		}}
		if stylesheetPath != "" {
			out = append(out, &pipeline.File{
				Base:     files[0].Base,
				Path:     stylesheetPath,
				Contents: Stylesheet(symbols),
			})
		}
		return out, nil
	})
}
