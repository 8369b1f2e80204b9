package images

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/spachava753/oscar/internal/pipeline"
	"github.com/spachava753/oscar/internal/util"
)

// OptimizeStep optimizes every file concurrently and logs the total saving.
func OptimizeStep(o *Optimizer, logger *slog.Logger) pipeline.Step {
	if logger == nil {
		logger = slog.Default()
	}

	return pipeline.StepFunc("imagemin", func(ctx context.Context, files []*pipeline.File) ([]*pipeline.File, error) {
		var before, after atomic.Int64

		step := pipeline.EachConcurrent("imagemin", runtime.NumCPU(), func(_ context.Context, f *pipeline.File) error {
			out, err := o.Optimize(f.Path, f.Contents)
			if err != nil {
				return err
			}
			before.Add(int64(len(f.Contents)))
			after.Add(int64(len(out)))
			f.Contents = out
			return nil
		})

		out, err := step.Apply(ctx, files)
		if err != nil {
			return nil, err
		}

		saved := before.Load() - after.Load()
		logger.Info("minified images",
			"count", len(files),
			"saved", util.FormatBytes(saved),
			"percent", util.Percent(saved, before.Load()))
		return out, nil
	})
}
