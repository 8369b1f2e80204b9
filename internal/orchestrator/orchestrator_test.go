package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/oscar/internal/orchestrator"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder collects start/end events from fake tasks.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) runner(name string, delay time.Duration, err error) orchestrator.Runner {
	return orchestrator.RunnerFunc(func(ctx context.Context) error {
		r.add("start:" + name)
		time.Sleep(delay)
		r.add("end:" + name)
		return err
	})
}

func TestRegisterDuplicate(t *testing.T) {
	o := orchestrator.New(quietLogger())

	_, err := o.Register("css", "out/css", orchestrator.RunnerFunc(func(context.Context) error { return nil }))
	require.NoError(t, err)

	_, err = o.Register("css", "out/css2", orchestrator.RunnerFunc(func(context.Context) error { return nil }))
	var dup *orchestrator.DuplicateTaskError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "css", dup.Name)

	// entry points share the namespace
	_, err = o.Define("css", orchestrator.Parallel())
	require.ErrorAs(t, err, &dup)
}

func TestRegisterOutputMapping(t *testing.T) {
	root := t.TempDir()
	o := orchestrator.New(quietLogger(), filepath.Join(root, "assets"), filepath.Join(root, "src"))
	noop := orchestrator.RunnerFunc(func(context.Context) error { return nil })

	_, err := o.Register("css", filepath.Join(root, "assets", "css"), noop)
	require.NoError(t, err)

	_, err = o.Register("sprite", filepath.Join(root, "src", "img"), noop)
	require.NoError(t, err)

	var mapping *orchestrator.OutputMappingError
	_, err = o.Register("escape", filepath.Join(root, "assets", "..", "elsewhere"), noop)
	require.ErrorAs(t, err, &mapping)
	assert.Equal(t, "escape", mapping.Task)

	_, err = o.Register("empty", "", noop)
	require.ErrorAs(t, err, &mapping)

	assert.Equal(t, map[string]string{
		"css":    filepath.Join(root, "assets", "css"),
		"sprite": filepath.Join(root, "src", "img"),
	}, o.Outputs())
}

func TestRunUnknownTask(t *testing.T) {
	o := orchestrator.New(quietLogger())

	err := o.Run(context.Background(), "missing")
	var unknown *orchestrator.UnknownTaskError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "missing", unknown.Name)
}

func TestParallelWaitsForAllAndNamesFailure(t *testing.T) {
	rec := &recorder{}
	o := orchestrator.New(quietLogger())
	boom := errors.New("boom")

	a, err := o.Register("A", "out/a", rec.runner("A", 30*time.Millisecond, nil))
	require.NoError(t, err)
	b, err := o.Register("B", "out/b", rec.runner("B", 5*time.Millisecond, boom))
	require.NoError(t, err)
	c, err := o.Register("C", "out/c", rec.runner("C", 50*time.Millisecond, nil))
	require.NoError(t, err)

	_, err = o.Define("all", orchestrator.Parallel(a, b, c))
	require.NoError(t, err)

	err = o.Run(context.Background(), "all")
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"B"}, orchestrator.FailedTasks(err))

	events := rec.snapshot()
	assert.ElementsMatch(t, []string{"start:A", "end:A", "start:B", "end:B", "start:C", "end:C"}, events)
	// all three were started before any of them finished
	for i := 0; i < 3; i++ {
		assert.Contains(t, events[i], "start:")
	}
}

func TestParallelCollectsEveryFailure(t *testing.T) {
	o := orchestrator.New(quietLogger())
	fail := func(name string) orchestrator.Runner {
		return orchestrator.RunnerFunc(func(context.Context) error { return errors.New(name + " broke") })
	}

	a, _ := o.Register("A", "out/a", fail("A"))
	b, _ := o.Register("B", "out/b", orchestrator.RunnerFunc(func(context.Context) error { return nil }))
	c, _ := o.Register("C", "out/c", fail("C"))

	err := orchestrator.Parallel(a, b, c).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"A", "C"}, orchestrator.FailedTasks(err))
}

func TestSeriesRunsInOrderAndStopsOnFailure(t *testing.T) {
	rec := &recorder{}
	o := orchestrator.New(quietLogger())

	first, _ := o.Register("first", "out/1", rec.runner("first", 10*time.Millisecond, nil))
	second, _ := o.Register("second", "out/2", rec.runner("second", 0, errors.New("nope")))
	third, _ := o.Register("third", "out/3", rec.runner("third", 0, nil))

	err := orchestrator.Series(first, second, third).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"second"}, orchestrator.FailedTasks(err))
	assert.Equal(t, []string{"start:first", "end:first", "start:second", "end:second"}, rec.snapshot())
}

func TestComposeRejectsUnknownMode(t *testing.T) {
	noop := orchestrator.RunnerFunc(func(context.Context) error { return nil })

	assert.PanicsWithValue(t, `orchestrator: unknown composition mode "race"`, func() {
		orchestrator.Compose(orchestrator.Mode("race"), noop)
	})
	assert.Panics(t, func() { orchestrator.Compose("", noop) })

	for _, mode := range []orchestrator.Mode{orchestrator.ModeParallel, orchestrator.ModeSequential} {
		c := orchestrator.Compose(mode, noop)
		assert.Equal(t, mode, c.Mode())
		assert.NoError(t, c.Run(context.Background()))
	}
}

func TestNestedComposite(t *testing.T) {
	rec := &recorder{}
	o := orchestrator.New(quietLogger())

	js, _ := o.Register("js", "out/js", rec.runner("js", 20*time.Millisecond, nil))
	img, _ := o.Register("img", "out/img", rec.runner("img", 20*time.Millisecond, nil))
	sprite, _ := o.Register("sprite", "src/img", rec.runner("sprite", 10*time.Millisecond, nil))
	css, _ := o.Register("css", "out/css", rec.runner("css", 0, nil))

	def := orchestrator.Parallel(js, img, orchestrator.Series(sprite, css))
	assert.Equal(t, "parallel(js, img, series(sprite, css))", def.String())

	_, err := o.Define("default", def)
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background(), "default"))

	events := rec.snapshot()
	assert.Len(t, events, 8)
	assert.Less(t, indexOf(events, "end:sprite"), indexOf(events, "start:css"))
}

func TestTaskPanicBecomesFailure(t *testing.T) {
	o := orchestrator.New(quietLogger())

	_, err := o.Register("panicky", "out/p", orchestrator.RunnerFunc(func(context.Context) error {
		panic("kaboom")
	}))
	require.NoError(t, err)

	err = o.Run(context.Background(), "panicky")
	require.Error(t, err)
	assert.Equal(t, []string{"panicky"}, orchestrator.FailedTasks(err))
}

func TestParallelStartsConcurrently(t *testing.T) {
	var running, peak atomic.Int32
	member := orchestrator.RunnerFunc(func(context.Context) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		return nil
	})

	require.NoError(t, orchestrator.Parallel(member, member, member).Run(context.Background()))
	assert.Equal(t, int32(3), peak.Load())
}

func indexOf(events []string, event string) int {
	for i, e := range events {
		if e == event {
			return i
		}
	}
	return -1
}
