// Package watch re-runs tasks when files they depend on change.
//
// Every qualifying event starts its rule's target immediately. Events are
// not debounced or coalesced, and a rule whose previous run is still in
// flight is started again; editors that write a file twice per save cause
// two runs.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/spachava753/oscar/internal/orchestrator"
	"github.com/spachava753/oscar/internal/pipeline"
)

// Rule binds a glob to the runner it triggers. Handler, when set, is called
// instead of Target and receives the event that fired.
type Rule struct {
	Name    string
	Pattern string
	Ignored []string
	Polling bool
	Target  orchestrator.Runner
	Handler func(ctx context.Context, ev Event) error
}

func (r Rule) runner(ev Event) orchestrator.Runner {
	if r.Handler != nil {
		return orchestrator.RunnerFunc(func(ctx context.Context) error {
			return r.Handler(ctx, ev)
		})
	}
	return r.Target
}

// Matches reports whether a slash-separated path relative to the watch root
// qualifies for this rule.
func (r Rule) Matches(path string) bool {
	ok, err := pipeline.Source{Include: []string{r.Pattern}, Exclude: r.Ignored}.Matches(path)
	return err == nil && ok
}

// Watcher dispatches file-system events to rules.
type Watcher struct {
	Root     string
	Rules    []Rule
	Interval time.Duration
	Logger   *slog.Logger

	wg sync.WaitGroup
}

func (w *Watcher) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}

// Run opens the event sources the rules need and dispatches until ctx is
// cancelled. It returns after in-flight triggers have finished.
func (w *Watcher) Run(ctx context.Context) error {
	for _, rule := range w.Rules {
		if !doublestar.ValidatePattern(rule.Pattern) {
			return fmt.Errorf("watch rule %q: invalid pattern %q", rule.Name, rule.Pattern)
		}
		if rule.Target == nil && rule.Handler == nil {
			return fmt.Errorf("watch rule %q has no target", rule.Name)
		}
	}

	var polled, native []string
	for _, rule := range w.Rules {
		base, _ := doublestar.SplitPattern(rule.Pattern)
		if rule.Polling {
			polled = appendUnique(polled, base)
		} else {
			native = appendUnique(native, base)
		}
	}

	var sources []Source
	closeAll := func() {
		for _, s := range sources {
			s.Close()
		}
	}

	if len(polled) > 0 {
		interval := w.Interval
		if interval <= 0 {
			interval = 100 * time.Millisecond
		}
		s, err := NewPollSource(w.Root, polled, interval)
		if err != nil {
			return fmt.Errorf("starting poller: %w", err)
		}
		sources = append(sources, s)
	}
	if len(native) > 0 {
		s, err := NewNotifySource(w.Root, native)
		if err != nil {
			closeAll()
			return fmt.Errorf("starting watcher: %w", err)
		}
		sources = append(sources, s)
	}

	w.logger().Info("watching files", "root", w.Root, "rules", len(w.Rules))
	return w.Serve(ctx, sources...)
}

// Serve dispatches events from already opened sources until ctx is
// cancelled, then closes them and waits for in-flight triggers.
func (w *Watcher) Serve(ctx context.Context, sources ...Source) error {
	events := make(chan Event)
	var fwd sync.WaitGroup

	for _, src := range sources {
		fwd.Go(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case err, ok := <-src.Errors():
					if !ok {
						return
					}
					w.logger().Warn("watch error", "error", err)
				case ev, ok := <-src.Events():
					if !ok {
						return
					}
					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			for _, src := range sources {
				src.Close()
			}
			fwd.Wait()
			w.wg.Wait()
			return nil
		case ev := <-events:
			w.Dispatch(ctx, ev)
		}
	}
}

// Dispatch starts the target of every rule matching ev and returns the
// names of the rules it triggered. It does not wait for the targets.
func (w *Watcher) Dispatch(ctx context.Context, ev Event) []string {
	var triggered []string
	for _, rule := range w.Rules {
		if !rule.Matches(ev.Path) {
			continue
		}
		triggered = append(triggered, rule.Name)
		target := rule.runner(ev)

		w.logger().Info("file changed", "path", ev.Path, "op", ev.Op, "rule", rule.Name)
		w.wg.Go(func() {
			// failures are already logged by the task; the loop keeps going
			if err := target.Run(ctx); err != nil {
				w.logger().Debug("watch trigger failed", "rule", rule.Name, "error", err)
			}
		})
	}
	return triggered
}

// Wait blocks until every trigger started so far has finished.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	list = append(list, v)
	sort.Strings(list)
	return list
}
