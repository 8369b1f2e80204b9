// Package kit declares the starter kit's asset tasks, entry points and
// watch rules on top of the orchestrator.
package kit

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/spachava753/oscar/internal/images"
	"github.com/spachava753/oscar/internal/livereload"
	"github.com/spachava753/oscar/internal/models"
	"github.com/spachava753/oscar/internal/orchestrator"
	"github.com/spachava753/oscar/internal/pipeline"
	"github.com/spachava753/oscar/internal/scripts"
	"github.com/spachava753/oscar/internal/sprite"
	"github.com/spachava753/oscar/internal/styles"
	"github.com/spachava753/oscar/internal/watch"
)

// Task and entry point names.
const (
	TaskCSS     = "css"
	TaskJS      = "js"
	TaskLibs    = "js:libs"
	TaskImages  = "img"
	TaskSprite  = "sprite"
	TaskDefault = "default"
	TaskWatch   = "watch"
)

// Source globs, relative to the source root.
const (
	StylesPattern  = "scss/{,*/}*.scss"
	PartialPattern = "scss/**/_*.scss"
	ScriptsPattern = "js/*.js"
	LibsPattern    = "js/libs/*.js"
	ImagesPattern  = "img/{,*/}*.{png,jpg,gif,svg}"
	SpritesDir     = "img/sprites/*"
	SpritesPattern = "img/sprites/*.svg"
	StylesWatch    = "scss/**/*.scss"
)

// Collaborators are the transforms the tasks delegate to. A nil Prefixer
// skips autoprefixing.
type Collaborators struct {
	Compiler  styles.Compiler
	Prefixer  styles.Prefixer
	CSS       *styles.Minifier
	JS        *scripts.Minifier
	Optimizer *images.Optimizer
	Assembler *sprite.Assembler
}

// DefaultCollaborators builds the command-line and in-process transforms
// described by cfg.
func DefaultCollaborators(cfg models.Config, logger *slog.Logger) Collaborators {
	if logger == nil {
		logger = slog.Default()
	}

	c := Collaborators{
		Compiler: &styles.SassCompiler{
			Command:    cfg.Styles.SassCommand,
			SourceMaps: cfg.Styles.SourceMaps,
			LoadPaths:  []string{filepath.Join(cfg.SourceRoot, "scss")},
		},
		CSS:       styles.NewMinifier(),
		JS:        scripts.NewMinifier(),
		Optimizer: images.NewOptimizer(cfg.Images.OptimizationLevel, cfg.Images.Multipass),
		Assembler: sprite.NewAssembler(sprite.Options{
			Whitespace: cfg.Sprite.Whitespace,
			Precision:  cfg.Sprite.Precision,
			Dimensions: true,
		}),
	}

	if len(cfg.Styles.PrefixCommand) > 0 {
		if p, ok := styles.NewCommandPrefixer(cfg.Styles.PrefixCommand, cfg.Styles.Browsers); ok {
			c.Prefixer = p
		} else {
			logger.Warn("autoprefixer not installed, vendor prefixes will not be added", "command", cfg.Styles.PrefixCommand[0])
		}
	}
	return c
}

// Kit owns the orchestrator populated with every task and entry point.
type Kit struct {
	cfg    models.Config
	collab Collaborators
	logger *slog.Logger

	Orchestrator *orchestrator.Orchestrator
}

// New registers the task table, the default entry point and the watch entry
// point.
func New(cfg models.Config, collab Collaborators, logger *slog.Logger) (*Kit, error) {
	if logger == nil {
		logger = slog.Default()
	}

	k := &Kit{
		cfg:          cfg,
		collab:       collab,
		logger:       logger,
		Orchestrator: orchestrator.New(logger, cfg.OutputRoot, cfg.SourceRoot),
	}

	for _, t := range k.taskTable() {
		if _, err := k.Orchestrator.Register(t.name, t.output, t.pipeline); err != nil {
			return nil, err
		}
	}

	def, err := k.defaultEntry()
	if err != nil {
		return nil, err
	}
	if _, err := k.Orchestrator.Define(TaskDefault, def); err != nil {
		return nil, err
	}
	if _, err := k.Orchestrator.Define(TaskWatch, orchestrator.RunnerFunc(k.Watch)); err != nil {
		return nil, err
	}
	return k, nil
}

type taskSpec struct {
	name     string
	output   string
	pipeline *pipeline.Pipeline
}

func (k *Kit) taskTable() []taskSpec {
	src := k.cfg.SourceRoot
	out := k.cfg.OutputRoot
	cssDir := filepath.Join(out, "css")
	jsDir := filepath.Join(out, "js")
	imgDir := filepath.Join(out, "img")

	styleSteps := []pipeline.Step{styles.CompileStep(k.collab.Compiler)}
	if k.collab.Prefixer != nil {
		styleSteps = append(styleSteps, styles.PrefixStep(k.collab.Prefixer))
	}
	styleSteps = append(styleSteps,
		pipeline.Dest(cssDir),
		pipeline.Rename(".min"),
		styles.CombineMediaQueriesStep(),
		styles.MinifyStep(k.collab.CSS),
		pipeline.Dest(cssDir),
	)

	spriteSteps := []pipeline.Step{
		sprite.AssembleStep(k.collab.Assembler, "img/sprite.svg", k.cfg.Sprite.Stylesheet, k.logger),
		pipeline.Dest(src),
	}

	return []taskSpec{
		{
			name:   TaskCSS,
			output: cssDir,
			pipeline: &pipeline.Pipeline{
				Name:   TaskCSS,
				Source: pipeline.Source{Root: src, Include: []string{StylesPattern}, Exclude: []string{PartialPattern}},
				Steps:  styleSteps,
				Logger: k.logger,
			},
		},
		{
			name:   TaskJS,
			output: jsDir,
			pipeline: &pipeline.Pipeline{
				Name:   TaskJS,
				Source: pipeline.Source{Root: src, Include: []string{ScriptsPattern}},
				Steps:  scripts.Bundle("global.js", jsDir, k.collab.JS),
				Logger: k.logger,
			},
		},
		{
			name:   TaskLibs,
			output: jsDir,
			pipeline: &pipeline.Pipeline{
				Name:   TaskLibs,
				Source: pipeline.Source{Root: src, Include: []string{LibsPattern}},
				Steps:  scripts.Bundle("libs.js", jsDir, k.collab.JS),
				Logger: k.logger,
			},
		},
		{
			name:   TaskImages,
			output: imgDir,
			pipeline: &pipeline.Pipeline{
				Name:   TaskImages,
				Source: pipeline.Source{Root: src, Include: []string{ImagesPattern}, Exclude: []string{SpritesDir}},
				Steps:  []pipeline.Step{images.OptimizeStep(k.collab.Optimizer, k.logger), pipeline.Dest(imgDir)},
				Logger: k.logger,
			},
		},
		{
			name:   TaskSprite,
			output: filepath.Join(src, "img"),
			pipeline: &pipeline.Pipeline{
				Name:   TaskSprite,
				Source: pipeline.Source{Root: src, Include: []string{SpritesPattern}},
				Steps:  spriteSteps,
				Logger: k.logger,
			},
		},
	}
}

// task looks up a registered task; the names are fixed so a miss is a bug.
func (k *Kit) task(name string) *orchestrator.Task {
	t, err := k.Orchestrator.Task(name)
	if err != nil {
		panic(err)
	}
	return t
}

func (k *Kit) defaultEntry() (orchestrator.Runner, error) {
	for _, name := range []string{TaskJS, TaskImages, TaskSprite, TaskCSS} {
		if _, err := k.Orchestrator.Task(name); err != nil {
			return nil, err
		}
	}
	return orchestrator.Parallel(
		k.task(TaskJS),
		k.task(TaskImages),
		orchestrator.Series(k.task(TaskSprite), k.task(TaskCSS)),
	), nil
}

// WatchRules returns the rule table for the five input domains, relative to
// the source root.
func (k *Kit) WatchRules() []watch.Rule {
	polling := k.cfg.UsePolling
	return []watch.Rule{
		{Name: "styles", Pattern: StylesWatch, Polling: polling, Target: k.task(TaskCSS)},
		{Name: "scripts", Pattern: ScriptsPattern, Polling: polling, Target: k.task(TaskJS)},
		{Name: "libraries", Pattern: LibsPattern, Polling: polling, Target: k.task(TaskLibs)},
		{Name: "images", Pattern: ImagesPattern, Ignored: []string{SpritesDir}, Polling: polling, Target: k.task(TaskImages)},
		{Name: "sprites", Pattern: SpritesPattern, Polling: polling, Target: orchestrator.Series(k.task(TaskSprite), k.task(TaskCSS))},
	}
}

// ReloadRules returns the rules that push changes under the dev root to the
// browsers connected to b.
func (k *Kit) ReloadRules(b *livereload.Bridge) []watch.Rule {
	patterns := append([]string(nil), k.cfg.LiveReload.Files...)
	if rel, err := filepath.Rel(k.cfg.DevRoot, k.cfg.OutputRoot); err == nil && !strings.HasPrefix(rel, "..") {
		patterns = append(patterns, path.Join(filepath.ToSlash(rel), "**/*"))
	}

	ignored := append([]string{"**/*.map"}, k.cfg.LiveReload.Exclude...)
	notify := func(_ context.Context, ev watch.Event) error {
		b.Notify(ev.Path)
		return nil
	}

	rules := make([]watch.Rule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, watch.Rule{
			Name:    "reload:" + p,
			Pattern: p,
			Ignored: ignored,
			Polling: k.cfg.UsePolling,
			Handler: notify,
		})
	}
	return rules
}

// Watch runs the watch loop, and the live-reload bridge when enabled, until
// ctx is cancelled.
func (k *Kit) Watch(ctx context.Context) error {
	tasks := &watch.Watcher{
		Root:     k.cfg.SourceRoot,
		Rules:    k.WatchRules(),
		Interval: k.cfg.PollInterval(),
		Logger:   k.logger,
	}

	if !k.cfg.BrowserSync {
		k.logger.Info("Browser Sync Disabled")
		return tasks.Run(ctx)
	}

	bridge, err := livereload.New(k.cfg.Proxy, k.cfg.LiveReload.IgnorePaths, k.logger)
	if err != nil {
		return fmt.Errorf("starting live reload: %w", err)
	}
	reload := &watch.Watcher{
		Root:     k.cfg.DevRoot,
		Rules:    k.ReloadRules(bridge),
		Interval: k.cfg.PollInterval(),
		Logger:   k.logger,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tasks.Run(ctx) })
	g.Go(func() error { return reload.Run(ctx) })
	g.Go(func() error { return bridge.Serve(ctx, k.cfg.Listen) })
	return g.Wait()
}
