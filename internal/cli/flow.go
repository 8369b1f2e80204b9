// Package cli exposes the orchestrator's tasks as a goyek flow.
package cli

import (
	"fmt"

	"github.com/goyek/goyek/v2"

	"github.com/spachava753/oscar/internal/orchestrator"
)

// DefaultTask runs when no task is named on the command line.
const DefaultTask = "default"

var usage = map[string]string{
	"css":     "Compile, prefix and minify stylesheets",
	"js":      "Concatenate and minify scripts",
	"js:libs": "Concatenate and minify vendor libraries",
	"img":     "Optimize images",
	"sprite":  "Assemble the SVG sprite",
	"default": "Build scripts, images, the sprite and stylesheets",
	"watch":   "Rebuild on change and live reload the browser",
}

// NewFlow defines one goyek task per registered orchestrator task, in
// registration order.
func NewFlow(o *orchestrator.Orchestrator) (*goyek.Flow, error) {
	flow := &goyek.Flow{}

	for _, t := range o.Tasks() {
		desc, ok := usage[t.Name]
		if !ok {
			desc = fmt.Sprintf("Run %s", orchestrator.Describe(t.Runner()))
		}

		defined := flow.Define(goyek.Task{
			Name:  t.Name,
			Usage: desc,
			Action: func(a *goyek.A) {
				// the task has already logged the failure with its details
				if err := t.Run(a.Context()); err != nil {
					a.Error(err)
				}
			},
		})
		if t.Name == DefaultTask {
			flow.SetDefault(defined)
		}
	}

	if flow.Default() == nil {
		return nil, fmt.Errorf("no %q task registered", DefaultTask)
	}
	return flow, nil
}
