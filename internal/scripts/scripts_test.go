package scripts_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/oscar/internal/pipeline"
	"github.com/spachava753/oscar/internal/scripts"
)

func TestBundlePreservesOrder(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "assets", "js")
	jsDir := filepath.Join(root, "js")
	require.NoError(t, os.MkdirAll(filepath.Join(jsDir, "libs"), 0755))

	sources := map[string]string{
		"01-first.js":  "var first = function () { return 'first'; };",
		"02-second.js": "var second = function () { return first() + 'second'; };",
		"03-third.js":  "var third = function () { return second() + 'third'; };",
	}
	for name, content := range sources {
		require.NoError(t, os.WriteFile(filepath.Join(jsDir, name), []byte(content), 0644))
	}
	// libraries live in their own bundle
	require.NoError(t, os.WriteFile(filepath.Join(jsDir, "libs", "jquery.js"), []byte("var jq = 1;"), 0644))

	p := &pipeline.Pipeline{
		Name:   "js",
		Source: pipeline.Source{Root: root, Include: []string{"js/*.js"}},
		Steps:  scripts.Bundle("global.js", out, scripts.NewMinifier()),
	}
	require.NoError(t, p.Run(context.Background()))

	global, err := os.ReadFile(filepath.Join(out, "global.js"))
	require.NoError(t, err)
	g := string(global)
	assert.NotContains(t, g, "jq")
	assert.Less(t, strings.Index(g, "var first"), strings.Index(g, "var second"))
	assert.Less(t, strings.Index(g, "var second"), strings.Index(g, "var third"))

	minified, err := os.ReadFile(filepath.Join(out, "global.min.js"))
	require.NoError(t, err)
	m := string(minified)
	assert.Less(t, len(m), len(g))
	assert.Less(t, strings.Index(m, "first"), strings.Index(m, "second"))
	assert.Less(t, strings.Index(m, "second="), strings.Index(m, "third="))
}

func TestMinifyRejectsInvalidJavaScript(t *testing.T) {
	_, err := scripts.NewMinifier().Minify([]byte("var = ;{"))
	assert.Error(t, err)
}
