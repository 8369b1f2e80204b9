package styles

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// Compiler turns a stylesheet source file into CSS and an optional source map.
type Compiler interface {
	Compile(ctx context.Context, path string) (css, sourceMap []byte, err error)
}

// SassCompiler runs the Dart Sass command line in file mode, which resolves
// imports relative to the source file and can emit a source map next to the
// output.
type SassCompiler struct {
	Command    []string
	SourceMaps bool
	LoadPaths  []string
}

var mapCommentRE = regexp.MustCompile(`(?m)\n?/\*# sourceMappingURL=[^*]*\*/\s*$`)

func (c *SassCompiler) Compile(ctx context.Context, path string) ([]byte, []byte, error) {
	if len(c.Command) == 0 {
		return nil, nil, fmt.Errorf("no sass command configured")
	}

	tmpDir, err := os.MkdirTemp("", "oscar-sass-")
	if err != nil {
		return nil, nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".css"
	outPath := filepath.Join(tmpDir, name)

	args := append([]string(nil), c.Command[1:]...)
	args = append(args, "--style=expanded", "--no-error-css")
	if c.SourceMaps {
		// the map is written to a temp dir and copied elsewhere later, so
		// relative source URLs would point nowhere
		args = append(args, "--embed-sources", "--source-map-urls=absolute")
	} else {
		args = append(args, "--no-source-map")
	}
	for _, lp := range c.LoadPaths {
		args = append(args, "--load-path="+lp)
	}
	args = append(args, path, outPath)

	slog.Debug("executing sass", "command", c.Command[0], "source", path)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command[0], args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, nil, fmt.Errorf("sass: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	css, err := os.ReadFile(outPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading sass output: %w", err)
	}
	css = mapCommentRE.ReplaceAll(css, nil)

	if !c.SourceMaps {
		return css, nil, nil
	}
	sourceMap, err := os.ReadFile(outPath + ".map")
	if err != nil {
		return nil, nil, fmt.Errorf("reading sass source map: %w", err)
	}
	return css, sourceMap, nil
}
