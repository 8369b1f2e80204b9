package styles

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Prefixer adds vendor prefixes for a browser target list.
type Prefixer interface {
	Prefix(ctx context.Context, css []byte) ([]byte, error)
}

// CommandPrefixer pipes CSS through an external PostCSS/autoprefixer
// command. Browser targets are handed over in BROWSERSLIST.
type CommandPrefixer struct {
	Command  []string
	Browsers []string
}

// NewCommandPrefixer returns a prefixer for command, or false when the
// executable cannot be found.
func NewCommandPrefixer(command, browsers []string) (*CommandPrefixer, bool) {
	if len(command) == 0 {
		return nil, false
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return nil, false
	}
	return &CommandPrefixer{Command: command, Browsers: browsers}, true
}

func (p *CommandPrefixer) Prefix(ctx context.Context, css []byte) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Stdin = bytes.NewReader(css)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "BROWSERSLIST="+strings.Join(p.Browsers, ", "))

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("autoprefixer: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
