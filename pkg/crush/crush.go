// Package crush converts CRUSH maps between their text and compiled forms
// using crushtool.
package crush

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/cuemby/monagent/pkg/cli"
)

// Compiler transforms CRUSH maps between text and binary
type Compiler interface {
	Compile(ctx context.Context, text []byte) ([]byte, error)
	Decompile(ctx context.Context, binary []byte) ([]byte, error)
}

// Tool implements Compiler by shelling out to crushtool
type Tool struct {
	runner cli.Runner
	binary string
}

// NewTool creates a crushtool based compiler. An empty binary defaults to
// "crushtool" on PATH.
func NewTool(runner cli.Runner, binary string) *Tool {
	if binary == "" {
		binary = "crushtool"
	}
	return &Tool{runner: runner, binary: binary}
}

// Compile turns CRUSH map text into its binary form
func (t *Tool) Compile(ctx context.Context, text []byte) ([]byte, error) {
	out, err := t.runner.Run(ctx, []string{t.binary, "-c", "/dev/stdin", "-o", "/dev/stdout"}, text)
	if err != nil {
		return nil, errors.Wrap(err, "compile crush map")
	}
	if out.Status != 0 {
		return nil, errors.Errorf("compile crush map: crushtool exited with %d: %s", out.Status, strings.TrimSpace(out.Stderr))
	}
	return []byte(out.Stdout), nil
}

// Decompile turns a binary CRUSH map into text. crushtool cannot read a
// compiled map from stdin, so the input goes through a temporary file.
func (t *Tool) Decompile(ctx context.Context, binary []byte) ([]byte, error) {
	f, err := os.CreateTemp("", "crushmap-*")
	if err != nil {
		return nil, errors.Wrap(err, "decompile crush map")
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(binary); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "decompile crush map")
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrap(err, "decompile crush map")
	}

	out, err := t.runner.Run(ctx, []string{t.binary, "-d", f.Name()}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "decompile crush map")
	}
	if out.Status != 0 {
		return nil, errors.Errorf("decompile crush map: crushtool exited with %d: %s", out.Status, strings.TrimSpace(out.Stderr))
	}
	return []byte(out.Stdout), nil
}
