// Package cli runs external command line tools (ceph, rbd, crushtool) on
// behalf of the agent.
package cli

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/pkg/errors"

	"github.com/cuemby/monagent/pkg/log"
)

// Output is the captured result of one subprocess invocation
type Output struct {
	Stdout string `json:"out" yaml:"out"`
	Stderr string `json:"err" yaml:"err"`
	Status int    `json:"status" yaml:"status"`
}

// Runner invokes a command line tool.
//
// A nonzero exit status is not an error: it is reported in Output.Status.
// The error is reserved for failures to start the process at all.
type Runner interface {
	Run(ctx context.Context, argv []string, stdin []byte) (Output, error)
}

// ExecRunner runs commands on the host with os/exec
type ExecRunner struct {
	// Env is appended to the process environment when set
	Env []string
}

// NewExecRunner creates a new host command runner
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes argv and captures its output
func (r *ExecRunner) Run(ctx context.Context, argv []string, stdin []byte) (Output, error) {
	if len(argv) == 0 {
		return Output{}, errors.New("no command specified")
	}

	logger := log.WithComponent("cli")
	start := time.Now()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	out := Output{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return out, errors.Wrapf(err, "run %s", argv[0])
		}
		out.Status = exitErr.ExitCode()
	}

	logger.Debug().
		Strs("argv", argv).
		Int("status", out.Status).
		Dur("duration", time.Since(start)).
		Msg("Command finished")

	return out, nil
}
