package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Runner executes an external tool and returns its combined output. It
// exists so engine behaviour can be exercised without ffmpeg installed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandRunner invokes tools through os/exec with context cancellation.
type CommandRunner struct{}

func NewCommandRunner() *CommandRunner { return &CommandRunner{} }

func (CommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return output.Bytes(), fmt.Errorf("%s: %w: %s", name, err, tail(output.Bytes(), 512))
	}
	return output.Bytes(), nil
}

// tail keeps the last n bytes of tool output, which is where ffmpeg reports
// its failure reason.
func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
