package runner

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Output carries whatever an external command printed; for dispatch and
// validation these streams are the only signal available.
type Output struct {
	Stdout string
	Stderr string
}

// Runner invokes an external command with a bounded wall-clock timeout.
// Dispatchers and the validation gate depend on this interface so tests
// never spawn real processes.
type Runner interface {
	Run(ctx context.Context, name string, args []string, timeout time.Duration) (Output, error)
}

// Exec is the real Runner backed by os/exec.
type Exec struct{}

func (Exec) Run(ctx context.Context, name string, args []string, timeout time.Duration) (Output, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}

	// A timeout surfaces as the context error rather than the opaque
	// "signal: killed" from the child.
	if runCtx.Err() != nil {
		return out, runCtx.Err()
	}
	return out, err
}
