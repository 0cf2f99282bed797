package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// DefaultStepTimeout bounds one subprocess invocation.
const DefaultStepTimeout = 600 * time.Second

// Subprocess shells out to the CLI binary for each step, the isolation
// used when runs must not share the server process. Stdout is consumed
// line by line while the child runs, so the optional observers see output
// as it happens rather than at exit.
type Subprocess struct {
	Binary     string                   // path to the CLI; defaults to the current executable
	Dir        string                   // working directory for the child
	Timeout    time.Duration            // per invocation; default DefaultStepTimeout
	OnLine     func(line string)        // observes every stdout line
	OnProgress func(doc map[string]any) // observes decoded progress documents
}

func (r *Subprocess) Run(ctx context.Context, inv Invocation) (*Outcome, error) {
	argv, err := Argv(inv)
	if err != nil {
		return nil, err
	}

	bin := r.Binary
	if bin == "" {
		bin, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate binary: %w", err)
		}
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, argv...)
	cmd.Dir = r.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe stdout: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	var sink consoleSink
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if r.OnLine != nil {
			r.OnLine(line)
		}
		if doc, isProgress := sink.feed(line); isProgress && r.OnProgress != nil {
			r.OnProgress(doc)
		}
	}
	// Drain whatever the scanner left behind so Wait cannot block on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	runErr := cmd.Wait()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("step timed out after %s", timeout)
	}
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return nil, fmt.Errorf("run %s: %w", bin, runErr)
	}

	return &Outcome{
		OK:       runErr == nil,
		Result:   sink.result,
		Progress: sink.progress,
		RawTail:  sink.rawTail(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}, nil
}
