package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"

	"recordpatch/internal/patcherr"
)

// Result is the outcome of one external tool invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner launches an external tool and waits for it to exit.
// A non-zero exit code is reported in Result, not as an error.
type Runner interface {
	Run(ctx context.Context, name string, args []string, dir string) (Result, error)
}

// Exec runs tools as child processes.
type Exec struct{}

// Run starts name with args in dir, drains stdout and stderr concurrently and
// returns once the process has exited and both streams are fully read.
func (Exec) Run(ctx context.Context, name string, args []string, dir string) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	op := "run " + name
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1}, patcherr.Wrap(patcherr.KindExternalTool, op, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{ExitCode: -1}, patcherr.Wrap(patcherr.KindExternalTool, op, err)
	}
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, patcherr.Wrap(patcherr.KindExternalTool, op, fmt.Errorf("failed to start process: %w", err))
	}

	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error { return drain(&outBuf, stdout) })
	g.Go(func() error { return drain(&errBuf, stderr) })
	readErr := g.Wait()

	// Wait closes the pipes, so it must follow the reads.
	waitErr := cmd.Wait()
	res := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, patcherr.Wrap(patcherr.KindExternalTool, op, waitErr)
		}
	}
	if readErr != nil {
		return res, patcherr.Wrap(patcherr.KindExternalTool, op, readErr)
	}
	return res, nil
}

func drain(dst *bytes.Buffer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	return err
}

// CommandLine renders name and args for log output.
func CommandLine(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{name}, args...) {
		if strings.ContainsAny(a, " \t") {
			a = `"` + a + `"`
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
