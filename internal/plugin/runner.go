package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/mattjoyce/probot-gw/internal/protocol"
)

const (
	// maxStderrBytes caps the amount of stderr captured from plugin execution.
	maxStderrBytes = 64 * 1024

	// defaultGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	defaultGracePeriod = 5 * time.Second
)

// ErrTimeout is returned when a plugin exceeds its invocation timeout.
var ErrTimeout = errors.New("plugin execution timed out")

// Runner executes plugin entrypoints as subprocesses speaking the JSON protocol.
type Runner struct {
	logger      *slog.Logger
	gracePeriod time.Duration
}

// NewRunner creates a Runner that logs through logger.
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, gracePeriod: defaultGracePeriod}
}

// Result is the outcome of one plugin invocation.
type Result struct {
	Response *protocol.Response
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Run spawns the plugin, writes req to its stdin, and decodes its stdout.
// The process is sent SIGTERM when the plugin timeout elapses or ctx is done,
// and SIGKILL if it has not exited after the grace period.
func (r *Runner) Run(ctx context.Context, p *Plugin, req *protocol.Request) (*Result, error) {
	logger := r.logger.With("plugin", p.Name)
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// CommandContext would SIGKILL immediately; termination is managed here.
	cmd := exec.Command(p.Entrypoint)
	cmd.Dir = p.Path
	cmd.WaitDelay = r.gracePeriod

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning plugin", "entrypoint", p.Entrypoint, "timeout", timeout)
	start := time.Now()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var stopReason error
	select {
	case <-timeoutTimer.C:
		stopReason = ErrTimeout
	case <-ctx.Done():
		stopReason = ctx.Err()
	case err := <-waitErr:
		return r.finish(logger, start, err, <-writeErr, &stdout, &stderr)
	}

	logger.Warn("stopping plugin, sending SIGTERM", "reason", stopReason.Error())
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(r.gracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("plugin exited after SIGTERM")
	case <-grace.C:
		logger.Warn("plugin did not exit after SIGTERM, sending SIGKILL")
		if err := cmd.Process.Kill(); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}

	return &Result{
		Stderr:   truncateStderr(stderr.String()),
		ExitCode: -1,
		Duration: time.Since(start),
	}, stopReason
}

func (r *Runner) finish(logger *slog.Logger, start time.Time, waitErr, writeErr error, stdout, stderr *bytes.Buffer) (*Result, error) {
	res := &Result{
		Stderr:   truncateStderr(stderr.String()),
		Duration: time.Since(start),
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("wait for process: %w", waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
		logger.Warn("plugin exited with non-zero status", "exit_code", res.ExitCode)
	}

	resp, err := protocol.DecodeResponse(bytes.NewReader(stdout.Bytes()))
	if err != nil {
		// Stdout is not logged; it may echo payload contents.
		logger.Error("failed to decode plugin response", "error", err, "stdout_bytes", stdout.Len())
		if writeErr != nil {
			return res, writeErr
		}
		return res, fmt.Errorf("decode response: %w", err)
	}
	res.Response = resp

	return res, nil
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
