package optimizer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Result carries what a successful optimization run produced besides the
// output file itself.
type Result struct {
	VertexCountBefore *int
	VertexCountAfter  *int
	Log               string
}

// Error classifies an optimizer failure. Transient failures (timeout, killed
// process) are retried by the orchestrator; permanent ones (malformed input,
// bad exit) fail the job immediately.
type Error struct {
	Transient bool
	Detail    string
}

func (e *Error) Error() string { return e.Detail }

// IsTransient reports whether err is a retryable optimizer failure.
func IsTransient(err error) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Transient
}

// Invoker abstracts the optimizer so the worker can be tested without a
// gltfpack binary.
type Invoker interface {
	Optimize(ctx context.Context, inputPath, outputPath string, targetTriangles int) (*Result, error)
}

// Runner invokes the external gltfpack binary as a subprocess. The runner
// owns file placement and timeout enforcement; the reduction algorithm is the
// binary's business.
type Runner struct {
	Path        string
	Timeout     time.Duration
	MaxLogBytes int
}

// NewRunner creates a runner for the binary at path with a hard wall-clock
// timeout per invocation.
func NewRunner(path string, timeout time.Duration) *Runner {
	return &Runner{Path: path, Timeout: timeout, MaxLogBytes: 4096}
}

// Optimize reduces inputPath into outputPath targeting the given triangle
// count. Vertex counts are collected best-effort before and after.
func (r *Runner) Optimize(ctx context.Context, inputPath, outputPath string, targetTriangles int) (*Result, error) {
	before := r.vertexCount(ctx, inputPath)

	ratio := 1.0
	if before != nil && *before > 0 && targetTriangles > 0 {
		ratio = float64(targetTriangles) / float64(*before)
		if ratio > 1 {
			ratio = 1
		}
		if ratio < 0.01 {
			ratio = 0.01
		}
	}

	args := []string{
		"-i", inputPath,
		"-o", outputPath,
		"-si", strconv.FormatFloat(ratio, 'f', 4, 64),
		"-cc",
	}
	output, err := r.run(ctx, r.Timeout, args...)
	if err != nil {
		return nil, err
	}

	return &Result{
		VertexCountBefore: before,
		VertexCountAfter:  r.vertexCount(ctx, outputPath),
		Log:               output,
	}, nil
}

// vertexCount asks the binary for mesh statistics. Failures are swallowed:
// counts are informational and must not fail the job.
func (r *Runner) vertexCount(ctx context.Context, path string) *int {
	output, err := r.run(ctx, 30*time.Second, "-i", path, "-v")
	if err != nil {
		return nil
	}
	return parseVertexCount(output)
}

// run executes the binary with a bounded wall clock and returns its combined
// output, truncated to MaxLogBytes.
func (r *Runner) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.Path, args...)
	raw, err := cmd.CombinedOutput()
	output := r.truncate(string(raw))
	if err == nil {
		return output, nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return output, &Error{
			Transient: true,
			Detail:    fmt.Sprintf("optimizer timed out after %s: %s", timeout, output),
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A negative exit code means the process died on a signal, which is
		// resource pressure rather than bad input.
		if exitErr.ExitCode() < 0 {
			return output, &Error{
				Transient: true,
				Detail:    fmt.Sprintf("optimizer killed: %s", output),
			}
		}
		return output, &Error{
			Transient: false,
			Detail:    fmt.Sprintf("optimizer exited with code %d: %s", exitErr.ExitCode(), output),
		}
	}

	return output, &Error{
		Transient: false,
		Detail:    fmt.Sprintf("optimizer invocation failed: %v", err),
	}
}

func (r *Runner) truncate(s string) string {
	limit := r.MaxLogBytes
	if limit <= 0 {
		limit = 4096
	}
	if len(s) <= limit {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[:limit]) + "... (truncated)"
}

// parseVertexCount extracts the first "vertices: N" figure from optimizer
// output.
func parseVertexCount(output string) *int {
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, "vertices:")
		if idx < 0 {
			continue
		}
		fields := strings.Fields(line[idx+len("vertices:"):])
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.Atoi(strings.ReplaceAll(fields[0], ",", ""))
		if err != nil {
			continue
		}
		return &n
	}
	return nil
}
