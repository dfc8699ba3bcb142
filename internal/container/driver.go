// Package container implements the Container Driver: it runs one externally
// specified command inside a freshly created, resource-bounded container and
// always destroys it, grounded on the teacher's container_sandbox.go
// runContainer/buildDockerArgs shell-out pattern, generalized from
// per-language switches to recipe-driven command tokens.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"codejudge/internal/logging"
)

// Outcome is the result of one container execution.
type Outcome struct {
	Stdout      []byte
	Stderr      []byte
	ExitCode    int // -1 if terminated by timeout or signal
	DurationMs  int64
	TimedOut    bool
	SpawnFailed bool
	SpawnError  string
}

// Config configures the driver's invocation of the container runtime.
type Config struct {
	// RuntimeBin is the command-line runtime binary, e.g. "docker".
	RuntimeBin string

	// ContainerWorkdir is the fixed in-container bind-mount path.
	ContainerWorkdir string

	// NonRootUser is the in-container identity the process runs as.
	NonRootUser string

	// OutputStreamCapBytes bounds stdout/stderr capture per stream; output
	// beyond the cap is dropped and flagged with a truncation sentinel.
	OutputStreamCapBytes int64

	DisableNetwork bool
	DropAllCaps    bool
	NoNewPrivs     bool
}

// DefaultConfig returns sane defaults for local development.
func DefaultConfig() Config {
	return Config{
		RuntimeBin:            "docker",
		ContainerWorkdir:      "/work",
		NonRootUser:           "sandbox",
		OutputStreamCapBytes:  2 * 1024 * 1024,
		DisableNetwork:        true,
		DropAllCaps:           true,
		NoNewPrivs:            true,
	}
}

// Driver runs one command per call in a freshly created container.
type Driver struct {
	cfg Config
}

// New builds a Driver from cfg.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg}
}

// Execute runs commandTokens inside a fresh container built from image, with
// workdirHostPath bind-mounted at the driver's fixed in-container path,
// feeds stdinBytes to the child and closes it, drains stdout/stderr
// concurrently, and enforces timeoutMs as a wall-clock deadline. The
// container is always removed before Execute returns, regardless of exit
// path.
func (d *Driver) Execute(
	ctx context.Context,
	image string,
	commandTokens []string,
	workdirHostPath string,
	stdinBytes []byte,
	timeoutMs int64,
	memoryLimitMiB int64,
	cpuQuota float64,
) Outcome {
	containerName := fmt.Sprintf("codejudge-exec-%s", uuid.New().String()[:12])

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	args := d.buildRunArgs(containerName, image, workdirHostPath, memoryLimitMiB, cpuQuota, len(stdinBytes) > 0)
	args = append(args, commandTokens...)

	cmd := exec.CommandContext(execCtx, d.cfg.RuntimeBin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = newCappedWriter(&stdout, d.cfg.OutputStreamCapBytes)
	cmd.Stderr = newCappedWriter(&stderr, d.cfg.OutputStreamCapBytes)
	if len(stdinBytes) > 0 {
		cmd.Stdin = bytes.NewReader(stdinBytes)
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	outcome := Outcome{
		Stdout:     stdout.Bytes(),
		Stderr:     stderr.Bytes(),
		DurationMs: duration.Milliseconds(),
	}

	// Forced removal by name runs on every exit path (kill-by-name runs only
	// on deadline expiry, below); it is a no-op if the container already
	// exited and was auto-removed by --rm.
	defer d.forceRemove(containerName)

	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		outcome.TimedOut = true
		outcome.ExitCode = -1
		d.killByName(containerName)
	case err == nil:
		outcome.ExitCode = 0
	default:
		if exitErr, ok := err.(*exec.ExitError); ok {
			outcome.ExitCode = exitErr.ExitCode()
		} else {
			outcome.SpawnFailed = true
			outcome.SpawnError = err.Error()
			outcome.ExitCode = -1
		}
	}

	return outcome
}

// buildRunArgs constructs the `docker run` argument list: generated name,
// auto-removal, resource caps, security flags, network isolation, the
// bind-mounted working directory, non-root user, and the image — grounded
// on the teacher's buildDockerArgs.
func (d *Driver) buildRunArgs(containerName, image, workdirHostPath string, memoryLimitMiB int64, cpuQuota float64, withStdin bool) []string {
	args := []string{"run", "--rm"}
	if withStdin {
		args = append(args, "-i")
	}
	args = append(args,
		"--name", containerName,
		"--memory", fmt.Sprintf("%dm", memoryLimitMiB),
		"--memory-swap", fmt.Sprintf("%dm", memoryLimitMiB),
		"--cpus", fmt.Sprintf("%.2f", cpuQuota),
	)

	if d.cfg.DropAllCaps {
		args = append(args, "--cap-drop=ALL")
	}
	if d.cfg.NoNewPrivs {
		args = append(args, "--security-opt=no-new-privileges:true")
	}
	if d.cfg.DisableNetwork {
		args = append(args, "--network=none")
	}

	args = append(args, "-v", fmt.Sprintf("%s:%s", workdirHostPath, d.cfg.ContainerWorkdir))
	args = append(args, "-w", d.cfg.ContainerWorkdir)
	if d.cfg.NonRootUser != "" {
		args = append(args, "--user", d.cfg.NonRootUser)
	}

	return append(args, image)
}

// killByName actively terminates the container out-of-band on deadline
// expiry, then forceRemove reaps it regardless of whether the kill
// succeeded.
func (d *Driver) killByName(containerName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, d.cfg.RuntimeBin, "stop", "-t", "2", containerName).Run(); err != nil {
		logging.S().Debugw("container stop failed, will force-remove", "container", containerName, "err", err)
	}
}

// forceRemove issues a best-effort forced removal keyed on the generated
// container name. Execute returns only after this completes.
func (d *Driver) forceRemove(containerName string) {
	if err := exec.Command(d.cfg.RuntimeBin, "rm", "-f", containerName).Run(); err != nil {
		logging.S().Debugw("container rm -f failed (likely already removed by --rm)", "container", containerName, "err", err)
	}
}

// cappedWriter truncates a stream at a byte cap and appends a sentinel,
// grounded on the teacher's limitedWriter but sized for judge workloads
// (see SPEC_FULL.md's 2 MiB default vs. the teacher's 1 MiB).
type cappedWriter struct {
	mu             sync.Mutex
	w              io.Writer
	cap            int64
	written        int64
	sentinelWritten bool
}

func newCappedWriter(w io.Writer, cap int64) *cappedWriter {
	return &cappedWriter{w: w, cap: cap}
}

func (c *cappedWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.written >= c.cap {
		c.writeSentinelOnce()
		return len(p), nil
	}

	remaining := c.cap - c.written
	toWrite := p
	exceeded := int64(len(p)) > remaining
	if exceeded {
		toWrite = p[:remaining]
	}

	n, err := c.w.Write(toWrite)
	c.written += int64(n)
	if exceeded {
		c.writeSentinelOnce()
	}
	return len(p), err
}

func (c *cappedWriter) writeSentinelOnce() {
	if c.sentinelWritten {
		return
	}
	c.sentinelWritten = true
	_, _ = c.w.Write([]byte("\n[output truncated: stream exceeded cap]\n"))
}
