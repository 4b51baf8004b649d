package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rhuss/antwort-sandbox/pkg/debug"
)

var (
	errTimedOut       = errors.New("wall-clock limit reached")
	errOutputExceeded = errors.New("output limit reached")

	// ErrLimits is returned when resource limits could not be applied to a
	// started process. The process is killed before Run returns.
	ErrLimits = errors.New("runner: applying resource limits")

	// ErrConfinement is returned when a required filesystem confinement
	// could not be established. The command never runs unconfined.
	ErrConfinement = errors.New("runner: confining filesystem")
)

// Limits bound a single process. Zero values disable a limit.
type Limits struct {
	Timeout        time.Duration
	MaxOutputBytes int64
	MemoryBytes    uint64
	CPUSeconds     uint64
	FileSizeBytes  uint64
	MaxProcesses   uint64
	IsolateNetwork bool
	// Filesystem, when set, restricts what the process can touch on disk.
	Filesystem *Confinement
}

// Confinement restricts a process to writing under its working directory.
// Besides the working directory it may read and execute from a fixed set of
// system directories, the interpreter's installation prefix and ReadOnly.
type Confinement struct {
	// ReadOnly lists extra directories the process may read. Missing
	// entries are skipped.
	ReadOnly []string
	// Writable lists extra directories the process may modify.
	Writable []string
	// Required fails the run when the kernel cannot confine the process.
	// Otherwise the process runs unconfined and a warning is logged once.
	Required bool
}

// Spec describes one process to run.
type Spec struct {
	Command []string
	Dir     string
	// Env is the complete environment; nothing is inherited.
	Env []string
	// Stdin is written to the process's standard input, which is then
	// closed. Nil gives the process an empty input.
	Stdin  []byte
	Limits Limits
}

// Output is what the runner observed.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	// Signal names the signal that terminated the process, if any.
	Signal string
	// TimedOut and Cancelled mean the supervisor killed the process group.
	TimedOut  bool
	Cancelled bool
	// OutputExceeded means the output cap was hit and the group was killed.
	OutputExceeded bool
	Duration       time.Duration
}

// Killed reports whether the supervisor terminated the process.
func (o *Output) Killed() bool {
	return o.TimedOut || o.Cancelled || o.OutputExceeded
}

// Runner runs a process to completion.
type Runner interface {
	Run(ctx context.Context, spec Spec) (*Output, error)
}

// ProcessRunner is the Runner backed by os/exec.
type ProcessRunner struct{}

// NewProcessRunner returns a ProcessRunner.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{}
}

// Run starts spec.Command and blocks until it exits or is killed. The error
// is non-nil only if the process could not be started under its limits.
func (r *ProcessRunner) Run(ctx context.Context, spec Spec) (*Output, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("runner: empty command")
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if spec.Limits.Timeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, spec.Limits.Timeout, errTimedOut)
		defer stop()
	}

	cmd := exec.CommandContext(runCtx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	if spec.Stdin != nil {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}
	setupProcessGroup(cmd)
	configureIsolation(cmd, spec.Limits)
	h, err := confine(cmd, spec)
	if err != nil {
		return nil, err
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("runner: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("runner: stderr pipe: %w", err)
	}

	budget := &outputBudget{limit: spec.Limits.MaxOutputBytes, exceeded: func() { cancel(errOutputExceeded) }}
	var stdout, stderr bytes.Buffer

	start := time.Now()
	if err := cmd.Start(); err != nil {
		h.abort()
		return nil, fmt.Errorf("runner: starting %s: %w", spec.Command[0], err)
	}
	pid := cmd.Process.Pid
	debug.Log("runner", "started", "pid", pid, "command", spec.Command, "dir", spec.Dir, "confined", h != nil)

	if err := h.handOff(); err != nil {
		cancel(fmt.Errorf("%w: %w", ErrConfinement, err))
	} else if err := applyLimits(pid, spec.Limits); err != nil {
		cancel(fmt.Errorf("%w: %w", ErrLimits, err))
	}

	var g errgroup.Group
	g.Go(func() error { return budget.pump(stdoutPipe, &stdout) })
	g.Go(func() error { return budget.pump(stderrPipe, &stderr) })
	pumpErr := g.Wait()
	waitErr := cmd.Wait()
	duration := time.Since(start)

	// Reap anything the process left behind in its group.
	killGroup(pid)

	out := &Output{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: -1,
		Duration: duration,
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
		out.Signal = signalName(cmd.ProcessState)
	}

	cause := context.Cause(runCtx)
	if errors.Is(cause, ErrLimits) || errors.Is(cause, ErrConfinement) {
		return nil, cause
	}
	// A cause that arrives after the process exited on its own is ignored.
	if out.Signal == "" && !errors.Is(cause, errOutputExceeded) {
		cause = nil
	}
	switch {
	case cause == nil:
	case errors.Is(cause, errOutputExceeded):
		out.OutputExceeded = true
	case errors.Is(cause, errTimedOut):
		out.TimedOut = true
	default:
		out.Cancelled = true
	}

	if pumpErr != nil && !out.Killed() {
		debug.Log("runner", "output pump error", "pid", pid, "error", pumpErr)
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !out.Killed() {
		debug.Log("runner", "wait error", "pid", pid, "error", waitErr)
	}

	debug.Log("runner", "finished", "pid", pid, "exit_code", out.ExitCode, "signal", out.Signal,
		"timed_out", out.TimedOut, "cancelled", out.Cancelled, "output_exceeded", out.OutputExceeded,
		"duration", duration)
	return out, nil
}

// outputBudget is shared by the stdout and stderr pumps. Bytes beyond the
// limit are discarded and the first overflow triggers exceeded.
type outputBudget struct {
	limit    int64
	exceeded func()

	mu   sync.Mutex
	used int64
	hit  bool
}

func (b *outputBudget) pump(r io.Reader, dst *bytes.Buffer) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b.write(dst, buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (b *outputBudget) write(dst *bytes.Buffer, p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit <= 0 {
		dst.Write(p)
		return
	}
	room := b.limit - b.used
	if room > int64(len(p)) {
		room = int64(len(p))
	}
	if room > 0 {
		dst.Write(p[:room])
		b.used += room
	}
	if int64(len(p)) > room && !b.hit {
		b.hit = true
		b.exceeded()
	}
}
