package encode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/process"
)

// CommandSpec is the fully resolved argument vector for one stage,
// executable first. Paths must already be absolute.
type CommandSpec []string

const (
	// tailCapacity bounds the rolling per-stream log; only the tail is
	// needed for failure classification.
	tailCapacity = 200
	// terminateGrace is how long a cancelled process gets to exit after
	// a graceful terminate before the whole tree is killed.
	terminateGrace = 5 * time.Second
	// drainGrace bounds the wait for stream readers after exit so a
	// hung reader cannot stall completion.
	drainGrace = 2 * time.Second
)

// Supervisor runs exactly one external command: it drains both output
// streams concurrently, feeds each line through a LineExtractor,
// enforces the shared cancellation token, and reduces the process exit
// to a classified Outcome. The underlying process handle is owned
// exclusively by the supervisor for its entire lifetime.
type Supervisor struct {
	token  *Token
	logger hclog.Logger
}

// NewSupervisor creates a supervisor bound to the job's token.
func NewSupervisor(token *Token, logger hclog.Logger) *Supervisor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Supervisor{token: token, logger: logger}
}

// Run blocks until the process finishes or the token forces
// termination. onProgress receives rate-limited reports extracted from
// either stream; it may be called from two drain goroutines but never
// after Run returns. The Outcome is produced exactly once, after both
// streams are closed and the process is reaped.
func (s *Supervisor) Run(spec CommandSpec, extract LineExtractor, onProgress func(Report)) Outcome {
	if len(spec) == 0 {
		return Outcome{Kind: OutcomeLaunchFailure, Message: "empty command"}
	}
	if s.token != nil && s.token.Cancelled() {
		return Outcome{Kind: OutcomeCancelled, Message: "cancelled before launch"}
	}

	cmd := exec.Command(spec[0], spec[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Outcome{Kind: OutcomeCrashed, Message: fmt.Sprintf("stdout pipe: %v", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Outcome{Kind: OutcomeCrashed, Message: fmt.Sprintf("stderr pipe: %v", err)}
	}

	if err := cmd.Start(); err != nil {
		return Outcome{Kind: OutcomeLaunchFailure, Message: fmt.Sprintf("launch %s: %v", spec[0], err)}
	}
	s.logger.Debug("process started", "pid", cmd.Process.Pid, "command", spec[0])

	stdoutTail := newTailBuffer(tailCapacity)
	stderrTail := newTailBuffer(tailCapacity)

	// The two drains share the hysteresis baseline, so the lock covers
	// extraction as well as the update of the last reported fraction.
	var progressMu sync.Mutex
	lastFraction := 0.0
	observe := func(line string) {
		if extract == nil || onProgress == nil {
			return
		}
		progressMu.Lock()
		report := extract(line, lastFraction)
		if report.Kind == ProgressFraction {
			lastFraction = report.Fraction
		}
		progressMu.Unlock()
		if report.Kind != ProgressNone {
			onProgress(report)
		}
	}

	var drains sync.WaitGroup
	drains.Add(2)
	go drainStream(stdout, stdoutTail, observe, &drains)
	go drainStream(stderr, stderrTail, observe, &drains)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	cancelled := false
	select {
	case waitErr = <-waitCh:
	case <-s.tokenDone():
		cancelled = true
		waitErr = s.terminate(cmd, waitCh)
	}

	drained := make(chan struct{})
	go func() {
		drains.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainGrace):
		s.logger.Warn("stream drain timed out", "command", spec[0])
	}

	if cancelled || (s.token != nil && s.token.Cancelled()) {
		s.logger.Info("process cancelled", "command", spec[0])
		return Outcome{Kind: OutcomeCancelled, Message: "cancelled by user"}
	}

	if waitErr == nil {
		s.logger.Debug("process finished", "command", spec[0])
		return Outcome{Kind: OutcomeSuccess}
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := NormalizeExitCode(int64(exitErr.ExitCode()))
		combined := append(stdoutTail.Lines(), stderrTail.Lines()...)
		message := ClassifyFailure(combined)
		s.logger.Warn("process failed", "command", spec[0], "exit_code", code)
		return Outcome{Kind: OutcomeNonZeroExit, ExitCode: code, Message: message}
	}
	return Outcome{Kind: OutcomeCrashed, Message: waitErr.Error()}
}

// tokenDone returns a never-closing channel when no token is attached.
func (s *Supervisor) tokenDone() <-chan struct{} {
	if s.token == nil {
		return nil
	}
	return s.token.Done()
}

// terminate attempts a graceful stop, escalating to a kill of the whole
// process tree after the grace window. It returns the wait error once
// the process has been reaped.
func (s *Supervisor) terminate(cmd *exec.Cmd, waitCh <-chan error) error {
	pid := int32(cmd.Process.Pid)
	killTree(pid, false)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(terminateGrace):
		s.logger.Warn("process ignored terminate, killing tree", "pid", pid)
	}

	killTree(pid, true)
	select {
	case err := <-waitCh:
		return err
	case <-time.After(drainGrace):
		return errors.New("process did not exit after kill")
	}
}

// killTree signals the process and every descendant. An encoder spawned
// through a wrapper can leave children orphaned by a plain PID kill, so
// children are walked depth-first before the parent.
func killTree(pid int32, force bool) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return
	}

	children, _ := proc.Children()
	for _, child := range children {
		killTree(child.Pid, force)
	}

	if force {
		_ = proc.Kill()
		return
	}
	if err := proc.Terminate(); err != nil {
		_ = proc.Kill()
	}
}

// drainStream reads one pipe line by line until EOF, recording the tail
// and feeding each line to the progress observer.
func drainStream(r io.Reader, buf *tailBuffer, observe func(string), wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		buf.Append(line)
		observe(line)
	}
}

// tailBuffer keeps the last capacity lines pushed into it.
type tailBuffer struct {
	mu       sync.Mutex
	capacity int
	lines    []string
}

// newTailBuffer creates an empty bounded line buffer.
func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{capacity: capacity}
}

// Append records one line, evicting the oldest when full.
func (b *tailBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, line)
	if len(b.lines) > b.capacity {
		trim := len(b.lines) - b.capacity
		b.lines = append([]string(nil), b.lines[trim:]...)
	}
}

// Lines returns a snapshot of the buffered tail.
func (b *tailBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}
