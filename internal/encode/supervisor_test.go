package encode

import (
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

// requireShell skips supervisor process tests on platforms without sh.
func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test requires a POSIX shell")
	}
}

// TestSupervisorSuccess checks a clean zero exit.
func TestSupervisorSuccess(t *testing.T) {
	requireShell(t)

	s := NewSupervisor(NewToken(), hclog.NewNullLogger())
	outcome := s.Run(CommandSpec{"sh", "-c", "echo done"}, nil, nil)
	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %+v, want success", outcome)
	}
}

// TestSupervisorClassifiesFailure checks exit code capture and the log
// excerpt selected from the failing process output.
func TestSupervisorClassifiesFailure(t *testing.T) {
	requireShell(t)

	s := NewSupervisor(NewToken(), hclog.NewNullLogger())
	outcome := s.Run(CommandSpec{
		"sh", "-c",
		"echo 'starting up'; echo 'Error: Invalid argument' 1>&2; exit 3",
	}, nil, nil)

	if outcome.Kind != OutcomeNonZeroExit {
		t.Fatalf("outcome = %+v, want non-zero exit", outcome)
	}
	if outcome.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", outcome.ExitCode)
	}
	if !strings.Contains(outcome.Message, "Error: Invalid argument") {
		t.Fatalf("message = %q, want the stderr error line", outcome.Message)
	}
	if strings.Contains(outcome.Message, "starting up") {
		t.Fatalf("message = %q, should prefer keyword lines", outcome.Message)
	}
}

// TestSupervisorLaunchFailure checks a missing executable.
func TestSupervisorLaunchFailure(t *testing.T) {
	s := NewSupervisor(NewToken(), hclog.NewNullLogger())
	outcome := s.Run(CommandSpec{"/nonexistent/binary-for-test"}, nil, nil)
	if outcome.Kind != OutcomeLaunchFailure {
		t.Fatalf("outcome = %+v, want launch failure", outcome)
	}
}

// TestSupervisorEmptyCommand checks the degenerate spec.
func TestSupervisorEmptyCommand(t *testing.T) {
	s := NewSupervisor(NewToken(), hclog.NewNullLogger())
	if outcome := s.Run(nil, nil, nil); outcome.Kind != OutcomeLaunchFailure {
		t.Fatalf("outcome = %+v, want launch failure", outcome)
	}
}

// TestSupervisorCancelledBeforeLaunch checks that a signalled token
// prevents the process from ever starting.
func TestSupervisorCancelledBeforeLaunch(t *testing.T) {
	token := NewToken()
	token.Signal()

	s := NewSupervisor(token, hclog.NewNullLogger())
	outcome := s.Run(CommandSpec{"sh", "-c", "echo should-not-run"}, nil, nil)
	if outcome.Kind != OutcomeCancelled {
		t.Fatalf("outcome = %+v, want cancelled", outcome)
	}
}

// TestSupervisorCancelTerminatesProcess checks that signalling the
// token stops a long-running process well before it would finish.
func TestSupervisorCancelTerminatesProcess(t *testing.T) {
	requireShell(t)

	token := NewToken()
	s := NewSupervisor(token, hclog.NewNullLogger())

	go func() {
		time.Sleep(100 * time.Millisecond)
		token.Signal()
	}()

	start := time.Now()
	outcome := s.Run(CommandSpec{"sh", "-c", "sleep 30"}, nil, nil)
	elapsed := time.Since(start)

	if outcome.Kind != OutcomeCancelled {
		t.Fatalf("outcome = %+v, want cancelled", outcome)
	}
	if elapsed > 10*time.Second {
		t.Fatalf("cancellation took %s, expected prompt termination", elapsed)
	}
}

// TestSupervisorStreamsProgress checks that output lines flow through
// the extractor and reach the progress callback.
func TestSupervisorStreamsProgress(t *testing.T) {
	requireShell(t)

	var mu sync.Mutex
	var fractions []float64

	s := NewSupervisor(NewToken(), hclog.NewNullLogger())
	outcome := s.Run(
		CommandSpec{"sh", "-c", "echo 'time=00:00:02.00' 1>&2; echo 'time=00:00:04.00' 1>&2"},
		EncoderExtractor(4),
		func(report Report) {
			if report.Kind != ProgressFraction {
				return
			}
			mu.Lock()
			fractions = append(fractions, report.Fraction)
			mu.Unlock()
		},
	)

	if outcome.Kind != OutcomeSuccess {
		t.Fatalf("outcome = %+v, want success", outcome)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fractions) != 2 {
		t.Fatalf("fractions = %v, want two reports", fractions)
	}
	if fractions[0] != 0.5 || fractions[1] != 1 {
		t.Fatalf("fractions = %v, want [0.5 1]", fractions)
	}
}

// TestTailBufferEviction checks the bounded log window.
func TestTailBufferEviction(t *testing.T) {
	buf := newTailBuffer(3)
	for _, line := range []string{"a", "b", "c", "d", "e"} {
		buf.Append(line)
	}

	lines := buf.Lines()
	if len(lines) != 3 {
		t.Fatalf("len = %d, want 3", len(lines))
	}
	if lines[0] != "c" || lines[2] != "e" {
		t.Fatalf("lines = %v, want [c d e]", lines)
	}
}
