package encode

import (
	"math"
	"strings"
)

// OutcomeKind is the terminal classification of one supervised process.
type OutcomeKind int

const (
	// OutcomeSuccess means the process exited zero.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeNonZeroExit means the process ran and failed; Message
	// carries a classified log excerpt.
	OutcomeNonZeroExit
	// OutcomeLaunchFailure means the executable could not be started.
	OutcomeLaunchFailure
	// OutcomeCancelled means the token was signalled before or during
	// execution.
	OutcomeCancelled
	// OutcomeCrashed means an unexpected supervision error occurred.
	OutcomeCrashed
)

// Outcome is produced exactly once per supervised run.
type Outcome struct {
	Kind     OutcomeKind
	ExitCode int
	Message  string
}

// failureKeywords mark log lines worth surfacing when a process fails.
var failureKeywords = []string{
	"error",
	"failed",
	"not found",
	"invalid",
	"cannot",
	"permission denied",
}

const (
	classifiedKeywordLines = 5
	classifiedTailLines    = 15
)

// NormalizeExitCode reinterprets large unsigned exit values as signed
// 32-bit codes. Some platforms report signal-terminated processes as
// values like 4294967295 where -1 is meant.
func NormalizeExitCode(code int64) int {
	if code > math.MaxInt32 {
		code -= 1 << 32
	}
	return int(code)
}

// ClassifyFailure selects a short diagnostic excerpt from the combined
// captured output of a failed process: the last five keyword-matching
// lines when any exist, otherwise the last fifteen lines verbatim.
func ClassifyFailure(lines []string) string {
	matching := make([]string, 0, len(lines))
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, keyword := range failureKeywords {
			if strings.Contains(lower, keyword) {
				matching = append(matching, line)
				break
			}
		}
	}

	if len(matching) > 0 {
		return strings.Join(tail(matching, classifiedKeywordLines), "\n")
	}
	return strings.Join(tail(lines, classifiedTailLines), "\n")
}

// tail returns the last n elements of lines.
func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
