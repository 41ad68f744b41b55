package encode

import (
	"fmt"
	"strings"
	"testing"
)

// TestNormalizeExitCode checks reinterpretation of unsigned exit values.
func TestNormalizeExitCode(t *testing.T) {
	cases := []struct {
		in   int64
		want int
	}{
		{0, 0},
		{1, 1},
		{255, 255},
		{4294967295, -1},
		{4294967294, -2},
	}

	for _, tc := range cases {
		if got := NormalizeExitCode(tc.in); got != tc.want {
			t.Fatalf("NormalizeExitCode(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

// TestClassifyFailurePrefersKeywordLines checks the keyword excerpt.
func TestClassifyFailurePrefersKeywordLines(t *testing.T) {
	lines := []string{
		"Input #0, mov,mp4,m4a",
		"Error: first",
		"some progress noise",
		"Invalid argument",
		"file NOT FOUND",
		"cannot open codec",
		"operation FAILED",
		"Permission denied while writing",
	}

	got := ClassifyFailure(lines)
	excerpt := strings.Split(got, "\n")
	if len(excerpt) != 5 {
		t.Fatalf("excerpt has %d lines, want 5", len(excerpt))
	}
	// The earliest keyword match falls off once more than five exist.
	if strings.Contains(got, "Error: first") {
		t.Fatalf("excerpt should drop the oldest match, got:\n%s", got)
	}
	if !strings.Contains(got, "Permission denied while writing") {
		t.Fatalf("excerpt should keep the newest match, got:\n%s", got)
	}
	if strings.Contains(got, "progress noise") {
		t.Fatalf("excerpt should omit non-matching lines, got:\n%s", got)
	}
}

// TestClassifyFailureFallsBackToTail checks behavior with no keywords.
func TestClassifyFailureFallsBackToTail(t *testing.T) {
	lines := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}

	got := ClassifyFailure(lines)
	excerpt := strings.Split(got, "\n")
	if len(excerpt) != 15 {
		t.Fatalf("excerpt has %d lines, want 15", len(excerpt))
	}
	if excerpt[0] != "line 5" || excerpt[14] != "line 19" {
		t.Fatalf("excerpt window wrong: first %q last %q", excerpt[0], excerpt[14])
	}
}

// TestClassifyFailureEmptyOutput checks behavior with nothing captured.
func TestClassifyFailureEmptyOutput(t *testing.T) {
	if got := ClassifyFailure(nil); got != "" {
		t.Fatalf("ClassifyFailure(nil) = %q, want empty", got)
	}
}
