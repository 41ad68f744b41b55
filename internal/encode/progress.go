package encode

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ProgressKind classifies what a single output line revealed.
type ProgressKind int

const (
	// ProgressNone means the line carried no progress information.
	ProgressNone ProgressKind = iota
	// ProgressFraction means a normalized completion fraction is known.
	ProgressFraction
	// ProgressIndeterminate means the process is working but no
	// percentage can be computed.
	ProgressIndeterminate
)

// Report carries one progress observation from a running process.
type Report struct {
	Kind     ProgressKind
	Fraction float64 // in [0,1], valid only when Kind == ProgressFraction
}

// LineExtractor turns one line of process output into a progress report.
// prev is the last fraction already reported, used for hysteresis.
type LineExtractor func(line string, prev float64) Report

var encoderTimestampRe = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2})\.(\d{2})`)

// progressHysteresis suppresses callback flooding on high-frequency
// encoder output: fractions within half a percentage point of the
// previous report are dropped.
const progressHysteresis = 0.005

// ExtractProgress scans an encoder output line for a time= stamp and
// normalizes the elapsed time against totalSeconds. An unknown total
// (zero) degrades to indeterminate rather than a made-up percentage.
// Lines with only a frame= marker also report indeterminate progress.
func ExtractProgress(line string, totalSeconds, prev float64) Report {
	if m := encoderTimestampRe.FindStringSubmatch(line); m != nil {
		if totalSeconds <= 0 {
			return Report{Kind: ProgressIndeterminate}
		}

		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		sec, _ := strconv.Atoi(m[3])
		cc, _ := strconv.Atoi(m[4])
		elapsed := float64(h)*3600 + float64(min)*60 + float64(sec) + float64(cc)/100

		fraction := elapsed / totalSeconds
		if fraction > 1 {
			fraction = 1
		}
		if math.Abs(fraction-prev) <= progressHysteresis {
			return Report{Kind: ProgressNone}
		}
		return Report{Kind: ProgressFraction, Fraction: fraction}
	}

	if strings.Contains(line, "frame=") {
		return Report{Kind: ProgressIndeterminate}
	}
	return Report{Kind: ProgressNone}
}

// EncoderExtractor binds ExtractProgress to a known clip duration.
func EncoderExtractor(totalSeconds float64) LineExtractor {
	return func(line string, prev float64) Report {
		return ExtractProgress(line, totalSeconds, prev)
	}
}
