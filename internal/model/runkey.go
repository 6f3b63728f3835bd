package model

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// runKeySignatureLines caps how many significant error lines feed the
// signature. Enough to distinguish failures, few enough that log noise below
// the real error does not fracture the key.
const runKeySignatureLines = 5

// ComputeRunKey derives the stable (repo, failure signature) key used for
// loop detection and cooldowns. Two events with the same repo, branch,
// failure type, and leading error lines share a run key even when their CI
// run IDs differ.
func ComputeRunKey(repo, branch, failureType string, errorLines []string) string {
	h := blake3.New()
	write := func(s string) {
		_, _ = h.WriteString(strings.TrimSpace(s))
		_, _ = h.WriteString("\x00")
	}
	write(strings.ToLower(repo))
	write(strings.ToLower(branch))
	write(strings.ToLower(failureType))
	n := 0
	for _, line := range errorLines {
		line = normalizeSignatureLine(line)
		if line == "" {
			continue
		}
		write(line)
		n++
		if n >= runKeySignatureLines {
			break
		}
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:32]
}

// normalizeSignatureLine strips volatile tokens so retries of the same
// failure hash identically: timestamps, counters, and memory addresses vary
// between runs of an otherwise identical failure.
func normalizeSignatureLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(line))
	inDigits := false
	for _, r := range line {
		if r >= '0' && r <= '9' {
			if !inDigits {
				b.WriteByte('#')
				inDigits = true
			}
			continue
		}
		inDigits = false
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
