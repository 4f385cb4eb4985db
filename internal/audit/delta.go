package audit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	deltaLineCap       = 20
	deltaSampleSize    = 8
	deltaSummaryMaxLen = 200
)

// Delta describes which lines of the patched code differ from the code it
// was derived from. Line numbers are 1-based positions in the new code.
type Delta struct {
	ChangedLinesCount  int
	ChangedLineNumbers []int
	Summary            string
}

// ComputeDelta diffs before and after line by line. ChangedLineNumbers is
// capped at 20 entries; the count is not.
func ComputeDelta(before, after string) Delta {
	matcher := difflib.NewMatcher(splitLines(before), splitLines(after))
	seen := map[int]bool{}
	for _, op := range matcher.GetOpCodes() {
		if op.Tag == 'e' {
			continue
		}
		for line := op.J1 + 1; line <= op.J2; line++ {
			seen[line] = true
		}
	}

	unique := make([]int, 0, len(seen))
	for line := range seen {
		unique = append(unique, line)
	}
	sort.Ints(unique)
	capped := unique
	if len(capped) > deltaLineCap {
		capped = capped[:deltaLineCap]
	}

	summary := "no line changes"
	if len(unique) > 0 {
		sample := capped
		suffix := ""
		if len(sample) > deltaSampleSize {
			sample = sample[:deltaSampleSize]
			suffix = "..."
		}
		parts := make([]string, len(sample))
		for i, n := range sample {
			parts[i] = strconv.Itoa(n)
		}
		summary = fmt.Sprintf("changed_lines=%d; sample=%s%s", len(unique), strings.Join(parts, ","), suffix)
	}
	if len(summary) > deltaSummaryMaxLen {
		summary = summary[:deltaSummaryMaxLen-3] + "..."
	}
	return Delta{ChangedLinesCount: len(unique), ChangedLineNumbers: capped, Summary: summary}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
