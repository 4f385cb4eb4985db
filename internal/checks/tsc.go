package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TSFinding is one compiler diagnostic.
type TSFinding struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Diagnostic renders the finding back in tsc's "error TSxxxx: message" form.
func (f TSFinding) Diagnostic() string {
	return fmt.Sprintf("error %s: %s", f.Code, f.Message)
}

// TSResult lists every diagnostic found in one compiler run.
type TSResult struct {
	Errors   int         `json:"errors"`
	Findings []TSFinding `json:"findings"`
}

// tsc output format: src/auth.ts(42,5): error TS2345: Argument of type...
var tscLineRe = regexp.MustCompile(`^(.+)\((\d+),(\d+)\):\s+error\s+(TS\d+):\s+(.+)$`)

// bare form without a location, as printed for project-level errors
var tscBareRe = regexp.MustCompile(`^error\s+(TS\d+):\s+(.+)$`)

// ParseTSC extracts diagnostics from raw compiler output in order.
func ParseTSC(output string) TSResult {
	var result TSResult
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if m := tscLineRe.FindStringSubmatch(line); m != nil {
			lineNum, _ := strconv.Atoi(m[2])
			col, _ := strconv.Atoi(m[3])
			result.Findings = append(result.Findings, TSFinding{
				File:    m[1],
				Line:    lineNum,
				Column:  col,
				Code:    m[4],
				Message: m[5],
			})
			result.Errors++
			continue
		}
		if m := tscBareRe.FindStringSubmatch(line); m != nil {
			result.Findings = append(result.Findings, TSFinding{Code: m[1], Message: m[2]})
			result.Errors++
		}
	}
	return result
}

// TruncateHead keeps the first max bytes of s and marks the cut.
func TruncateHead(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + " ...[truncated]"
}
