// Package classify maps verification failures onto a small closed taxonomy
// and a normalized error signature that compares equal across machines.
package classify

import (
	"fmt"
	"regexp"
	"strings"
)

// FailureType is the closed set of failure categories.
type FailureType string

const (
	SyntaxError    FailureType = "syntax_error"
	ImportError    FailureType = "import_error"
	Timeout        FailureType = "timeout"
	AssertionFail  FailureType = "assertion_fail"
	RuntimeError   FailureType = "runtime_error"
	TSSyntaxError  FailureType = "ts_syntax_error"
	TSTypeError    FailureType = "ts_type_error"
	TSNameError    FailureType = "ts_name_error"
	TSCompileError FailureType = "ts_compile_error"
)

// MaxSignatureMessage is the character budget for the message half of a
// signature.
const MaxSignatureMessage = 140

// Failure is the classification of one failing verification. The zero value
// means "passed".
type Failure struct {
	Type      FailureType `json:"failure_type"`
	Signature string      `json:"error_signature"`
}

// IsZero reports whether f is the passing classification.
func (f Failure) IsZero() bool {
	return f.Type == "" && f.Signature == ""
}

// Input is the subset of a verification result the classifier looks at.
type Input struct {
	Passed       bool
	ErrorType    string
	ErrorMessage string
	Error        string
	Stage        string
}

var (
	// An absolute path starts a token: /a/b, C:\a\b. The prefix group keeps
	// whatever delimiter preceded it.
	absPathRe    = regexp.MustCompile(`(^|[\s'"(=])((?:[A-Za-z]:)?(?:[/\\][\w.\-~@+]+)+)`)
	lineColRe    = regexp.MustCompile(`\(\d+,\s*\d+\)`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	tsCodeRe     = regexp.MustCompile(`^TS\d{4}$`)
)

// NormalizeMessage strips absolute paths and (line,col) tuples and collapses
// whitespace.
func NormalizeMessage(msg string) string {
	msg = absPathRe.ReplaceAllString(msg, "${1}<path>")
	msg = lineColRe.ReplaceAllString(msg, "")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(msg, " "))
}

// Short collapses whitespace and truncates to limit characters, marking the
// cut with "...".
func Short(s string, limit int) string {
	s = strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}

// Signature builds "{errorType}:{normalized message}".
func Signature(errorType, message string) string {
	return fmt.Sprintf("%s:%s", errorType, Short(NormalizeMessage(message), MaxSignatureMessage))
}

// Classify dispatches on language. Anything other than "ts" is classified
// with the Python taxonomy.
func Classify(in Input, language string) Failure {
	if in.Passed {
		return Failure{}
	}
	if language == "ts" {
		return classifyTS(in)
	}
	return classifyPython(in)
}

func message(in Input) string {
	if in.ErrorMessage != "" {
		return in.ErrorMessage
	}
	return in.Error
}

func classifyPython(in Input) Failure {
	errType := in.ErrorType
	if errType == "" {
		errType = "UnknownError"
	}
	msg := message(in)
	lower := strings.ToLower(msg)

	var ft FailureType
	switch {
	case errType == "SyntaxError" || errType == "IndentationError" || errType == "TabError":
		ft = SyntaxError
	case errType == "ModuleNotFoundError" || errType == "ImportError":
		ft = ImportError
	case errType == "TimeoutError" || strings.Contains(lower, "timeout"):
		ft = Timeout
	case errType == "AssertionError" || strings.Contains(lower, "mismatch"):
		ft = AssertionFail
	default:
		ft = RuntimeError
	}
	return Failure{Type: ft, Signature: Signature(errType, msg)}
}

func classifyTS(in Input) Failure {
	errType := in.ErrorType
	msg := message(in)
	lower := strings.ToLower(msg)

	if errType == "TimeoutError" || strings.Contains(lower, "timeout") || in.Stage == "timeout" {
		return Failure{Type: Timeout, Signature: Signature("TimeoutError", msg)}
	}
	if tsCodeRe.MatchString(errType) {
		d := ClassifyTSC(fmt.Sprintf("error %s: %s", errType, msg))
		return Failure{Type: d.Type, Signature: d.Signature}
	}
	if errType == "AssertionError" || in.Stage == "unit_test" {
		ft := RuntimeError
		if errType == "AssertionError" || strings.Contains(lower, "mismatch") {
			ft = AssertionFail
		}
		if errType == "" {
			errType = "RuntimeError"
		}
		return Failure{Type: ft, Signature: Signature(errType, msg)}
	}
	if in.Stage == "tsc" || in.Stage == "build" {
		if errType == "" {
			errType = "TS0000"
		}
		return Failure{Type: TSCompileError, Signature: Signature(errType, msg)}
	}
	if errType == "" {
		errType = "RuntimeError"
	}
	return Failure{Type: RuntimeError, Signature: Signature(errType, msg)}
}
