// Package patch holds the deterministic source-to-source repair rules tried
// on a failing candidate before any external proposer is consulted.
package patch

import (
	"strings"
)

// Context is everything a patcher may look at. Patchers only read it.
type Context struct {
	TaskID         string
	Prompt         string
	Code           string
	FailureType    string
	ErrorSignature string
	ErrorMessage   string
	TaskPayload    map[string]any
	Language       string
}

// combined is the signature and message joined the way every rule matches
// against them.
func (c Context) combined() string {
	return c.ErrorSignature + " " + c.ErrorMessage
}

func (c Context) functionName() string {
	s, _ := c.TaskPayload["function_name"].(string)
	return s
}

// Result is a successful patch.
type Result struct {
	PatchedCode string `json:"patched_code"`
	PatcherID   string `json:"patcher_id"`
	Summary     string `json:"patch_summary"`
}

// Patcher is one repair rule. CanApply is a cheap precondition; Apply may
// still decline by returning nil. Neither mutates the context, and Apply
// returns identical output for identical input.
type Patcher interface {
	ID() string
	CanApply(ctx Context) bool
	Apply(ctx Context) *Result
}

// InPriority returns the fixed rule order for a language.
func InPriority(language string) []Patcher {
	if language == "ts" {
		return []Patcher{
			tsExport{},
			tsRenameSymbol{},
			tsMissingImport{},
			tsNumberReturn{},
			tsFixTypeAnnotation{},
			tsAddReturn{},
		}
	}
	return []Patcher{
		syntaxFix{},
		indentation{},
		missingImport{},
		renameSymbol{},
		addReturn{},
	}
}

// ApplyFirst tries the rules for ctx.Language in order and returns the first
// patch produced, or nil.
func ApplyFirst(ctx Context) *Result {
	for _, p := range InPriority(ctx.Language) {
		if r := try(p, ctx); r != nil {
			return r
		}
	}
	return nil
}

// try runs one rule. A panicking rule counts as declining.
func try(p Patcher, ctx Context) (r *Result) {
	defer func() {
		if recover() != nil {
			r = nil
		}
	}()
	if !p.CanApply(ctx) {
		return nil
	}
	r = p.Apply(ctx)
	if r != nil && r.PatchedCode == ctx.Code {
		return nil
	}
	return r
}

// lines is source split on line breaks, remembering whether the original
// ended with a newline so joining restores it.
type lines struct {
	rows     []string
	trailing bool
}

func splitLines(code string) *lines {
	if code == "" {
		return &lines{}
	}
	return &lines{
		rows:     strings.Split(strings.TrimSuffix(code, "\n"), "\n"),
		trailing: strings.HasSuffix(code, "\n"),
	}
}

func (l *lines) String() string {
	s := strings.Join(l.rows, "\n")
	if l.trailing {
		s += "\n"
	}
	return s
}

func (l *lines) insert(at int, row string) {
	l.rows = append(l.rows, "")
	copy(l.rows[at+1:], l.rows[at:])
	l.rows[at] = row
}

func (l *lines) contains(row string) bool {
	for _, r := range l.rows {
		if strings.TrimSpace(r) == row {
			return true
		}
	}
	return false
}

func indentOf(s string) int {
	return len(s) - len(strings.TrimLeft(s, " "))
}
