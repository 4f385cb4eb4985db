// Package task defines the coding task the agent loop executes and the task
// spec files it is loaded from.
package task

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// ErrInvalidSpec is returned for task specs that cannot be executed.
var ErrInvalidSpec = errors.New("invalid task spec")

// Languages the verification pipeline supports.
const (
	LangPython     = "py"
	LangTypeScript = "ts"
)

// Task is one fixed-attempt coding task. Attempts are the ordered candidates
// supplied by the caller; they are never generated here.
type Task struct {
	ID         string
	Prompt     string
	TargetFile string
	Attempts   []string
	Language   string
}

// New copies attempts so later caller mutation cannot change the task.
func New(id, prompt, targetFile string, attempts []string, language string) Task {
	if language == "" {
		language = LangPython
	}
	return Task{
		ID:         id,
		Prompt:     prompt,
		TargetFile: targetFile,
		Attempts:   append([]string(nil), attempts...),
		Language:   language,
	}
}

// Testcase is one call of the target function.
type Testcase struct {
	Inputs   []any `json:"inputs" yaml:"inputs"`
	Expected any   `json:"expected" yaml:"expected"`
}

// Spec is the on-disk task description.
type Spec struct {
	TaskID       string         `json:"task_id" yaml:"task_id"`
	Prompt       string         `json:"prompt" yaml:"prompt"`
	TargetFile   string         `json:"target_file" yaml:"target_file"`
	FunctionName string         `json:"function_name" yaml:"function_name"`
	Testcases    []Testcase     `json:"testcases" yaml:"testcases"`
	Difficulty   string         `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
	Language     string         `json:"language" yaml:"language"`
	Signature    string         `json:"signature,omitempty" yaml:"signature,omitempty"`
	Constraints  map[string]any `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Tags         []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Attempts     []string       `json:"attempts" yaml:"attempts"`
}

// Validate reports the first problem that would make the spec unrunnable.
func (s *Spec) Validate() error {
	switch {
	case s.TaskID == "":
		return fmt.Errorf("%w: task_id is required", ErrInvalidSpec)
	case s.FunctionName == "":
		return fmt.Errorf("%w: %s: function_name is required", ErrInvalidSpec, s.TaskID)
	case len(s.Attempts) == 0:
		return fmt.Errorf("%w: %s: at least one attempt is required", ErrInvalidSpec, s.TaskID)
	case s.Language != LangPython && s.Language != LangTypeScript:
		return fmt.Errorf("%w: %s: unsupported language %q", ErrInvalidSpec, s.TaskID, s.Language)
	}
	for i, tc := range s.Testcases {
		if !IsJSONOnly(tc.Inputs) || !IsJSONOnly(tc.Expected) {
			return fmt.Errorf("%w: %s: testcase %d is not JSON-only", ErrInvalidSpec, s.TaskID, i)
		}
	}
	if !IsJSONOnly(s.Constraints) {
		return fmt.Errorf("%w: %s: constraints are not JSON-only", ErrInvalidSpec, s.TaskID)
	}
	return nil
}

// DefaultTargetFile is the conventional candidate path for a task.
func (s *Spec) DefaultTargetFile() string {
	if s.Language == LangTypeScript {
		return filepath.Join("src", "solution.ts")
	}
	return s.TaskID + ".py"
}

// Task builds the executable task with its target file rooted at baseDir.
func (s *Spec) Task(baseDir string) Task {
	target := s.TargetFile
	if target == "" {
		target = s.DefaultTargetFile()
	}
	if !filepath.IsAbs(target) && baseDir != "" {
		target = filepath.Join(baseDir, target)
	}
	return New(s.TaskID, s.Prompt, target, s.Attempts, s.Language)
}

// IsJSONOnly reports whether v consists solely of JSON values: nil, bool,
// finite numbers, strings, slices of JSON values and string-keyed maps of JSON
// values.
func IsJSONOnly(v any) bool {
	switch x := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return !math.IsNaN(float64(x)) && !math.IsInf(float64(x), 0)
	case float64:
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	case []any:
		for _, item := range x {
			if !IsJSONOnly(item) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, item := range x {
			if !IsJSONOnly(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func normalizeLanguage(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", "py", "python":
		return LangPython
	case "ts", "typescript":
		return LangTypeScript
	default:
		return lang
	}
}
