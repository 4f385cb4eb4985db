package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink receives every event the agent loop emits.
type Sink interface {
	Log(ctx context.Context, ev *Event) error
}

// Logger appends events to a newline-delimited JSON file. Lines are never
// rewritten.
type Logger struct {
	mu   sync.Mutex
	path string
}

// NewLogger creates the parent directory of path and returns a Logger for
// it. The file itself is created on the first Log.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &Logger{path: path}, nil
}

// Path is the log file.
func (l *Logger) Path() string { return l.path }

// Log appends ev as one line.
func (l *Logger) Log(_ context.Context, ev *Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append audit log: %w", err)
	}
	return f.Close()
}

// Tee fans events out to several sinks in order and stops at the first
// error.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

type tee []Sink

func (t tee) Log(ctx context.Context, ev *Event) error {
	for _, s := range t {
		if err := s.Log(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Record is one line of a log as read back. Raw keeps the undecoded object
// so readers can tell a missing field from a zero one.
type Record struct {
	Line  int
	Event Event
	Raw   map[string]any
	Bytes []byte
}

// HasCode reports whether the line carried a string "code" field.
func (r Record) HasCode() bool {
	_, ok := r.Raw["code"].(string)
	return ok
}

// HasPayload reports whether the line carried an object "task_payload".
func (r Record) HasPayload() bool {
	_, ok := r.Raw["task_payload"].(map[string]any)
	return ok
}

// ErrMalformedLine marks a line that is not a JSON object.
var ErrMalformedLine = errors.New("malformed audit line")

// maxLineBytes bounds a single event line; code and payloads are embedded.
const maxLineBytes = 16 << 20

// ReadFile reads every non-blank line of a log.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := decodeRecord(lineNo, line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return records, nil
}

func decodeRecord(lineNo int, line []byte) (Record, error) {
	rec := Record{Line: lineNo, Bytes: append([]byte(nil), line...)}
	if err := json.Unmarshal(line, &rec.Raw); err != nil {
		return Record{}, fmt.Errorf("%w: line %d: %v", ErrMalformedLine, lineNo, err)
	}
	if err := json.Unmarshal(line, &rec.Event); err != nil {
		return Record{}, fmt.Errorf("%w: line %d: %v", ErrMalformedLine, lineNo, err)
	}
	return rec, nil
}
