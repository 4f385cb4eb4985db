package audit

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/audit_event.schema.json
var eventSchemaJSON []byte

const eventSchemaURL = "https://repairloop.dev/schemas/audit_event.schema.json"

var (
	eventSchemaOnce sync.Once
	eventSchema     *jsonschema.Schema
	eventSchemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	eventSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(eventSchemaURL, bytes.NewReader(eventSchemaJSON)); err != nil {
			eventSchemaErr = fmt.Errorf("add event schema: %w", err)
			return
		}
		eventSchema, eventSchemaErr = compiler.Compile(eventSchemaURL)
		if eventSchemaErr != nil {
			eventSchemaErr = fmt.Errorf("compile event schema: %w", eventSchemaErr)
		}
	})
	return eventSchema, eventSchemaErr
}

// ValidateBytes checks one encoded event against the event schema.
func ValidateBytes(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("validate event: %w", err)
	}
	return nil
}

// Validate checks an in-memory event against the event schema.
func Validate(ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return ValidateBytes(data)
}

// Problem is a schema violation found on one log line.
type Problem struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
}

// ValidateRecords validates every record and returns the lines that fail.
func ValidateRecords(records []Record) ([]Problem, error) {
	if _, err := compiledSchema(); err != nil {
		return nil, err
	}
	var problems []Problem
	for _, r := range records {
		if err := ValidateBytes(r.Bytes); err != nil {
			problems = append(problems, Problem{Line: r.Line, Err: err.Error()})
		}
	}
	return problems, nil
}
