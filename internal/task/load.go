package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// legacyVerifier is the older task shape that nests cases under "verifier".
type legacyVerifier struct {
	FunctionName string `json:"function_name" yaml:"function_name"`
	Cases        []struct {
		Args     []any `json:"args" yaml:"args"`
		Expected any   `json:"expected" yaml:"expected"`
	} `json:"cases" yaml:"cases"`
}

type specFile struct {
	Spec     `yaml:",inline"`
	Verifier *legacyVerifier `json:"verifier,omitempty" yaml:"verifier,omitempty"`
}

func (f specFile) normalize() Spec {
	s := f.Spec
	if f.Verifier != nil {
		if s.FunctionName == "" {
			s.FunctionName = f.Verifier.FunctionName
		}
		if len(s.Testcases) == 0 {
			for _, c := range f.Verifier.Cases {
				s.Testcases = append(s.Testcases, Testcase{Inputs: c.Args, Expected: c.Expected})
			}
		}
	}
	s.Language = normalizeLanguage(s.Language)
	if s.Testcases == nil {
		s.Testcases = []Testcase{}
	}
	return s
}

// LoadSpecs reads one spec or a list of specs from a JSON or YAML file.
// Every returned spec has been validated.
func LoadSpecs(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}

	var files []specFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		files, err = decodeYAML(data)
	default:
		files, err = decodeJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing task file %s: %w", path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s contains no tasks", ErrInvalidSpec, path)
	}

	specs := make([]Spec, 0, len(files))
	for _, f := range files {
		s := f.normalize()
		if err := s.Validate(); err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// LoadSpec reads a file that must contain exactly one spec.
func LoadSpec(path string) (*Spec, error) {
	specs, err := LoadSpecs(path)
	if err != nil {
		return nil, err
	}
	if len(specs) != 1 {
		return nil, fmt.Errorf("%w: %s contains %d tasks, expected 1", ErrInvalidSpec, path, len(specs))
	}
	return &specs[0], nil
}

func decodeJSON(data []byte) ([]specFile, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var many []specFile
		if err := json.Unmarshal(data, &many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one specFile
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []specFile{one}, nil
}

func decodeYAML(data []byte) ([]specFile, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	if root.Kind == yaml.SequenceNode {
		var many []specFile
		if err := root.Decode(&many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one specFile
	if err := root.Decode(&one); err != nil {
		return nil, err
	}
	return []specFile{one}, nil
}
