// Package prompt renders the text sent to hosted code proposers.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars maps template variable names to values.
type Vars map[string]string

// Render expands tmpl. {{name}} is replaced with its value and a missing
// variable is an error. {{#if name}}...{{/if}} keeps its body only when the
// variable is set and non-empty. Values are inserted once and never
// re-expanded.
func Render(tmpl string, vars Vars) (string, error) {
	result, err := processConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		m := varRe.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		if val, ok := vars[m[1]]; ok {
			return val
		}
		missing = append(missing, m[1])
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// processConditionals resolves the innermost block first: the last
// {{#if}} before the first {{/if}}.
func processConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		closeIdx := strings.Index(result, ifCloseStr)
		if closeIdx == -1 {
			break
		}
		prefix := result[:closeIdx]
		openLocs := ifOpenRe.FindAllStringIndex(prefix, -1)
		if openLocs == nil {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}

		open := openLocs[len(openLocs)-1]
		m := ifOpenRe.FindStringSubmatch(prefix[open[0]:open[1]])
		if m == nil {
			return "", fmt.Errorf("failed to parse conditional tag: %s", prefix[open[0]:open[1]])
		}

		var body string
		if val, ok := vars[m[1]]; ok && val != "" {
			body = result[open[1]:closeIdx]
		}
		result = result[:open[0]] + body + result[closeIdx+len(ifCloseStr):]
	}

	if loc := ifOpenRe.FindString(result); loc != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", loc)
	}
	return result, nil
}

// LoadTemplate returns the template called name. A file of that name under
// overrideDir wins over the built-in copy; names that resolve outside
// overrideDir are rejected.
func LoadTemplate(name, overrideDir string) (string, error) {
	if overrideDir != "" {
		path := filepath.Join(overrideDir, name)
		absPath, err := filepath.Abs(path)
		if err == nil {
			absDir, err := filepath.Abs(overrideDir)
			if err == nil && !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) && absPath != absDir {
				return "", fmt.Errorf("template path %q escapes %s", name, overrideDir)
			}
		}
		if data, err := os.ReadFile(path); err == nil {
			return string(data), nil
		}
	}
	if tmpl, ok := builtinTemplates[name]; ok {
		return tmpl, nil
	}
	return "", fmt.Errorf("template %q not found", name)
}
