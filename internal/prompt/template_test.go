package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    string
		vars    Vars
		want    string
		wantErr string
	}{
		{
			name: "plain variables",
			tmpl: "fix {{task_id}} in {{language}}",
			vars: Vars{"task_id": "add", "language": "py"},
			want: "fix add in py",
		},
		{
			name:    "missing variables are listed",
			tmpl:    "{{task_id}} {{stage}} {{code}}",
			vars:    Vars{"task_id": "add"},
			wantErr: "stage, code",
		},
		{
			name: "conditional kept when set",
			tmpl: "a{{#if signature}} sig={{signature}}{{/if}}",
			vars: Vars{"signature": "(a, b)"},
			want: "a sig=(a, b)",
		},
		{
			name: "conditional dropped when empty",
			tmpl: "a{{#if signature}} sig={{signature}}{{/if}}",
			vars: Vars{"signature": ""},
			want: "a",
		},
		{
			name: "variables inside a dropped block are not required",
			tmpl: "a{{#if failure_type}} {{error_message}}{{/if}}",
			vars: Vars{},
			want: "a",
		},
		{
			name: "nested conditionals",
			tmpl: "{{#if stage}}[{{stage}}{{#if error_signature}}:{{error_signature}}{{/if}}]{{/if}}",
			vars: Vars{"stage": "syntax"},
			want: "[syntax]",
		},
		{
			name: "values are not re-expanded",
			tmpl: "code: {{code}}",
			vars: Vars{"code": "x = '{{task_id}}'", "task_id": "add"},
			want: "code: x = '{{task_id}}'",
		},
		{
			name:    "unclosed block",
			tmpl:    "{{#if stage}}open",
			vars:    Vars{"stage": "tsc"},
			wantErr: "unclosed conditional",
		},
		{
			name:    "dangling close",
			tmpl:    "text{{/if}}",
			vars:    Vars{},
			wantErr: "dangling",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tmpl, tt.vars)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRender_ProposeTemplate(t *testing.T) {
	tmpl, err := LoadTemplate(ProposeTemplate, "")
	if err != nil {
		t.Fatalf("load builtin: %v", err)
	}
	out, err := Render(tmpl, Vars{
		"task_id":         "add",
		"language":        "py",
		"prompt":          "add two numbers",
		"function_name":   "add",
		"signature":       "",
		"code":            "def add(a, b)\n    return a + b",
		"stage":           "syntax",
		"failure_type":    "syntax_error",
		"error_signature": "SyntaxError:expected ':'",
		"error_message":   "",
		"test_cases":      "",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"# Repair: add (py)", "Entry point: `add`", "Signature: SyntaxError:expected ':'", "```py"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
	for _, absent := range []string{"Required signature", "Message:", "Recorded test cases"} {
		if strings.Contains(out, absent) {
			t.Errorf("expected %q to be omitted, got:\n%s", absent, out)
		}
	}
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ProposeTemplate), []byte("custom {{task_id}}"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadTemplate(ProposeTemplate, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "custom {{task_id}}" {
		t.Errorf("expected override to win, got %q", got)
	}

	got, err = LoadTemplate(ProposeTemplate, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "# Repair:") {
		t.Errorf("expected builtin fallback, got %q", got)
	}

	if _, err := LoadTemplate("nope.md", dir); err == nil {
		t.Error("expected error for unknown template")
	}
	if _, err := LoadTemplate("../outside.md", dir); err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Errorf("expected traversal to be rejected, got %v", err)
	}
}
