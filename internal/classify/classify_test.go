package classify

import (
	"strings"
	"testing"
)

func TestClassify_PassedIsZero(t *testing.T) {
	for _, lang := range []string{"py", "ts"} {
		f := Classify(Input{Passed: true, ErrorType: "SyntaxError"}, lang)
		if !f.IsZero() {
			t.Errorf("%s: expected zero failure for passing result, got %+v", lang, f)
		}
	}
}

func TestClassify_PythonPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		in      Input
		want    FailureType
		sigPref string
	}{
		{"syntax", Input{ErrorType: "SyntaxError", ErrorMessage: "expected ':'"}, SyntaxError, "SyntaxError:"},
		{"indentation", Input{ErrorType: "IndentationError", ErrorMessage: "expected an indented block"}, SyntaxError, "IndentationError:"},
		{"module", Input{ErrorType: "ModuleNotFoundError", ErrorMessage: "No module named 'numpy'"}, ImportError, "ModuleNotFoundError:"},
		{"import", Input{ErrorType: "ImportError", ErrorMessage: "cannot import name"}, ImportError, "ImportError:"},
		{"timeout type", Input{ErrorType: "TimeoutError", ErrorMessage: "exceeded 1.000s"}, Timeout, "TimeoutError:"},
		{"timeout message", Input{ErrorType: "RuntimeError", ErrorMessage: "worker timeout"}, Timeout, "RuntimeError:"},
		{"assertion", Input{ErrorType: "AssertionError", ErrorMessage: "case 0 mismatch"}, AssertionFail, "AssertionError:"},
		{"mismatch message", Input{ErrorType: "ValueError", ErrorMessage: "shape mismatch"}, AssertionFail, "ValueError:"},
		{"runtime", Input{ErrorType: "NameError", ErrorMessage: "name 'x' is not defined"}, RuntimeError, "NameError:"},
		{"unknown", Input{Error: "something"}, RuntimeError, "UnknownError:something"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.in, "py")
			if f.Type != tt.want {
				t.Errorf("expected %s, got %s", tt.want, f.Type)
			}
			if !strings.HasPrefix(f.Signature, tt.sigPref) {
				t.Errorf("expected signature prefix %q, got %q", tt.sigPref, f.Signature)
			}
		})
	}
}

func TestClassify_TypeScript(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want FailureType
		sig  string
	}{
		{"timeout stage", Input{Stage: "timeout", ErrorMessage: "runner exceeded 2.000s"}, Timeout, "TimeoutError:runner exceeded 2.000s"},
		{"syntax code", Input{ErrorType: "TS1005", ErrorMessage: "';' expected.", Stage: "tsc"}, TSSyntaxError, "TS1005:';' expected."},
		{"type code", Input{ErrorType: "TS2322", ErrorMessage: "Type 'string' is not assignable to type 'number'.", Stage: "tsc"}, TSTypeError, "TS2322:Type 'string' is not assignable to type 'number'."},
		{"name code", Input{ErrorType: "TS2304", ErrorMessage: "Cannot find name 'fs'.", Stage: "tsc"}, TSNameError, "TS2304:Cannot find name 'fs'."},
		{"other code", Input{ErrorType: "TS2589", ErrorMessage: "Type instantiation is excessively deep.", Stage: "tsc"}, TSCompileError, "TS2589:Type instantiation is excessively deep."},
		{"assertion", Input{ErrorType: "AssertionError", ErrorMessage: "case 0 mismatch: expected=5 actual=6", Stage: "unit_test"}, AssertionFail, "AssertionError:case 0 mismatch: expected=5 actual=6"},
		{"unit runtime", Input{ErrorType: "TypeError", ErrorMessage: "x is not a function", Stage: "unit_test"}, RuntimeError, "TypeError:x is not a function"},
		{"unit untyped", Input{ErrorMessage: "empty runner output", Stage: "unit_test"}, RuntimeError, "RuntimeError:empty runner output"},
		{"build default", Input{ErrorMessage: "emit failed", Stage: "build"}, TSCompileError, "TS0000:emit failed"},
		{"fallback", Input{ErrorMessage: "odd"}, RuntimeError, "RuntimeError:odd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.in, "ts")
			if f.Type != tt.want {
				t.Errorf("expected %s, got %s", tt.want, f.Type)
			}
			if f.Signature != tt.sig {
				t.Errorf("expected signature %q, got %q", tt.sig, f.Signature)
			}
		})
	}
}

func TestSignature_StableAcrossMachines(t *testing.T) {
	a := Signature("SyntaxError", "expected ':' (/home/alice/run-1/solution.py, line 1)")
	b := Signature("SyntaxError", "expected ':'   (/tmp/xyz/work/solution.py, line 1)")
	if a != b {
		t.Errorf("expected equal signatures, got %q and %q", a, b)
	}
	if !strings.Contains(a, "<path>") {
		t.Errorf("expected path placeholder, got %q", a)
	}

	c := Signature("TS2322", `C:\work\proj\src\solution.ts(3,10): Type 'string' is not assignable`)
	d := Signature("TS2322", `D:\other\src\solution.ts(12,1): Type 'string' is not assignable`)
	if c != d {
		t.Errorf("expected equal signatures, got %q and %q", c, d)
	}
}

func TestNormalizeMessage_KeepsRelativeAndOperators(t *testing.T) {
	got := NormalizeMessage("unsupported operand type(s) for /: 'int' and 'str'")
	if got != "unsupported operand type(s) for /: 'int' and 'str'" {
		t.Errorf("operator mangled: %q", got)
	}
	got = NormalizeMessage("src/solution.ts(4,2): oops")
	if got != "src/solution.ts: oops" {
		t.Errorf("unexpected %q", got)
	}
}

func TestShort_Truncates(t *testing.T) {
	long := strings.Repeat("a", 300)
	got := Short(long, MaxSignatureMessage)
	if len(got) != MaxSignatureMessage {
		t.Errorf("expected %d chars, got %d", MaxSignatureMessage, len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis marker, got %q", got[len(got)-5:])
	}
	if Short("a  b\n\tc", 140) != "a b c" {
		t.Errorf("expected whitespace collapsed")
	}
}

func TestClassifyTSC(t *testing.T) {
	d := ClassifyTSC("src/solution.ts(2,3): error TS2552: Cannot find name 'totl'. Did you mean 'total'?")
	if d.Type != TSNameError {
		t.Errorf("expected ts_name_error, got %s", d.Type)
	}
	if d.Code != "TS2552" {
		t.Errorf("expected TS2552, got %s", d.Code)
	}

	d = ClassifyTSC("no diagnostics here")
	if d.Type != TSCompileError || d.Signature != "TS0000:unknown TypeScript compile error" {
		t.Errorf("unexpected fallback %+v", d)
	}
}
