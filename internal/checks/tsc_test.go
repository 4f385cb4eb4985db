package checks

import "testing"

func TestParseTSC(t *testing.T) {
	out := `src/solution.ts(3,10): error TS2322: Type 'string' is not assignable to type 'number'.
Found 2 errors.
src/solution.ts(7,1): error TS2304: Cannot find name 'fs'.
`
	tr := ParseTSC(out)
	if tr.Errors != 2 {
		t.Fatalf("expected 2 errors, got %d", tr.Errors)
	}
	if tr.Findings[0].File != "src/solution.ts" || tr.Findings[0].Line != 3 || tr.Findings[0].Column != 10 {
		t.Errorf("unexpected location %+v", tr.Findings[0])
	}
	if tr.Findings[1].Code != "TS2304" {
		t.Errorf("expected TS2304, got %q", tr.Findings[1].Code)
	}
	if got := tr.Findings[1].Diagnostic(); got != "error TS2304: Cannot find name 'fs'." {
		t.Errorf("unexpected rendered line %q", got)
	}
}

func TestParseTSC_BareDiagnostic(t *testing.T) {
	tr := ParseTSC("error TS1005: ';' expected.")
	if tr.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", tr.Errors)
	}
	if tr.Findings[0].Code != "TS1005" || tr.Findings[0].File != "" {
		t.Errorf("unexpected finding %+v", tr.Findings[0])
	}
}

func TestParseTSC_NoDiagnostics(t *testing.T) {
	if tr := ParseTSC("Version 5.4.5\n"); tr.Errors != 0 || len(tr.Findings) != 0 {
		t.Errorf("expected no findings, got %+v", tr)
	}
}

func TestTruncateHead(t *testing.T) {
	if got := TruncateHead("abcdef", 3); got != "abc ...[truncated]" {
		t.Errorf("unexpected %q", got)
	}
	if got := TruncateHead("abc", 3); got != "abc" {
		t.Errorf("unexpected %q", got)
	}
}
