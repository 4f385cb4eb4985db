package config

import (
	"fmt"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	proposerKinds = map[string]bool{KindCommand: true, KindAnthropic: true, KindGemini: true}
	budgetStores  = map[string]bool{StoreMemory: true, StoreSQLite: true, StorePostgres: true}
	languages     = map[string]bool{"py": true, "ts": true}
	logLevels     = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	logFormats    = map[string]bool{"json": true, "console": true}
)

// Validate checks a Config for semantic errors and returns all of them
// (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	r := cfg.Repairloop

	if r.AuditLog == "" {
		errs = append(errs, ValidationError{Field: "repairloop.audit_log", Message: "is required"})
	}
	for _, d := range []struct{ field, value string }{
		{"repairloop.verifier.py_timeout", r.Verifier.PyTimeout},
		{"repairloop.verifier.ts_timeout", r.Verifier.TSTimeout},
		{"repairloop.verifier.tsc_timeout", r.Verifier.TSCTimeout},
		{"repairloop.proposer.timeout", r.Proposer.Timeout},
	} {
		validateDuration(d.field, d.value, &errs)
	}
	if r.Verifier.MaxOutputKB < 0 {
		errs = append(errs, ValidationError{Field: "repairloop.verifier.max_output_kb", Message: "must not be negative"})
	}

	p := r.Proposer
	if !proposerKinds[p.Kind] {
		errs = append(errs, ValidationError{
			Field:   "repairloop.proposer.kind",
			Message: fmt.Sprintf("unrecognized proposer kind %q", p.Kind),
		})
	}
	if p.Enabled && p.Kind == KindCommand && p.Command == "" {
		errs = append(errs, ValidationError{
			Field:   "repairloop.proposer.command",
			Message: "is required when the command proposer is enabled",
		})
	}
	for i, lang := range p.AllowedLanguages {
		if !languages[lang] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("repairloop.proposer.allowed_languages[%d]", i),
				Message: fmt.Sprintf("unsupported language %q", lang),
			})
		}
	}
	for _, n := range []struct {
		field string
		value float64
	}{
		{"repairloop.proposer.max_calls_per_task", float64(p.MaxCallsPerTask)},
		{"repairloop.proposer.max_calls_per_day", float64(p.MaxCallsPerDay)},
		{"repairloop.proposer.max_total_seconds_per_day", p.MaxTotalSecondsPerDay},
	} {
		if n.value < 0 {
			errs = append(errs, ValidationError{Field: n.field, Message: "must not be negative"})
		}
	}
	if !budgetStores[p.BudgetStore] {
		errs = append(errs, ValidationError{
			Field:   "repairloop.proposer.budget_store",
			Message: fmt.Sprintf("unrecognized budget store %q", p.BudgetStore),
		})
	}
	if p.BudgetStore == StorePostgres && p.PostgresDSN == "" {
		errs = append(errs, ValidationError{
			Field:   "repairloop.proposer.postgres_dsn",
			Message: "is required for the postgres budget store",
		})
	}
	if p.BudgetStore == StoreSQLite && r.Index.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "repairloop.index.path",
			Message: "is required for the sqlite budget store",
		})
	}

	if !logLevels[r.Logging.Level] {
		errs = append(errs, ValidationError{
			Field:   "repairloop.logging.level",
			Message: fmt.Sprintf("unrecognized level %q", r.Logging.Level),
		})
	}
	if !logFormats[r.Logging.Format] {
		errs = append(errs, ValidationError{
			Field:   "repairloop.logging.format",
			Message: fmt.Sprintf("unrecognized format %q", r.Logging.Format),
		})
	}

	return errs
}

func validateDuration(field, value string, errs *[]ValidationError) {
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)})
		return
	}
	if d <= 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: "must be positive"})
	}
}
