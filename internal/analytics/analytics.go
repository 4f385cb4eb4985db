// Package analytics aggregates audit events into run statistics, either from
// the SQLite index or directly from a JSONL log.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
)

const maxSignatures = 20

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// Outcome holds event and run level pass counts.
type Outcome struct {
	Events         int     `json:"events"`
	Passed         int     `json:"passed"`
	PassRate       float64 `json:"pass_rate_pct"`
	Runs           int     `json:"runs"`
	SolvedRuns     int     `json:"solved_runs"`
	SolveRate      float64 `json:"solve_rate_pct"`
	PatchedEvents  int     `json:"patched_events"`
	PatchedPassed  int     `json:"patched_passed"`
	ProposedEvents int     `json:"proposed_events"`
	ProposedPassed int     `json:"proposed_passed"`
}

// FailureCount counts failing events per failure type.
type FailureCount struct {
	Language    string `json:"language"`
	FailureType string `json:"failure_type"`
	Count       int    `json:"count"`
}

// SignatureCount counts failing events per normalized signature and stage.
type SignatureCount struct {
	Language       string `json:"language"`
	ErrorSignature string `json:"error_signature"`
	Stage          string `json:"verifier_stage_failed"`
	Count          int    `json:"count"`
}

// PatcherStat is how often an applied patch verified.
type PatcherStat struct {
	PatcherID   string  `json:"patcher_id"`
	Applied     int     `json:"applied"`
	Passed      int     `json:"passed"`
	SuccessRate float64 `json:"success_rate_pct"`
}

// LatencyStat holds verification wall time per language in milliseconds.
type LatencyStat struct {
	Language string  `json:"language"`
	Count    int     `json:"count"`
	Avg      float64 `json:"avg_ms"`
	P50      float64 `json:"p50_ms"`
	P95      float64 `json:"p95_ms"`
}

// Summary is everything `repairloop stats` reports.
type Summary struct {
	Outcome      Outcome          `json:"outcome"`
	FailureTypes []FailureCount   `json:"failure_types"`
	Signatures   []SignatureCount `json:"top_error_signature"`
	Patchers     []PatcherStat    `json:"patchers"`
	Latency      []LatencyStat    `json:"latency"`
}

// QuerySummary runs every query against the index. Events with a timestamp
// before since are ignored; an empty since includes everything.
func QuerySummary(database DB, since string) (Summary, error) {
	var s Summary
	var err error
	if s.Outcome, err = QueryOutcome(database, since); err != nil {
		return Summary{}, err
	}
	if s.FailureTypes, err = QueryFailureTypes(database, since); err != nil {
		return Summary{}, err
	}
	if s.Signatures, err = QuerySignatures(database, since); err != nil {
		return Summary{}, err
	}
	if s.Patchers, err = QueryPatchers(database, since); err != nil {
		return Summary{}, err
	}
	if s.Latency, err = QueryLatency(database, since); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// filtered appends the since condition to a query that already has a WHERE
// clause.
func filtered(query, since string) (string, []interface{}) {
	if since == "" {
		return query, nil
	}
	return query + ` AND timestamp_utc >= ?`, []interface{}{since}
}

// QueryOutcome returns pass counts over events and runs.
func QueryOutcome(database DB, since string) (Outcome, error) {
	query, args := filtered(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN passed = 1 THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT run_id),
			COUNT(DISTINCT CASE WHEN passed = 1 THEN run_id END),
			COALESCE(SUM(CASE WHEN patch_applied = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN patch_applied = 1 AND passed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN proposer_used = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN proposer_used = 1 AND passed = 1 THEN 1 ELSE 0 END), 0)
		FROM audit_events
		WHERE 1 = 1`, since)

	var o Outcome
	err := database.Conn().QueryRow(query, args...).Scan(
		&o.Events, &o.Passed, &o.Runs, &o.SolvedRuns,
		&o.PatchedEvents, &o.PatchedPassed, &o.ProposedEvents, &o.ProposedPassed)
	if err != nil {
		return Outcome{}, fmt.Errorf("query outcome: %w", err)
	}
	o.PassRate = pct(o.Passed, o.Events)
	o.SolveRate = pct(o.SolvedRuns, o.Runs)
	return o, nil
}

// QueryFailureTypes counts failing events by language and failure type.
func QueryFailureTypes(database DB, since string) ([]FailureCount, error) {
	query, args := filtered(`
		SELECT language, COALESCE(failure_type, 'unknown'), COUNT(*)
		FROM audit_events
		WHERE passed = 0`, since)
	query += ` GROUP BY 1, 2`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failure types: %w", err)
	}
	defer rows.Close()

	results := []FailureCount{}
	for rows.Next() {
		var f FailureCount
		if err := rows.Scan(&f.Language, &f.FailureType, &f.Count); err != nil {
			return nil, fmt.Errorf("scan failure type: %w", err)
		}
		results = append(results, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortFailures(results)
	return results, nil
}

// QuerySignatures returns the most frequent failing signatures.
func QuerySignatures(database DB, since string) ([]SignatureCount, error) {
	query, args := filtered(`
		SELECT language, COALESCE(error_signature, 'UNKNOWN'), COALESCE(verifier_stage_failed, ''), COUNT(*)
		FROM audit_events
		WHERE passed = 0`, since)
	query += ` GROUP BY 1, 2, 3`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query signatures: %w", err)
	}
	defer rows.Close()

	results := []SignatureCount{}
	for rows.Next() {
		var s SignatureCount
		if err := rows.Scan(&s.Language, &s.ErrorSignature, &s.Stage, &s.Count); err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topSignatures(results), nil
}

// QueryPatchers returns how often each patcher's applied patch verified.
func QueryPatchers(database DB, since string) ([]PatcherStat, error) {
	query, args := filtered(`
		SELECT patcher_id, COUNT(*), COALESCE(SUM(CASE WHEN passed = 1 THEN 1 ELSE 0 END), 0)
		FROM audit_events
		WHERE patch_applied = 1 AND patcher_id IS NOT NULL`, since)
	query += ` GROUP BY patcher_id`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query patchers: %w", err)
	}
	defer rows.Close()

	results := []PatcherStat{}
	for rows.Next() {
		var p PatcherStat
		if err := rows.Scan(&p.PatcherID, &p.Applied, &p.Passed); err != nil {
			return nil, fmt.Errorf("scan patcher: %w", err)
		}
		p.SuccessRate = pct(p.Passed, p.Applied)
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortPatchers(results)
	return results, nil
}

// QueryLatency returns verification wall time percentiles per language.
func QueryLatency(database DB, since string) ([]LatencyStat, error) {
	query, args := filtered(`SELECT language, elapsed_ms FROM audit_events WHERE 1 = 1`, since)
	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query latency: %w", err)
	}
	defer rows.Close()

	byLanguage := make(map[string][]float64)
	for rows.Next() {
		var lang string
		var ms int64
		if err := rows.Scan(&lang, &ms); err != nil {
			return nil, fmt.Errorf("scan latency: %w", err)
		}
		byLanguage[lang] = append(byLanguage[lang], float64(ms))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return latencies(byLanguage), nil
}

func latencies(byLanguage map[string][]float64) []LatencyStat {
	results := []LatencyStat{}
	for lang, values := range byLanguage {
		sort.Float64s(values)
		results = append(results, LatencyStat{
			Language: lang,
			Count:    len(values),
			Avg:      avg(values),
			P50:      percentile(values, 50),
			P95:      percentile(values, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Language < results[j].Language
	})
	return results
}

func sortFailures(results []FailureCount) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Language != b.Language {
			return a.Language < b.Language
		}
		return a.FailureType < b.FailureType
	})
}

func topSignatures(results []SignatureCount) []SignatureCount {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Language != b.Language {
			return a.Language < b.Language
		}
		if a.ErrorSignature != b.ErrorSignature {
			return a.ErrorSignature < b.ErrorSignature
		}
		return a.Stage < b.Stage
	})
	if len(results) > maxSignatures {
		results = results[:maxSignatures]
	}
	return results
}

func sortPatchers(results []PatcherStat) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Applied != results[j].Applied {
			return results[i].Applied > results[j].Applied
		}
		return results[i].PatcherID < results[j].PatcherID
	})
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
