package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// EventRow is the indexed projection of one audit event. EventJSON keeps
// the full record.
type EventRow struct {
	ID                  int
	RunID               string
	AttemptIndex        int
	TimestampUTC        string
	TaskID              string
	Language            string
	TaskHash            string
	ArtifactHash        string
	ParentArtifactHash  *string
	VerifierName        string
	VerifierVersion     string
	VerifierStageFailed *string
	Passed              bool
	FailureType         *string
	ErrorSignature      *string
	PatchApplied        bool
	PatcherID           *string
	ProposerUsed        bool
	ProposerID          *string
	ElapsedMs           int64
	EventJSON           string
}

// InsertEvent indexes one event. It reports false when the same event
// (run, attempt, artifact, timestamp) was already present.
func (d *DB) InsertEvent(ctx context.Context, e EventRow) (bool, error) {
	res, err := d.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO audit_events (
			run_id, attempt_index, timestamp_utc, task_id, language, task_hash,
			artifact_hash, parent_artifact_hash, verifier_name, verifier_version,
			verifier_stage_failed, passed, failure_type, error_signature,
			patch_applied, patcher_id, proposer_used, proposer_id, elapsed_ms, event_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.AttemptIndex, e.TimestampUTC, e.TaskID, e.Language, e.TaskHash,
		e.ArtifactHash, e.ParentArtifactHash, e.VerifierName, e.VerifierVersion,
		e.VerifierStageFailed, e.Passed, e.FailureType, e.ErrorSignature,
		e.PatchApplied, e.PatcherID, e.ProposerUsed, e.ProposerID, e.ElapsedMs, e.EventJSON,
	)
	if err != nil {
		return false, fmt.Errorf("insert audit event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert audit event: %w", err)
	}
	return n > 0, nil
}

// EventFilter narrows ListEvents. Zero fields match everything.
type EventFilter struct {
	RunID    string
	TaskID   string
	Language string
	Failed   bool
	Limit    int
}

// ListEvents returns indexed events in insertion order.
func (d *DB) ListEvents(ctx context.Context, f EventFilter) ([]EventRow, error) {
	var where []string
	var args []any
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if f.Language != "" {
		where = append(where, "language = ?")
		args = append(args, f.Language)
	}
	if f.Failed {
		where = append(where, "passed = 0")
	}

	query := `SELECT id, run_id, attempt_index, timestamp_utc, task_id, language, task_hash,
		artifact_hash, parent_artifact_hash, verifier_name, verifier_version,
		verifier_stage_failed, passed, failure_type, error_signature,
		patch_applied, patcher_id, proposer_used, proposer_id, elapsed_ms, event_json
		FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		var parent, stage, failureType, signature, patcherID, proposerID sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.AttemptIndex, &e.TimestampUTC, &e.TaskID, &e.Language, &e.TaskHash,
			&e.ArtifactHash, &parent, &e.VerifierName, &e.VerifierVersion,
			&stage, &e.Passed, &failureType, &signature,
			&e.PatchApplied, &patcherID, &e.ProposerUsed, &proposerID, &e.ElapsedMs, &e.EventJSON); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.ParentArtifactHash = nullable(parent)
		e.VerifierStageFailed = nullable(stage)
		e.FailureType = nullable(failureType)
		e.ErrorSignature = nullable(signature)
		e.PatcherID = nullable(patcherID)
		e.ProposerID = nullable(proposerID)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEvents returns the number of indexed events.
func (d *DB) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := d.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return n, nil
}

// BudgetUsage returns the proposer spend recorded for day, in total and for
// one task.
func (d *DB) BudgetUsage(ctx context.Context, day, taskID string) (callsDay int, secondsDay float64, callsTask int, err error) {
	err = d.conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(calls), 0), COALESCE(SUM(seconds), 0),
			COALESCE(SUM(CASE WHEN task_id = ? THEN calls ELSE 0 END), 0)
		 FROM proposer_budget WHERE day = ?`,
		taskID, day,
	).Scan(&callsDay, &secondsDay, &callsTask)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("read proposer budget: %w", err)
	}
	return callsDay, secondsDay, callsTask, nil
}

// RecordBudget adds one proposer call of the given duration to the ledger.
func (d *DB) RecordBudget(ctx context.Context, day, taskID string, seconds float64) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO proposer_budget (day, task_id, calls, seconds) VALUES (?, ?, 1, ?)
		 ON CONFLICT(day, task_id) DO UPDATE SET calls = calls + 1, seconds = seconds + excluded.seconds`,
		day, taskID, seconds,
	)
	if err != nil {
		return fmt.Errorf("record proposer budget: %w", err)
	}
	return nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
