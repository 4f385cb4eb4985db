package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lucasnoah/repairloop/internal/db"
)

// IndexSink mirrors events into the SQLite index. The JSONL log stays the
// source of truth; the index is rebuildable with Import.
type IndexSink struct {
	DB *db.DB
}

func (s *IndexSink) Log(ctx context.Context, ev *Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := s.DB.InsertEvent(ctx, row(ev, raw)); err != nil {
		return err
	}
	return nil
}

// Import indexes records read from a log. Events already present are
// counted as skipped.
func Import(ctx context.Context, d *db.DB, records []Record) (inserted, skipped int, err error) {
	for _, r := range records {
		ok, err := d.InsertEvent(ctx, row(&r.Event, r.Bytes))
		if err != nil {
			return inserted, skipped, fmt.Errorf("line %d: %w", r.Line, err)
		}
		if ok {
			inserted++
		} else {
			skipped++
		}
	}
	return inserted, skipped, nil
}

func row(ev *Event, raw []byte) db.EventRow {
	return db.EventRow{
		RunID:               ev.RunID,
		AttemptIndex:        ev.AttemptIndex,
		TimestampUTC:        ev.TimestampUTC,
		TaskID:              ev.TaskID,
		Language:            ev.Language,
		TaskHash:            ev.TaskHash,
		ArtifactHash:        ev.ArtifactHash,
		ParentArtifactHash:  ev.ParentArtifactHash,
		VerifierName:        ev.VerifierName,
		VerifierVersion:     ev.VerifierVersion,
		VerifierStageFailed: ev.VerifierStageFailed,
		Passed:              ev.Passed,
		FailureType:         ev.FailureType,
		ErrorSignature:      ev.ErrorSignature,
		PatchApplied:        ev.PatchApplied,
		PatcherID:           ev.PatcherID,
		ProposerUsed:        ev.ProposerUsed,
		ProposerID:          ev.ProposerID,
		ElapsedMs:           ev.ElapsedMs,
		EventJSON:           string(raw),
	}
}
