// Package audit is the append-only event log every verification writes to,
// and the readers and validators that consume it.
package audit

import (
	"github.com/lucasnoah/repairloop/internal/envfp"
)

// SchemaVersion changes whenever an event field is added, removed or
// renamed.
const SchemaVersion = "2.5.0"

// BudgetSpent is the proposer spend observed when a call was admitted.
type BudgetSpent struct {
	CallsDay   int     `json:"calls_day"`
	SecondsDay float64 `json:"seconds_day"`
	CallsTask  int     `json:"calls_task"`
}

// Event is one verification of one candidate. Nullable fields are pointers
// so they serialize as JSON null.
type Event struct {
	SchemaVersion       string            `json:"schema_version"`
	RunID               string            `json:"run_id"`
	TimestampUTC        string            `json:"timestamp_utc"`
	AttemptIndex        int               `json:"attempt_index"`
	TaskID              string            `json:"task_id"`
	Language            string            `json:"language"`
	TaskPrompt          string            `json:"task_prompt"`
	TaskHash            string            `json:"task_hash"`
	TaskPayload         map[string]any    `json:"task_payload"`
	PayloadIsLossy      bool              `json:"payload_is_lossy"`
	EnvFingerprint      envfp.Fingerprint `json:"env_fingerprint"`
	VerifierName        string            `json:"verifier_name"`
	VerifierVersion     string            `json:"verifier_version"`
	VerifierConfig      map[string]any    `json:"verifier_config"`
	VerifierStageFailed *string           `json:"verifier_stage_failed"`
	ArtifactHash        string            `json:"artifact_hash"`
	ParentArtifactHash  *string           `json:"parent_artifact_hash"`
	TargetFile          string            `json:"target_file"`
	Code                string            `json:"code"`
	Passed              bool              `json:"passed"`
	FailureType         *string           `json:"failure_type"`
	ErrorSignature      *string           `json:"error_signature"`
	ErrorType           *string           `json:"error_type"`
	ErrorMessage        *string           `json:"error_message"`
	Error               *string           `json:"error"`
	PatcherAttempted    bool              `json:"patcher_attempted"`
	PatcherID           *string           `json:"patcher_id"`
	PatchApplied        bool              `json:"patch_applied"`
	PatchSummary        *string           `json:"patch_summary"`
	ChangedLinesCount   int               `json:"changed_lines_count"`
	ChangedLineNumbers  []int             `json:"changed_line_numbers"`
	DeltaSummary        *string           `json:"delta_summary"`
	ProposerUsed        bool              `json:"proposer_used"`
	ProposerID          *string           `json:"proposer_id"`
	ProposalHash        *string           `json:"proposal_hash"`
	ProposerLatencyMs   *int64            `json:"proposer_latency_ms"`
	ProposerBudgetSpent *BudgetSpent      `json:"proposer_budget_spent"`
	ProposerInputHash   *string           `json:"proposer_input_hash"`
	ElapsedMs           int64             `json:"elapsed_ms"`
}

// Str returns nil for the empty string and a pointer to s otherwise.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
