// Package propose gates calls to an external code proposer behind a policy
// and a spend budget, and accounts for every call it admits.
package propose

import (
	"context"
	"regexp"
	"strings"

	"github.com/lucasnoah/repairloop/internal/classify"
	"github.com/lucasnoah/repairloop/internal/hashing"
)

// Bounds on what a proposer may hand back and what is kept for logs.
const (
	MaxProposalBytes = 64 * 1024
	MaxStderrBytes   = 2 * 1024
	summaryLen       = 200
)

// Context is everything a proposer sees about one failing candidate.
type Context struct {
	Language       string
	TaskID         string
	Prompt         string
	Signature      string
	FunctionName   string
	Code           string
	FailureType    string
	ErrorSignature string
	ErrorMessage   string
	StageFailed    string
	TaskPayload    map[string]any
	PayloadIsLossy bool
}

// Map is the JSON form sent to command proposers and hashed for replay
// matching. Empty optional fields are null.
func (c Context) Map() map[string]any {
	payload := c.TaskPayload
	if payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{
		"language":              c.Language,
		"task_id":               c.TaskID,
		"prompt":                c.Prompt,
		"signature":             nullable(c.Signature),
		"function_name":         nullable(c.FunctionName),
		"code":                  c.Code,
		"failure_type":          nullable(c.FailureType),
		"error_signature":       nullable(c.ErrorSignature),
		"error_message":         nullable(c.ErrorMessage),
		"verifier_stage_failed": nullable(c.StageFailed),
		"task_payload":          payload,
		"payload_is_lossy":      c.PayloadIsLossy,
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Result is one proposal.
type Result struct {
	ProposedCode string `json:"proposed_code"`
	ProposerID   string `json:"proposer_id"`
	Summary      string `json:"proposal_summary"`
	ProposalHash string `json:"proposal_hash"`
}

// Proposer produces replacement code for a failing candidate. A nil result
// with a nil error means "nothing to propose". Implementations must honour
// ctx's deadline and must not retry.
type Proposer interface {
	ID() string
	Propose(ctx context.Context, pc Context) (*Result, error)
}

// NewResult builds the result for code proposed by id. The hash binds the
// code to the task it was proposed for.
func NewResult(id, code string, pc Context) *Result {
	return &Result{
		ProposedCode: code,
		ProposerID:   id,
		Summary:      classify.Short(code, summaryLen),
		ProposalHash: hashing.MustStable(map[string]any{
			"proposed_code": code,
			"task_id":       pc.TaskID,
			"prompt_hash":   hashing.Text(pc.Prompt),
		}),
	}
}

var fenceRe = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[^\\n]*\\n(.*?)```")

// ExtractCode pulls source out of a free-text response. The first fenced
// block tagged with language wins, then the first fenced block of any tag,
// then the whole trimmed text. The result is capped at MaxProposalBytes.
func ExtractCode(response, language string) string {
	matches := fenceRe.FindAllStringSubmatch(response, -1)
	code := strings.TrimSpace(response)
	if len(matches) > 0 {
		code = matches[0][2]
		for _, m := range matches {
			if languageTag(m[1]) == language {
				code = m[2]
				break
			}
		}
		code = strings.TrimRight(code, " \t\n") + "\n"
	}
	if strings.TrimSpace(code) == "" {
		return ""
	}
	if len(code) > MaxProposalBytes {
		code = code[:MaxProposalBytes]
	}
	return code
}

func languageTag(tag string) string {
	switch strings.ToLower(tag) {
	case "py", "python", "python3":
		return "py"
	case "ts", "typescript":
		return "ts"
	default:
		return strings.ToLower(tag)
	}
}
