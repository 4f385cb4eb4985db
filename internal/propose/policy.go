package propose

import (
	"fmt"
	"time"

	"github.com/lucasnoah/repairloop/internal/fileutil"
)

// Policy decides whether a proposer may be called at all.
type Policy struct {
	Enabled                    bool
	AllowedLanguages           []string
	MaxCallsPerTask            int
	MaxCallsPerDay             int
	MaxTotalSecondsPerDay      float64
	OnlyForUncoveredSignatures bool
	UncoveredSource            string
	Timeout                    time.Duration
}

// DefaultPolicy is disabled; every other field holds the stock limits.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:                    false,
		AllowedLanguages:           []string{"ts", "py"},
		MaxCallsPerTask:            1,
		MaxCallsPerDay:             20,
		MaxTotalSecondsPerDay:      30,
		OnlyForUncoveredSignatures: true,
		UncoveredSource:            "configs/uncovered_signatures.json",
		Timeout:                    2 * time.Second,
	}
}

func (p Policy) allows(language string) bool {
	for _, l := range p.AllowedLanguages {
		if l == language {
			return true
		}
	}
	return false
}

type policyFile struct {
	Enabled                    *bool    `json:"enabled"`
	AllowedLanguages           []string `json:"allowed_languages"`
	MaxCallsPerTask            *int     `json:"max_calls_per_task"`
	MaxCallsPerDay             *int     `json:"max_calls_per_day"`
	MaxTotalSecondsPerDay      *float64 `json:"max_total_seconds_per_day"`
	OnlyForUncoveredSignatures *bool    `json:"only_for_uncovered_signatures"`
	UncoveredSource            *string  `json:"uncovered_source"`
	TimeoutSeconds             *float64 `json:"timeout_seconds"`
}

// LoadPolicy reads a JSON policy file. A missing file yields DefaultPolicy;
// absent keys keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	var f policyFile
	found, err := fileutil.ReadOptionalJSON(path, &f)
	if err != nil {
		return p, fmt.Errorf("proposer policy: %w", err)
	}
	if !found {
		return p, nil
	}
	if f.Enabled != nil {
		p.Enabled = *f.Enabled
	}
	if f.AllowedLanguages != nil {
		p.AllowedLanguages = f.AllowedLanguages
	}
	if f.MaxCallsPerTask != nil {
		p.MaxCallsPerTask = *f.MaxCallsPerTask
	}
	if f.MaxCallsPerDay != nil {
		p.MaxCallsPerDay = *f.MaxCallsPerDay
	}
	if f.MaxTotalSecondsPerDay != nil {
		p.MaxTotalSecondsPerDay = *f.MaxTotalSecondsPerDay
	}
	if f.OnlyForUncoveredSignatures != nil {
		p.OnlyForUncoveredSignatures = *f.OnlyForUncoveredSignatures
	}
	if f.UncoveredSource != nil {
		p.UncoveredSource = *f.UncoveredSource
	}
	if f.TimeoutSeconds != nil {
		if *f.TimeoutSeconds <= 0 {
			return p, fmt.Errorf("proposer policy: timeout_seconds must be positive, got %v", *f.TimeoutSeconds)
		}
		p.Timeout = time.Duration(*f.TimeoutSeconds * float64(time.Second))
	}
	return p, nil
}

// AllLanguages keys an uncovered signature that applies to every language.
const AllLanguages = "all"

type signatureKey struct {
	language  string
	signature string
}

// SignatureSet holds the error signatures no patcher is known to fix.
type SignatureSet map[signatureKey]struct{}

// Add marks signature as uncovered for language ("" means all languages).
func (s SignatureSet) Add(language, signature string) {
	if language == "" {
		language = AllLanguages
	}
	s[signatureKey{language, signature}] = struct{}{}
}

// Uncovered reports whether signature is listed for language or for all
// languages. An empty signature is never uncovered.
func (s SignatureSet) Uncovered(language, signature string) bool {
	if signature == "" {
		return false
	}
	if _, ok := s[signatureKey{language, signature}]; ok {
		return true
	}
	_, ok := s[signatureKey{AllLanguages, signature}]
	return ok
}

// LoadUncovered reads {"items":[{"language","error_signature"}]}. A missing
// file or a missing items list is an empty set; items without a signature
// are skipped.
func LoadUncovered(path string) (SignatureSet, error) {
	set := SignatureSet{}
	var f struct {
		Items []struct {
			Language       string `json:"language"`
			ErrorSignature string `json:"error_signature"`
		} `json:"items"`
	}
	if _, err := fileutil.ReadOptionalJSON(path, &f); err != nil {
		return set, fmt.Errorf("uncovered signatures: %w", err)
	}
	for _, item := range f.Items {
		if item.ErrorSignature == "" {
			continue
		}
		set.Add(item.Language, item.ErrorSignature)
	}
	return set, nil
}
