package analytics

import (
	"github.com/lucasnoah/repairloop/internal/audit"
)

// Summarize computes the same Summary as QuerySummary directly from log
// records, without an index.
func Summarize(records []audit.Record, since string) Summary {
	var o Outcome
	runs := map[string]bool{}
	failures := map[FailureCount]int{}
	signatures := map[SignatureCount]int{}
	patchers := map[string]*PatcherStat{}
	byLanguage := map[string][]float64{}

	for _, r := range records {
		ev := r.Event
		if since != "" && ev.TimestampUTC < since {
			continue
		}
		o.Events++
		if _, ok := runs[ev.RunID]; !ok {
			runs[ev.RunID] = false
		}
		byLanguage[ev.Language] = append(byLanguage[ev.Language], float64(ev.ElapsedMs))

		if ev.Passed {
			o.Passed++
			runs[ev.RunID] = true
		} else {
			ft := audit.Deref(ev.FailureType)
			if ft == "" {
				ft = "unknown"
			}
			failures[FailureCount{Language: ev.Language, FailureType: ft}]++
			sig := audit.Deref(ev.ErrorSignature)
			if sig == "" {
				sig = "UNKNOWN"
			}
			signatures[SignatureCount{Language: ev.Language, ErrorSignature: sig, Stage: audit.Deref(ev.VerifierStageFailed)}]++
		}

		if ev.PatchApplied {
			o.PatchedEvents++
			if ev.Passed {
				o.PatchedPassed++
			}
			if id := audit.Deref(ev.PatcherID); id != "" {
				p := patchers[id]
				if p == nil {
					p = &PatcherStat{PatcherID: id}
					patchers[id] = p
				}
				p.Applied++
				if ev.Passed {
					p.Passed++
				}
			}
		}
		if ev.ProposerUsed {
			o.ProposedEvents++
			if ev.Passed {
				o.ProposedPassed++
			}
		}
	}

	o.Runs = len(runs)
	for _, solved := range runs {
		if solved {
			o.SolvedRuns++
		}
	}
	o.PassRate = pct(o.Passed, o.Events)
	o.SolveRate = pct(o.SolvedRuns, o.Runs)

	s := Summary{
		Outcome:      o,
		FailureTypes: []FailureCount{},
		Signatures:   []SignatureCount{},
		Patchers:     []PatcherStat{},
		Latency:      latencies(byLanguage),
	}
	for key, n := range failures {
		key.Count = n
		s.FailureTypes = append(s.FailureTypes, key)
	}
	sortFailures(s.FailureTypes)
	for key, n := range signatures {
		key.Count = n
		s.Signatures = append(s.Signatures, key)
	}
	s.Signatures = topSignatures(s.Signatures)
	for _, p := range patchers {
		p.SuccessRate = pct(p.Passed, p.Applied)
		s.Patchers = append(s.Patchers, *p)
	}
	sortPatchers(s.Patchers)
	return s
}
