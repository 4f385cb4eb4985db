package replay

import (
	"fmt"
	"io"

	"github.com/lucasnoah/repairloop/internal/fileutil"
)

// Print writes the metrics in the line-oriented key=value form.
func Print(w io.Writer, m Metrics) {
	fmt.Fprintf(w, "records=%d\n", m.Records)
	fmt.Fprintf(w, "replay_eligible=%d\n", m.ReplayEligible)
	fmt.Fprintf(w, "replay_match=%d/%d (%.2f%%)\n", m.ReplayMatch, m.ReplayEligible, m.ReplayMatchRate)
	fmt.Fprintf(w, "unreplayable_lossy=%d\n", m.UnreplayableLossy)
	fmt.Fprintf(w, "unreplayable_proposer_missing_code=%d\n", m.UnreplayableProposerMissingCode)
	fmt.Fprintf(w, "timeout_rate=%.2f%%\n", m.TimeoutRate)
	fmt.Fprintf(w, "env_fingerprint_mismatch_count=%d\n", m.EnvFingerprintMismatchCount)
	if m.EnvFingerprintMismatchCount > 0 {
		fmt.Fprintln(w, "warning=env_fingerprint_mismatch_detected")
	}

	if len(m.TopErrorSignature) == 0 {
		fmt.Fprintln(w, "top_error_signature=none")
	} else {
		fmt.Fprintln(w, "top_error_signature:")
		for _, s := range m.TopErrorSignature {
			fmt.Fprintf(w, "  %5d  %s\n", s.Count, s.ErrorSignature)
		}
	}

	if len(m.FlakyKeys) == 0 {
		fmt.Fprintln(w, "flaky_keys=none")
	} else {
		fmt.Fprintln(w, "flaky_keys:")
		for _, k := range m.FlakyKeys {
			fmt.Fprintf(w, "  language=%s task_hash=%s artifact_hash=%s verifier=%s@%s\n", k[0], k[1], k[2], k[3], k[4])
		}
	}

	if len(m.FlakyGroups) == 0 {
		fmt.Fprintln(w, "flaky_groups=none")
	} else {
		fmt.Fprintln(w, "flaky_groups:")
		for _, g := range m.FlakyGroups {
			fmt.Fprintf(w, "  %s | %s | %s | %s\n", g.Language, g.FailureType, g.VerifierStageFailed, g.ErrorSignature)
		}
	}

	if len(m.MismatchSamples) > 0 {
		fmt.Fprintln(w, "mismatch_samples:")
		for _, s := range m.MismatchSamples {
			fmt.Fprintf(w, "  index=%d run_id=%s task_id=%s logged_passed=%t replayed_passed=%t\n",
				s.Index, s.RunID, s.TaskID, s.LoggedPassed, s.ReplayedPassed)
		}
	}
}

// WriteJSON writes the metrics to path, creating parent directories.
func WriteJSON(path string, m Metrics) error {
	return fileutil.WriteJSON(path, m)
}
