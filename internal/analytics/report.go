package analytics

import (
	"fmt"
	"io"
)

// Print writes a human-readable summary.
func Print(w io.Writer, s Summary) {
	o := s.Outcome
	fmt.Fprintf(w, "events=%d passed=%d (%.1f%%)\n", o.Events, o.Passed, o.PassRate)
	fmt.Fprintf(w, "runs=%d solved=%d (%.1f%%)\n", o.Runs, o.SolvedRuns, o.SolveRate)
	fmt.Fprintf(w, "patched=%d/%d proposed=%d/%d\n", o.PatchedPassed, o.PatchedEvents, o.ProposedPassed, o.ProposedEvents)

	if len(s.FailureTypes) > 0 {
		fmt.Fprintln(w, "\nfailure types:")
		for _, f := range s.FailureTypes {
			fmt.Fprintf(w, "  %5d  %-3s %s\n", f.Count, f.Language, f.FailureType)
		}
	}
	if len(s.Signatures) > 0 {
		fmt.Fprintln(w, "\ntop error signatures:")
		for _, sig := range s.Signatures {
			fmt.Fprintf(w, "  %5d  %-3s %-10s %s\n", sig.Count, sig.Language, sig.Stage, sig.ErrorSignature)
		}
	}
	if len(s.Patchers) > 0 {
		fmt.Fprintln(w, "\npatchers:")
		for _, p := range s.Patchers {
			fmt.Fprintf(w, "  %-28s applied=%d passed=%d (%.1f%%)\n", p.PatcherID, p.Applied, p.Passed, p.SuccessRate)
		}
	}
	if len(s.Latency) > 0 {
		fmt.Fprintln(w, "\nverification latency (ms):")
		for _, l := range s.Latency {
			fmt.Fprintf(w, "  %-3s n=%d avg=%.1f p50=%.1f p95=%.1f\n", l.Language, l.Count, l.Avg, l.P50, l.P95)
		}
	}
}
