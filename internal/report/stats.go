// Package report accumulates per-run outcomes and delivers the run summary
// to a webhook channel.
package report

import (
	"fmt"
	"strings"
)

// UserResult is one user's contribution to a run.
type UserResult struct {
	DisplayName string
	Inserted    int
}

// RunStats accumulates outcomes for a single run. It is a per-run value,
// not process-wide state; the run driver is its only writer. Discard it
// once the notification is sent.
type RunStats struct {
	runID     string
	results   []UserResult
	processed int
	total     int
}

// NewRunStats creates an empty accumulator tagged with the run id.
func NewRunStats(runID string) *RunStats {
	return &RunStats{runID: runID}
}

// Record adds one user's outcome. Zero-insert users count toward the
// processed total but are left out of the rendered summary.
func (s *RunStats) Record(displayName string, inserted int) {
	s.processed++
	s.total += inserted
	if inserted > 0 {
		s.results = append(s.results, UserResult{DisplayName: displayName, Inserted: inserted})
	}
}

// RunID returns the run identifier.
func (s *RunStats) RunID() string {
	return s.runID
}

// Processed returns how many users completed the pipeline this run.
func (s *RunStats) Processed() int {
	return s.processed
}

// TotalInserted returns the number of new history rows across all users.
func (s *RunStats) TotalInserted() int {
	return s.total
}

// Summary renders the notification message: a headline plus one line per
// user with at least one new play. Pure given the accumulated state.
func (s *RunStats) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sync run %s: %d users processed, %d new plays", s.runID, s.processed, s.total)
	for _, r := range s.results {
		fmt.Fprintf(&b, "\n- %s: %d", r.DisplayName, r.Inserted)
	}
	return b.String()
}
