package verification

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// turnaroundWindow bounds the history used for the tie-break average.
const turnaroundWindow = 30 * 24 * time.Hour

// Assigner distributes unassigned requests across reviewers. It is a pure
// read-compute step invoked synchronously inside assign; the counts it reads
// are a point-in-time snapshot, which is enough for an approximately
// balanced distribution.
type Assigner struct {
	store  Store
	dir    Directory
	window time.Duration
}

// NewAssigner wires the assigner to its stores.
func NewAssigner(store Store, dir Directory) *Assigner {
	return &Assigner{store: store, dir: dir, window: turnaroundWindow}
}

// Pick selects the reviewer holding the given role with the fewest active
// (pending + in_review) requests. Ties break on lowest average turnaround
// over the trailing window, with missing history counting as zero, then on
// verifier id for determinism.
func (a *Assigner) Pick(ctx context.Context, role string) (string, error) {
	candidates, err := a.dir.ListByRole(ctx, role)
	if err != nil {
		return "", fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) == 0 {
		return "", ErrNoEligibleReviewer
	}
	sort.Strings(candidates)

	var (
		best       string
		bestCounts WorkloadCounts
	)
	for i, id := range candidates {
		counts, err := a.store.CountByVerifier(ctx, id, a.window)
		if err != nil {
			return "", fmt.Errorf("count workload for %s: %w", id, err)
		}
		if i == 0 || less(counts, bestCounts) {
			best = id
			bestCounts = counts
		}
	}
	return best, nil
}

func less(a, b WorkloadCounts) bool {
	if a.Active() != b.Active() {
		return a.Active() < b.Active()
	}
	if a.AvgTurnaround != b.AvgTurnaround {
		return a.AvgTurnaround < b.AvgTurnaround
	}
	return a.VerifierID < b.VerifierID
}
