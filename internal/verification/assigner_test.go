package verification

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedAssigned(t *testing.T, store *InMemory, id, verifier string, status Status, created time.Time, verified *time.Time) {
	t.Helper()
	req := VerificationRequest{
		ID:               id,
		IncidentID:       "inc-" + id,
		Type:             TypeNewReport,
		Priority:         PriorityMedium,
		Status:           status,
		Title:            "t",
		AssignedVerifier: verifier,
		RequestedBy:      "citizen",
		CreatedAt:        created,
		VerificationDate: verified,
	}
	if err := store.Create(context.Background(), &req, TimelineEntry{Action: TimelineCreated, Timestamp: created}); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestAssignerNoCandidates(t *testing.T) {
	store := NewInMemory()
	dir := NewStaticDirectory(nil)
	a := NewAssigner(store, dir)

	_, err := a.Pick(context.Background(), RoleVerifier)
	if !errors.Is(err, ErrNoEligibleReviewer) {
		t.Fatalf("expected ErrNoEligibleReviewer, got %v", err)
	}
}

func TestAssignerPicksLeastLoaded(t *testing.T) {
	store := NewInMemory()
	dir := NewStaticDirectory(map[string][]string{
		"v1": {RoleVerifier},
		"v2": {RoleVerifier},
	})
	a := NewAssigner(store, dir)
	now := time.Now().UTC()

	seedAssigned(t, store, "r1", "v1", StatusInReview, now, nil)
	seedAssigned(t, store, "r2", "v1", StatusPending, now, nil)
	seedAssigned(t, store, "r3", "v2", StatusInReview, now, nil)

	picked, err := a.Pick(context.Background(), RoleVerifier)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if picked != "v2" {
		t.Fatalf("picked %s, want v2", picked)
	}
}

func TestAssignerTerminalWorkDoesNotCount(t *testing.T) {
	store := NewInMemory()
	dir := NewStaticDirectory(map[string][]string{
		"v1": {RoleVerifier},
		"v2": {RoleVerifier},
	})
	a := NewAssigner(store, dir)
	now := time.Now().UTC()
	done := now.Add(-time.Hour)

	// v1 has closed plenty but carries nothing active; v2 has one in review.
	seedAssigned(t, store, "r1", "v1", StatusApproved, now.Add(-3*time.Hour), &done)
	seedAssigned(t, store, "r2", "v1", StatusRejected, now.Add(-3*time.Hour), &done)
	seedAssigned(t, store, "r3", "v2", StatusInReview, now, nil)

	picked, err := a.Pick(context.Background(), RoleVerifier)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if picked != "v1" {
		t.Fatalf("picked %s, want v1", picked)
	}
}

func TestAssignerTieBreaksOnTurnaroundThenID(t *testing.T) {
	store := NewInMemory()
	dir := NewStaticDirectory(map[string][]string{
		"fast": {RoleVerifier},
		"slow": {RoleVerifier},
	})
	a := NewAssigner(store, dir)
	now := time.Now().UTC()

	fastDone := now.Add(-time.Hour)
	slowDone := now.Add(-time.Hour)
	// Equal active load; "slow" took 10h per case, "fast" 1h.
	seedAssigned(t, store, "r1", "fast", StatusApproved, fastDone.Add(-time.Hour), &fastDone)
	seedAssigned(t, store, "r2", "slow", StatusApproved, slowDone.Add(-10*time.Hour), &slowDone)

	picked, err := a.Pick(context.Background(), RoleVerifier)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if picked != "fast" {
		t.Fatalf("picked %s, want fast", picked)
	}

	// No history at all: zero average for everyone, lowest id wins.
	empty := NewInMemory()
	dirB := NewStaticDirectory(map[string][]string{
		"b": {RoleVerifier},
		"a": {RoleVerifier},
		"c": {RoleVerifier},
	})
	picked, err = NewAssigner(empty, dirB).Pick(context.Background(), RoleVerifier)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if picked != "a" {
		t.Fatalf("picked %s, want a", picked)
	}
}

func TestAssignerOldTurnaroundOutsideWindowIgnored(t *testing.T) {
	store := NewInMemory()
	dir := NewStaticDirectory(map[string][]string{
		"v1": {RoleVerifier},
		"v2": {RoleVerifier},
	})
	a := NewAssigner(store, dir)
	now := time.Now().UTC()

	// v1 was slow, but that history is 60 days old and falls out of the window.
	oldDone := now.Add(-60 * 24 * time.Hour)
	seedAssigned(t, store, "r1", "v1", StatusApproved, oldDone.Add(-48*time.Hour), &oldDone)
	recentDone := now.Add(-time.Hour)
	seedAssigned(t, store, "r2", "v2", StatusApproved, recentDone.Add(-time.Hour), &recentDone)

	picked, err := a.Pick(context.Background(), RoleVerifier)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	// Both have zero active; v1's average is zero (no history in window),
	// v2's is one hour.
	if picked != "v1" {
		t.Fatalf("picked %s, want v1", picked)
	}
}

func TestAssignerBalancesDistribution(t *testing.T) {
	store := NewInMemory()
	dir := NewStaticDirectory(map[string][]string{
		"v1": {RoleVerifier},
		"v2": {RoleVerifier},
		"v3": {RoleVerifier},
	})
	a := NewAssigner(store, dir)
	now := time.Now().UTC()

	assigned := map[string]int{}
	for i := 0; i < 10; i++ {
		picked, err := a.Pick(context.Background(), RoleVerifier)
		if err != nil {
			t.Fatalf("pick %d: %v", i, err)
		}
		assigned[picked]++
		seedAssigned(t, store, string(rune('a'+i)), picked, StatusInReview, now, nil)
	}

	min, max := 10, 0
	for _, v := range []string{"v1", "v2", "v3"} {
		n := assigned[v]
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	if max-min > 1 {
		t.Fatalf("unbalanced distribution: %v", assigned)
	}
}
