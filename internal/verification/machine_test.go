package verification

import (
	"errors"
	"testing"
	"time"
)

func TestMachineTransitionTable(t *testing.T) {
	m := NewMachine()

	cases := []struct {
		from   Status
		action Action
		ok     bool
	}{
		{StatusPending, ActionAssign, true},
		{StatusRequiresMoreInfo, ActionAssign, true},
		{StatusInReview, ActionAssign, false},
		{StatusApproved, ActionAssign, false},
		{StatusRejected, ActionAssign, false},

		{StatusInReview, ActionApprove, true},
		{StatusPending, ActionApprove, false},
		{StatusApproved, ActionApprove, false},

		{StatusInReview, ActionReject, true},
		{StatusRequiresMoreInfo, ActionReject, false},
		{StatusRejected, ActionReject, false},

		{StatusInReview, ActionRequestMoreInfo, true},
		{StatusPending, ActionRequestMoreInfo, false},
		{StatusRequiresMoreInfo, ActionRequestMoreInfo, false},

		{StatusPending, ActionReprioritize, true},
		{StatusInReview, ActionReprioritize, true},
		{StatusRequiresMoreInfo, ActionReprioritize, true},
		{StatusApproved, ActionReprioritize, false},
		{StatusRejected, ActionReprioritize, false},
	}
	for _, tc := range cases {
		if got := m.CanApply(tc.from, tc.action); got != tc.ok {
			t.Errorf("CanApply(%s, %s) = %v, want %v", tc.from, tc.action, got, tc.ok)
		}
	}
}

func TestMachineApplyIllegalTransition(t *testing.T) {
	m := NewMachine()
	req := VerificationRequest{ID: "r1", Status: StatusApproved}

	_, _, err := m.Apply(req, TransitionInput{Action: ActionApprove, ActorID: "v1"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMachineApplyAssign(t *testing.T) {
	m := NewMachine()
	req := VerificationRequest{ID: "r1", Status: StatusPending}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	upd, entry, err := m.Apply(req, TransitionInput{Action: ActionAssign, ActorID: "sup", Verifier: "v1", Now: now})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if upd.Status != StatusInReview {
		t.Errorf("status = %s, want in_review", upd.Status)
	}
	if upd.AssignedVerifier != "v1" {
		t.Errorf("assigned = %q, want v1", upd.AssignedVerifier)
	}
	if upd.VerificationDate != nil {
		t.Error("assign must not set verification date")
	}
	if entry.Action != TimelineAssigned || entry.ActionBy != "sup" || !entry.Timestamp.Equal(now) {
		t.Errorf("unexpected entry %+v", entry)
	}

	if _, _, err := m.Apply(req, TransitionInput{Action: ActionAssign, ActorID: "sup"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("assign without verifier: expected ErrValidation, got %v", err)
	}
}

func TestMachineApplySetsVerificationDateOnce(t *testing.T) {
	m := NewMachine()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	req := VerificationRequest{ID: "r1", Status: StatusInReview}

	// First exit from in_review stamps the date, for any exit path.
	for _, in := range []TransitionInput{
		{Action: ActionApprove, ActorID: "v1", Now: now},
		{Action: ActionReject, ActorID: "v1", Notes: "blurry photo", Now: now},
		{Action: ActionRequestMoreInfo, ActorID: "v1", Now: now},
	} {
		upd, _, err := m.Apply(req, in)
		if err != nil {
			t.Fatalf("%s: %v", in.Action, err)
		}
		if upd.VerificationDate == nil || !upd.VerificationDate.Equal(now) {
			t.Errorf("%s: verification date not stamped", in.Action)
		}
	}

	// Already stamped: leave it alone.
	stamped := now.Add(-time.Hour)
	req.VerificationDate = &stamped
	upd, _, err := m.Apply(req, TransitionInput{Action: ActionApprove, ActorID: "v1", Now: now})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if upd.VerificationDate != nil {
		t.Error("verification date must be set exactly once")
	}

	// Staying in review never stamps.
	fresh := VerificationRequest{ID: "r2", Status: StatusInReview}
	upd, _, err = m.Apply(fresh, TransitionInput{Action: ActionReprioritize, ActorID: "v1", Priority: PriorityHigh, Now: now})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if upd.VerificationDate != nil {
		t.Error("reprioritize must not stamp verification date")
	}
}

func TestMachineApplyRejectRequiresReason(t *testing.T) {
	m := NewMachine()
	req := VerificationRequest{ID: "r1", Status: StatusInReview}

	_, _, err := m.Apply(req, TransitionInput{Action: ActionReject, ActorID: "v1", Notes: "   "})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	upd, entry, err := m.Apply(req, TransitionInput{Action: ActionReject, ActorID: "v1", Notes: "duplicate report"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if upd.RejectionReason != "duplicate report" {
		t.Errorf("reason = %q", upd.RejectionReason)
	}
	if upd.IncidentStatus != string(StatusRejected) {
		t.Errorf("incident status = %q, want rejected", upd.IncidentStatus)
	}
	if entry.Action != TimelineRejected {
		t.Errorf("entry action = %s", entry.Action)
	}
}

func TestMachineApplyApproveSyncsIncident(t *testing.T) {
	m := NewMachine()
	req := VerificationRequest{ID: "r1", Status: StatusInReview}

	upd, _, err := m.Apply(req, TransitionInput{Action: ActionApprove, ActorID: "v1", Notes: "confirmed on site"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if upd.IncidentStatus != string(StatusApproved) {
		t.Errorf("incident status = %q, want approved", upd.IncidentStatus)
	}
	if upd.VerificationNotes != "confirmed on site" {
		t.Errorf("notes = %q", upd.VerificationNotes)
	}
}

func TestMachineApplyReprioritizeKeepsStatus(t *testing.T) {
	m := NewMachine()
	req := VerificationRequest{ID: "r1", Status: StatusPending, Priority: PriorityLow}

	upd, entry, err := m.Apply(req, TransitionInput{Action: ActionReprioritize, ActorID: "sup", Priority: PriorityCritical})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if upd.Status != StatusPending {
		t.Errorf("status changed to %s", upd.Status)
	}
	if upd.Priority != PriorityCritical {
		t.Errorf("priority = %s", upd.Priority)
	}
	if entry.Action != TimelinePriorityChanged {
		t.Errorf("entry action = %s", entry.Action)
	}

	_, _, err = m.Apply(req, TransitionInput{Action: ActionReprioritize, ActorID: "sup", Priority: "urgent"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("bad priority: expected ErrValidation, got %v", err)
	}
}

func TestReplay(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	at := func(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

	entries := []TimelineEntry{
		{Action: TimelineCreated, Timestamp: at(0)},
		{Action: TimelineAssigned, Timestamp: at(1)},
		{Action: TimelineResubmitted, Timestamp: at(2)},
		{Action: TimelineAssigned, Timestamp: at(3)},
		{Action: TimelinePriorityChanged, Timestamp: at(4)},
		{Action: TimelineApproved, Timestamp: at(5)},
	}
	status, err := Replay(entries)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if status != StatusApproved {
		t.Errorf("status = %s, want approved", status)
	}

	if _, err := Replay(nil); !errors.Is(err, ErrValidation) {
		t.Errorf("empty timeline: expected ErrValidation, got %v", err)
	}
	if _, err := Replay([]TimelineEntry{{Action: TimelineAssigned}}); !errors.Is(err, ErrValidation) {
		t.Errorf("missing created: expected ErrValidation, got %v", err)
	}
}
