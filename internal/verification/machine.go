package verification

import (
	"fmt"
	"strings"
	"time"
)

// Action names an operation attempted against a request.
type Action string

const (
	ActionCreate          Action = "create"
	ActionAssign          Action = "assign"
	ActionApprove         Action = "approve"
	ActionReject          Action = "reject"
	ActionRequestMoreInfo Action = "request_more_info"
	ActionReprioritize    Action = "reprioritize"
)

// TransitionInput is everything a transition needs beyond the request itself.
type TransitionInput struct {
	Action   Action
	ActorID  string
	Verifier string   // assign
	Notes    string   // approve, request_more_info; reason for reject
	Priority Priority // reprioritize
	Now      time.Time
}

// Machine validates and applies transitions. It is the only producer of
// StatusUpdate values, so every status write in the system goes through the
// transition table below.
type Machine struct {
	allowedFrom map[Action][]Status
}

// NewMachine builds the fixed transition table.
func NewMachine() *Machine {
	return &Machine{
		allowedFrom: map[Action][]Status{
			ActionAssign:          {StatusPending, StatusRequiresMoreInfo},
			ActionApprove:         {StatusInReview},
			ActionReject:          {StatusInReview},
			ActionRequestMoreInfo: {StatusInReview},
			ActionReprioritize:    {StatusPending, StatusInReview, StatusRequiresMoreInfo},
		},
	}
}

// CanApply reports whether the action is legal from the given status.
func (m *Machine) CanApply(from Status, action Action) bool {
	for _, s := range m.allowedFrom[action] {
		if s == from {
			return true
		}
	}
	return false
}

// Apply validates the transition and returns the status update plus the
// timeline entry that must commit with it. The request is not mutated;
// persistence happens through the store's compare-and-set.
func (m *Machine) Apply(req VerificationRequest, in TransitionInput) (StatusUpdate, TimelineEntry, error) {
	if !m.CanApply(req.Status, in.Action) {
		return StatusUpdate{}, TimelineEntry{}, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, in.Action, req.Status)
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	entry := TimelineEntry{
		RequestID: req.ID,
		ActionBy:  in.ActorID,
		Timestamp: now,
	}
	upd := StatusUpdate{Status: req.Status}

	switch in.Action {
	case ActionAssign:
		if strings.TrimSpace(in.Verifier) == "" {
			return StatusUpdate{}, TimelineEntry{}, fmt.Errorf("%w: verifier is required", ErrValidation)
		}
		upd.Status = StatusInReview
		upd.AssignedVerifier = in.Verifier
		entry.Action = TimelineAssigned
		entry.Notes = "assigned to " + in.Verifier
	case ActionApprove:
		upd.Status = StatusApproved
		upd.VerificationNotes = in.Notes
		upd.IncidentStatus = string(StatusApproved)
		entry.Action = TimelineApproved
		entry.Notes = in.Notes
	case ActionReject:
		if strings.TrimSpace(in.Notes) == "" {
			return StatusUpdate{}, TimelineEntry{}, fmt.Errorf("%w: rejection reason is required", ErrValidation)
		}
		upd.Status = StatusRejected
		upd.RejectionReason = in.Notes
		upd.IncidentStatus = string(StatusRejected)
		entry.Action = TimelineRejected
		entry.Notes = in.Notes
	case ActionRequestMoreInfo:
		upd.Status = StatusRequiresMoreInfo
		upd.VerificationNotes = in.Notes
		entry.Action = TimelineResubmitted
		entry.Notes = in.Notes
	case ActionReprioritize:
		if _, ok := priorityRank[in.Priority]; !ok {
			return StatusUpdate{}, TimelineEntry{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, in.Priority)
		}
		upd.Priority = in.Priority
		entry.Action = TimelinePriorityChanged
		entry.Notes = fmt.Sprintf("priority %s -> %s", req.Priority, in.Priority)
	default:
		return StatusUpdate{}, TimelineEntry{}, fmt.Errorf("%w: unknown action %q", ErrValidation, in.Action)
	}

	// verification_date is set exactly once, on the first transition that
	// leaves in_review, and never cleared afterwards.
	if req.VerificationDate == nil && req.Status == StatusInReview && upd.Status != StatusInReview {
		t := now
		upd.VerificationDate = &t
	}

	return upd, entry, nil
}

// Replay folds a request's timeline into the status it proves. The entries
// must be in timestamp order; the result is deterministic for any request
// mutated only through Apply.
func Replay(entries []TimelineEntry) (Status, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("%w: empty timeline", ErrValidation)
	}
	if entries[0].Action != TimelineCreated {
		return "", fmt.Errorf("%w: timeline does not start with created", ErrValidation)
	}
	status := StatusPending
	for _, e := range entries[1:] {
		switch e.Action {
		case TimelineAssigned:
			status = StatusInReview
		case TimelineApproved:
			status = StatusApproved
		case TimelineRejected:
			status = StatusRejected
		case TimelineResubmitted:
			status = StatusRequiresMoreInfo
		case TimelinePriorityChanged:
			// no status effect
		default:
			return "", fmt.Errorf("%w: unknown timeline action %q", ErrValidation, e.Action)
		}
	}
	return status, nil
}
