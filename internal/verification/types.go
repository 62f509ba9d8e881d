package verification

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the closed set of lifecycle states for a verification request.
// Any other value is rejected at the boundary.
type Status string

const (
	StatusPending          Status = "pending"
	StatusInReview         Status = "in_review"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
	StatusRequiresMoreInfo Status = "requires_more_info"
)

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(strings.ToLower(raw)))
	switch s {
	case StatusPending, StatusInReview, StatusApproved, StatusRejected, StatusRequiresMoreInfo:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
}

// Terminal reports whether no further transition is defined for the status.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Priority is an ordered enum: low < medium < high < critical.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityLow:      1,
	PriorityMedium:   2,
	PriorityHigh:     3,
	PriorityCritical: 4,
}

// ParsePriority validates a raw priority value.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := priorityRank[p]; !ok {
		return "", fmt.Errorf("%w: unknown priority %q", ErrValidation, raw)
	}
	return p, nil
}

// Rank returns the ordering weight of the priority (higher sorts first).
func (p Priority) Rank() int { return priorityRank[p] }

// RequestType classifies why a verification request was opened.
type RequestType string

const (
	TypeNewReport    RequestType = "new_report"
	TypeResubmission RequestType = "resubmission"
	TypeEscalation   RequestType = "escalation"
)

// ParseRequestType validates a raw request type value.
func ParseRequestType(raw string) (RequestType, error) {
	t := RequestType(strings.TrimSpace(strings.ToLower(raw)))
	switch t {
	case TypeNewReport, TypeResubmission, TypeEscalation:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown request type %q", ErrValidation, raw)
}

// Staff roles recognised by the service.
const (
	RoleVerifier   = "verifier"
	RoleSupervisor = "supervisor"
)

// VerificationRequest is a request to verify one reported road incident.
// Status is mutated exclusively through Machine transitions.
type VerificationRequest struct {
	ID                string      `json:"request_id"`
	IncidentID        string      `json:"incident_id"`
	Type              RequestType `json:"request_type"`
	Priority          Priority    `json:"priority_level"`
	Status            Status      `json:"status"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	AssignedVerifier  string      `json:"assigned_verifier,omitempty"`
	RequestedBy       string      `json:"requested_by"`
	CreatedAt         time.Time   `json:"created_at"`
	VerificationDate  *time.Time  `json:"verification_date,omitempty"`
	VerificationNotes string      `json:"verification_notes,omitempty"`
	RejectionReason   string      `json:"rejection_reason,omitempty"`
}

// TimelineAction is the action vocabulary of the audit ledger.
type TimelineAction string

const (
	TimelineCreated         TimelineAction = "created"
	TimelineAssigned        TimelineAction = "assigned"
	TimelineApproved        TimelineAction = "approved"
	TimelineRejected        TimelineAction = "rejected"
	TimelineResubmitted     TimelineAction = "resubmitted"
	TimelinePriorityChanged TimelineAction = "priority_changed"
)

// TimelineEntry is one immutable provenance record owned by a single request.
type TimelineEntry struct {
	ID        string         `json:"timeline_id"`
	RequestID string         `json:"request_id"`
	Action    TimelineAction `json:"action_type"`
	ActionBy  string         `json:"action_by"`
	Notes     string         `json:"action_notes,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StatusUpdate carries the full effect of one transition. Empty string
// fields leave the stored value untouched; VerificationDate is only ever
// set when the stored value is still null (set-once semantics).
type StatusUpdate struct {
	Status            Status
	AssignedVerifier  string
	Priority          Priority
	VerificationDate  *time.Time
	VerificationNotes string
	RejectionReason   string
	// IncidentStatus, when non-empty, moves the linked incident in the
	// same storage transaction as the request row and the timeline append.
	IncidentStatus string
}

// Filter narrows list queries. Nil fields match everything; implementations
// build parameterized queries from it, never concatenated SQL.
type Filter struct {
	Status     *Status
	Priority   *Priority
	Type       *RequestType
	AssignedTo *string
}

// Page bounds list queries.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// WorkloadCounts is the per-reviewer caseload view derived from assigned
// requests. AvgTurnaround covers terminal requests inside the queried window.
type WorkloadCounts struct {
	VerifierID    string
	Total         int
	Pending       int
	InReview      int
	Approved      int
	Rejected      int
	AvgTurnaround time.Duration
}

// Active is the caseload that counts toward assignment balance.
func (w WorkloadCounts) Active() int { return w.Pending + w.InReview }

// Error taxonomy. The service layer adds no failure modes beyond these.
var (
	ErrNotFound           = errors.New("request not found")
	ErrValidation         = errors.New("invalid input")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrConflict           = errors.New("concurrent transition conflict")
	ErrNoEligibleReviewer = errors.New("no eligible reviewer")
	ErrForbidden          = errors.New("forbidden")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
