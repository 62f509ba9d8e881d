package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"roadwatch.org/internal/ids"
)

// Service is the façade every caller goes through. All mutations are
// explicit about their actor; the core never reads an ambient user from
// context.
type Service struct {
	store     Store
	timeline  Timeline
	dir       Directory
	incidents Incidents
	machine   *Machine
	assigner  *Assigner
	now       func() time.Time
}

// NewService wires the workflow core.
func NewService(store Store, timeline Timeline, dir Directory, incidents Incidents) *Service {
	return &Service{
		store:     store,
		timeline:  timeline,
		dir:       dir,
		incidents: incidents,
		machine:   NewMachine(),
		assigner:  NewAssigner(store, dir),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput carries the fields of a new verification request.
type CreateInput struct {
	IncidentID  string
	Type        string
	Priority    string
	Title       string
	Description string
	RequestedBy string
}

// CreateRequest validates the input, resolves the incident and opens a new
// request in pending with a "created" timeline entry.
func (s *Service) CreateRequest(ctx context.Context, in CreateInput) (VerificationRequest, error) {
	if err := requireFields(map[string]string{
		"incident_id":  in.IncidentID,
		"title":        in.Title,
		"description":  in.Description,
		"requested_by": in.RequestedBy,
	}); err != nil {
		return VerificationRequest{}, err
	}
	reqType, err := ParseRequestType(in.Type)
	if err != nil {
		return VerificationRequest{}, err
	}
	priority, err := ParsePriority(in.Priority)
	if err != nil {
		return VerificationRequest{}, err
	}
	ok, err := s.incidents.Exists(ctx, in.IncidentID)
	if err != nil {
		return VerificationRequest{}, s.storage(err)
	}
	if !ok {
		return VerificationRequest{}, fmt.Errorf("%w: incident %s does not resolve", ErrValidation, in.IncidentID)
	}

	now := s.now()
	req := VerificationRequest{
		ID:          ids.New(),
		IncidentID:  in.IncidentID,
		Type:        reqType,
		Priority:    priority,
		Status:      StatusPending,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		RequestedBy: in.RequestedBy,
		CreatedAt:   now,
	}
	entry := TimelineEntry{
		RequestID: req.ID,
		Action:    TimelineCreated,
		ActionBy:  in.RequestedBy,
		Timestamp: now,
	}
	if err := s.store.Create(ctx, &req, entry); err != nil {
		return VerificationRequest{}, s.storage(err)
	}
	return req, nil
}

// Assign moves a request into review. With an empty verifierID the workload
// assigner picks the reviewer; otherwise the named reviewer must hold the
// verifier role. On ErrNoEligibleReviewer the request stays pending.
func (s *Service) Assign(ctx context.Context, requestID, verifierID, assignedBy string) (VerificationRequest, error) {
	if err := requireFields(map[string]string{"request_id": requestID, "assigned_by": assignedBy}); err != nil {
		return VerificationRequest{}, err
	}
	if err := s.requireRole(ctx, assignedBy, RoleVerifier, RoleSupervisor); err != nil {
		return VerificationRequest{}, err
	}
	if verifierID == "" {
		picked, err := s.assigner.Pick(ctx, RoleVerifier)
		if err != nil {
			return VerificationRequest{}, s.storage(err)
		}
		verifierID = picked
	} else {
		roles, err := s.dir.RolesOf(ctx, verifierID)
		if err != nil {
			return VerificationRequest{}, s.storage(err)
		}
		if !containsRole(roles, RoleVerifier) {
			return VerificationRequest{}, fmt.Errorf("%w: %s does not hold the %s role", ErrNoEligibleReviewer, verifierID, RoleVerifier)
		}
	}
	return s.transition(ctx, requestID, TransitionInput{
		Action:   ActionAssign,
		ActorID:  assignedBy,
		Verifier: verifierID,
	})
}

// Approve closes a request as approved and moves the linked incident with it.
func (s *Service) Approve(ctx context.Context, requestID, approvedBy, notes string) (VerificationRequest, error) {
	if err := requireFields(map[string]string{"request_id": requestID, "actor_id": approvedBy}); err != nil {
		return VerificationRequest{}, err
	}
	if err := s.requireRole(ctx, approvedBy, RoleVerifier, RoleSupervisor); err != nil {
		return VerificationRequest{}, err
	}
	return s.transition(ctx, requestID, TransitionInput{
		Action:  ActionApprove,
		ActorID: approvedBy,
		Notes:   notes,
	})
}

// Reject closes a request as rejected; the reason is mandatory.
func (s *Service) Reject(ctx context.Context, requestID, rejectedBy, reason string) (VerificationRequest, error) {
	if err := requireFields(map[string]string{"request_id": requestID, "actor_id": rejectedBy}); err != nil {
		return VerificationRequest{}, err
	}
	if err := s.requireRole(ctx, rejectedBy, RoleVerifier, RoleSupervisor); err != nil {
		return VerificationRequest{}, err
	}
	return s.transition(ctx, requestID, TransitionInput{
		Action:  ActionReject,
		ActorID: rejectedBy,
		Notes:   reason,
	})
}

// RequestMoreInfo sends an in-review request back to its submitter.
func (s *Service) RequestMoreInfo(ctx context.Context, requestID, requestedBy, notes string) (VerificationRequest, error) {
	if err := requireFields(map[string]string{"request_id": requestID, "actor_id": requestedBy}); err != nil {
		return VerificationRequest{}, err
	}
	if err := s.requireRole(ctx, requestedBy, RoleVerifier, RoleSupervisor); err != nil {
		return VerificationRequest{}, err
	}
	return s.transition(ctx, requestID, TransitionInput{
		Action:  ActionRequestMoreInfo,
		ActorID: requestedBy,
		Notes:   notes,
	})
}

// Reprioritize changes the priority of a non-terminal request. The status is
// untouched but the change is still audited with a timeline entry.
func (s *Service) Reprioritize(ctx context.Context, requestID, newPriority, updatedBy string) (VerificationRequest, error) {
	if err := requireFields(map[string]string{"request_id": requestID, "actor_id": updatedBy}); err != nil {
		return VerificationRequest{}, err
	}
	priority, err := ParsePriority(newPriority)
	if err != nil {
		return VerificationRequest{}, err
	}
	return s.transition(ctx, requestID, TransitionInput{
		Action:   ActionReprioritize,
		ActorID:  updatedBy,
		Priority: priority,
	})
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, requestID string) (VerificationRequest, error) {
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return VerificationRequest{}, s.storage(err)
	}
	return req, nil
}

// List returns matching requests ordered by priority descending then
// created_at ascending, plus the unpaginated total.
func (s *Service) List(ctx context.Context, f Filter, p Page) ([]VerificationRequest, int, error) {
	items, total, err := s.store.List(ctx, f, p.Normalize())
	if err != nil {
		return nil, 0, s.storage(err)
	}
	return items, total, nil
}

// ListPending lists the open queue: oldest of the highest priority first.
func (s *Service) ListPending(ctx context.Context, p Page) ([]VerificationRequest, int, error) {
	status := StatusPending
	return s.List(ctx, Filter{Status: &status}, p)
}

// TimelineFor returns the full provenance of a request, oldest first.
func (s *Service) TimelineFor(ctx context.Context, requestID string) ([]TimelineEntry, error) {
	if _, err := s.store.Get(ctx, requestID); err != nil {
		return nil, s.storage(err)
	}
	entries, err := s.timeline.ListFor(ctx, requestID)
	if err != nil {
		return nil, s.storage(err)
	}
	return entries, nil
}

// VerifierWorkload is the per-reviewer caseload exposed to dashboards.
type VerifierWorkload struct {
	VerifierID         string  `json:"verifier_id"`
	TotalRequests      int     `json:"total_requests"`
	Pending            int     `json:"pending"`
	InReview           int     `json:"in_review"`
	Approved           int     `json:"approved"`
	Rejected           int     `json:"rejected"`
	AvgTurnaroundHours float64 `json:"avg_turnaround_hours"`
	EfficiencyScore    float64 `json:"efficiency_score"`
}

// Workload returns caseload and efficiency per reviewer with assignments.
func (s *Service) Workload(ctx context.Context) ([]VerifierWorkload, error) {
	counts, err := s.store.Workloads(ctx, turnaroundWindow)
	if err != nil {
		return nil, s.storage(err)
	}
	out := make([]VerifierWorkload, 0, len(counts))
	for _, c := range counts {
		out = append(out, VerifierWorkload{
			VerifierID:         c.VerifierID,
			TotalRequests:      c.Total,
			Pending:            c.Pending,
			InReview:           c.InReview,
			Approved:           c.Approved,
			Rejected:           c.Rejected,
			AvgTurnaroundHours: c.AvgTurnaround.Hours(),
			EfficiencyScore:    efficiencyScore(c),
		})
	}
	return out, nil
}

// efficiencyScore blends approval rate with same-day turnaround, 0-100.
func efficiencyScore(c WorkloadCounts) float64 {
	if c.Total == 0 {
		return 0
	}
	approvalRate := float64(c.Approved) / float64(c.Total)
	speed := 1 - c.AvgTurnaround.Hours()/24
	if speed < 0 {
		speed = 0
	}
	return 100 * (0.5*approvalRate + 0.5*speed)
}

// transition reads the request, lets the machine validate and build the
// effect, and commits it through the store's compare-and-set. A concurrent
// writer surfaces as ErrConflict; the caller may re-read and retry once.
func (s *Service) transition(ctx context.Context, requestID string, in TransitionInput) (VerificationRequest, error) {
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		return VerificationRequest{}, s.storage(err)
	}
	in.Now = s.now()
	upd, entry, err := s.machine.Apply(req, in)
	if err != nil {
		return VerificationRequest{}, err
	}
	updated, err := s.store.UpdateStatus(ctx, requestID, req.Status, upd, entry)
	if err != nil {
		return VerificationRequest{}, s.storage(err)
	}
	return updated, nil
}

// requireRole resolves the actor and checks it holds at least one of the
// given roles. Authorization data is owned by the identity collaborator;
// this is only the presence check the service must not skip.
func (s *Service) requireRole(ctx context.Context, actorID string, roles ...string) error {
	actual, err := s.dir.RolesOf(ctx, actorID)
	if err != nil {
		return s.storage(err)
	}
	for _, want := range roles {
		if containsRole(actual, want) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s requires one of %s", ErrForbidden, actorID, strings.Join(roles, "|"))
}

// storage normalizes infrastructure failures to ErrStorageUnavailable while
// letting domain sentinels pass through untouched.
func (s *Service) storage(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrNoEligibleReviewer),
		errors.Is(err, ErrForbidden):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
}

func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, name)
		}
	}
	return nil
}

func containsRole(roles []string, want string) bool {
	for _, r := range roles {
		if strings.EqualFold(r, want) {
			return true
		}
	}
	return false
}
