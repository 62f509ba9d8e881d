package verification

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"roadwatch.org/internal/ids"
)

// InMemory implements Store, Timeline and Incidents with in-process
// concurrency safety. It backs tests and local development; production runs
// on the Postgres store.
type InMemory struct {
	mu        sync.RWMutex
	requests  map[string]*VerificationRequest
	timeline  map[string][]TimelineEntry // request id -> entries, append order
	incidents map[string]string          // incident id -> status
}

var (
	_ Store     = (*InMemory)(nil)
	_ Timeline  = (*InMemory)(nil)
	_ Incidents = (*InMemory)(nil)
)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		requests:  make(map[string]*VerificationRequest),
		timeline:  make(map[string][]TimelineEntry),
		incidents: make(map[string]string),
	}
}

// AddIncident registers an incident so create-time resolution succeeds.
func (s *InMemory) AddIncident(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[id] = status
}

// IncidentStatus returns the current status of an incident.
func (s *InMemory) IncidentStatus(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.incidents[id]
	return st, ok
}

func (s *InMemory) Exists(ctx context.Context, incidentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.incidents[incidentID]
	return ok, nil
}

func (s *InMemory) Create(ctx context.Context, req *VerificationRequest, entry TimelineEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[cp.ID] = &cp
	entry.RequestID = cp.ID
	s.appendLocked(entry)
	return nil
}

func (s *InMemory) Get(ctx context.Context, id string) (VerificationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return VerificationRequest{}, ErrNotFound
	}
	return *req, nil
}

func (s *InMemory) UpdateStatus(ctx context.Context, id string, expect Status, upd StatusUpdate, entry TimelineEntry) (VerificationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return VerificationRequest{}, ErrNotFound
	}
	if req.Status != expect {
		return VerificationRequest{}, ErrConflict
	}

	req.Status = upd.Status
	if upd.AssignedVerifier != "" {
		req.AssignedVerifier = upd.AssignedVerifier
	}
	if upd.Priority != "" {
		req.Priority = upd.Priority
	}
	if upd.VerificationDate != nil && req.VerificationDate == nil {
		t := *upd.VerificationDate
		req.VerificationDate = &t
	}
	if upd.VerificationNotes != "" {
		req.VerificationNotes = upd.VerificationNotes
	}
	if upd.RejectionReason != "" {
		req.RejectionReason = upd.RejectionReason
	}
	if upd.IncidentStatus != "" {
		s.incidents[req.IncidentID] = upd.IncidentStatus
	}

	entry.RequestID = id
	s.appendLocked(entry)
	return *req, nil
}

func (s *InMemory) List(ctx context.Context, f Filter, p Page) ([]VerificationRequest, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []VerificationRequest
	for _, req := range s.requests {
		if !matches(*req, f) {
			continue
		}
		matched = append(matched, *req)
	}
	// Oldest of the highest priority first.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority.Rank() != matched[j].Priority.Rank() {
			return matched[i].Priority.Rank() > matched[j].Priority.Rank()
		}
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	p = p.Normalize()
	if p.Offset >= total {
		return nil, total, nil
	}
	end := p.Offset + p.Limit
	if end > total {
		end = total
	}
	return matched[p.Offset:end], total, nil
}

func (s *InMemory) CountByVerifier(ctx context.Context, verifierID string, window time.Duration) (WorkloadCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked(verifierID, window), nil
}

func (s *InMemory) Workloads(ctx context.Context, window time.Duration) ([]WorkloadCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []WorkloadCounts
	for _, req := range s.requests {
		if req.AssignedVerifier == "" {
			continue
		}
		if _, ok := seen[req.AssignedVerifier]; ok {
			continue
		}
		seen[req.AssignedVerifier] = struct{}{}
		out = append(out, s.countLocked(req.AssignedVerifier, window))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VerifierID < out[j].VerifierID })
	return out, nil
}

func (s *InMemory) Append(ctx context.Context, e TimelineEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(e), nil
}

func (s *InMemory) ListFor(ctx context.Context, requestID string) ([]TimelineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.timeline[requestID]
	out := make([]TimelineEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *InMemory) appendLocked(e TimelineEntry) string {
	if e.ID == "" {
		e.ID = ids.New()
	}
	s.timeline[e.RequestID] = append(s.timeline[e.RequestID], e)
	return e.ID
}

func (s *InMemory) countLocked(verifierID string, window time.Duration) WorkloadCounts {
	counts := WorkloadCounts{VerifierID: verifierID}
	cutoff := time.Now().UTC().Add(-window)
	var turnaround time.Duration
	var terminal int
	for _, req := range s.requests {
		if req.AssignedVerifier != verifierID {
			continue
		}
		counts.Total++
		switch req.Status {
		case StatusPending:
			counts.Pending++
		case StatusInReview:
			counts.InReview++
		case StatusApproved:
			counts.Approved++
		case StatusRejected:
			counts.Rejected++
		}
		if req.Status.Terminal() && req.VerificationDate != nil && req.VerificationDate.After(cutoff) {
			turnaround += req.VerificationDate.Sub(req.CreatedAt)
			terminal++
		}
	}
	if terminal > 0 {
		counts.AvgTurnaround = turnaround / time.Duration(terminal)
	}
	return counts
}

func matches(req VerificationRequest, f Filter) bool {
	if f.Status != nil && req.Status != *f.Status {
		return false
	}
	if f.Priority != nil && req.Priority != *f.Priority {
		return false
	}
	if f.Type != nil && req.Type != *f.Type {
		return false
	}
	if f.AssignedTo != nil && req.AssignedVerifier != *f.AssignedTo {
		return false
	}
	return true
}

// StaticDirectory is a fixed actor-to-roles mapping used by tests and local
// development in place of the identity collaborator.
type StaticDirectory struct {
	mu    sync.RWMutex
	roles map[string][]string
}

var _ Directory = (*StaticDirectory)(nil)

// NewStaticDirectory builds a directory from an actor -> roles map.
func NewStaticDirectory(roles map[string][]string) *StaticDirectory {
	cp := make(map[string][]string, len(roles))
	for actor, rs := range roles {
		cp[actor] = append([]string(nil), rs...)
	}
	return &StaticDirectory{roles: cp}
}

// SetRoles replaces the roles of one actor.
func (d *StaticDirectory) SetRoles(actorID string, roles ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[actorID] = append([]string(nil), roles...)
}

func (d *StaticDirectory) RolesOf(ctx context.Context, actorID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.roles[actorID]...), nil
}

func (d *StaticDirectory) ListByRole(ctx context.Context, role string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for actor, rs := range d.roles {
		for _, r := range rs {
			if strings.EqualFold(r, role) {
				out = append(out, actor)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
