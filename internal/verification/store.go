package verification

import (
	"context"
	"time"
)

// Store is the durable record of verification requests. UpdateStatus is a
// compare-and-set: the caller passes the status it observed, and a concurrent
// transition surfaces as ErrConflict instead of a silent overwrite. The
// timeline entry passed to Create and UpdateStatus commits in the same
// storage transaction as the request row, so a status is never visible
// without its provenance.
type Store interface {
	Create(ctx context.Context, req *VerificationRequest, entry TimelineEntry) error
	Get(ctx context.Context, id string) (VerificationRequest, error)
	UpdateStatus(ctx context.Context, id string, expect Status, upd StatusUpdate, entry TimelineEntry) (VerificationRequest, error)
	List(ctx context.Context, f Filter, p Page) ([]VerificationRequest, int, error)
	CountByVerifier(ctx context.Context, verifierID string, window time.Duration) (WorkloadCounts, error)
	Workloads(ctx context.Context, window time.Duration) ([]WorkloadCounts, error)
}

// Timeline is the append-only audit ledger. Entries are never updated or
// deleted once written.
type Timeline interface {
	Append(ctx context.Context, e TimelineEntry) (string, error)
	ListFor(ctx context.Context, requestID string) ([]TimelineEntry, error)
}

// Directory resolves actors to roles. Identity is owned by an external
// collaborator; this is the slice of it the workflow needs.
type Directory interface {
	RolesOf(ctx context.Context, actorID string) ([]string, error)
	ListByRole(ctx context.Context, role string) ([]string, error)
}

// Incidents is the view of the incident collaborator used at create time.
// Incident status writes ride inside the transition transaction and are
// expressed through StatusUpdate.IncidentStatus instead.
type Incidents interface {
	Exists(ctx context.Context, incidentID string) (bool, error)
}
