package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"roadwatch.org/internal/ids"
	"roadwatch.org/internal/verification"
)

// opTimeout bounds every storage call so no operation blocks indefinitely.
const opTimeout = 5 * time.Second

// Store is the Postgres-backed request store, timeline ledger, staff
// directory and incident view.
type Store struct {
	db *sql.DB
}

var (
	_ verification.Store     = (*Store)(nil)
	_ verification.Timeline  = (*Store)(nil)
	_ verification.Directory = (*Store)(nil)
	_ verification.Incidents = (*Store)(nil)
)

// Open connects with tuned pool defaults; adjust under load tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const requestColumns = `id, incident_id, request_type, priority, status, title, description,
	coalesce(assigned_verifier,''), requested_by, created_at, verification_date,
	verification_notes, rejection_reason`

func (s *Store) Create(ctx context.Context, req *verification.VerificationRequest, entry verification.TimelineEntry) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into verification_requests
			(id, incident_id, request_type, priority, status, title, description, requested_by, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, req.ID, req.IncidentID, req.Type, req.Priority, req.Status, req.Title, req.Description, req.RequestedBy, req.CreatedAt); err != nil {
		return err
	}
	if err := appendEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, id string) (verification.VerificationRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `select `+requestColumns+` from verification_requests where id=$1`, id)
	return scanRequest(row)
}

// UpdateStatus is the compare-and-set transition commit: the row only moves
// if the stored status still matches what the caller observed, and the
// timeline entry plus any incident sync land in the same transaction.
func (s *Store) UpdateStatus(ctx context.Context, id string, expect verification.Status, upd verification.StatusUpdate, entry verification.TimelineEntry) (verification.VerificationRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return verification.VerificationRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		update verification_requests set
			status = $3,
			assigned_verifier = coalesce(nullif($4,''), assigned_verifier),
			priority = coalesce(nullif($5,''), priority),
			verification_date = coalesce(verification_date, $6),
			verification_notes = case when $7 <> '' then $7 else verification_notes end,
			rejection_reason = case when $8 <> '' then $8 else rejection_reason end
		where id = $1 and status = $2
		returning `+requestColumns,
		id, expect, upd.Status, upd.AssignedVerifier, string(upd.Priority),
		upd.VerificationDate, upd.VerificationNotes, upd.RejectionReason)

	updated, err := scanRequest(row)
	if errors.Is(err, verification.ErrNotFound) {
		// Either the row is gone or a concurrent transition won the race.
		var current string
		qerr := tx.QueryRowContext(ctx, `select status from verification_requests where id=$1`, id).Scan(&current)
		if errors.Is(qerr, sql.ErrNoRows) {
			return verification.VerificationRequest{}, verification.ErrNotFound
		}
		if qerr != nil {
			return verification.VerificationRequest{}, qerr
		}
		return verification.VerificationRequest{}, verification.ErrConflict
	}
	if err != nil {
		return verification.VerificationRequest{}, err
	}

	if err := appendEntry(ctx, tx, entry); err != nil {
		return verification.VerificationRequest{}, err
	}
	if upd.IncidentStatus != "" {
		if _, err := tx.ExecContext(ctx, `update incidents set status=$2 where id=$1`, updated.IncidentID, upd.IncidentStatus); err != nil {
			return verification.VerificationRequest{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return verification.VerificationRequest{}, err
	}
	return updated, nil
}

func (s *Store) List(ctx context.Context, f verification.Filter, p verification.Page) ([]verification.VerificationRequest, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where, args := buildFilter(f)
	p = p.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from verification_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, p.Limit, p.Offset)
	query := fmt.Sprintf(`
		select `+requestColumns+`
		from verification_requests%s
		order by case priority
			when 'critical' then 4
			when 'high' then 3
			when 'medium' then 2
			else 1 end desc,
			created_at asc, id asc
		limit $%d offset $%d`, where, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []verification.VerificationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	return out, total, rows.Err()
}

const workloadColumns = `
	count(*),
	count(*) filter (where status = 'pending'),
	count(*) filter (where status = 'in_review'),
	count(*) filter (where status = 'approved'),
	count(*) filter (where status = 'rejected'),
	coalesce(extract(epoch from avg(verification_date - created_at)
		filter (where status in ('approved','rejected') and verification_date >= $1)), 0)`

func (s *Store) CountByVerifier(ctx context.Context, verifierID string, window time.Duration) (verification.WorkloadCounts, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-window)
	counts := verification.WorkloadCounts{VerifierID: verifierID}
	var avgSeconds float64
	err := s.db.QueryRowContext(ctx, `
		select `+workloadColumns+`
		from verification_requests
		where assigned_verifier = $2
	`, cutoff, verifierID).Scan(&counts.Total, &counts.Pending, &counts.InReview, &counts.Approved, &counts.Rejected, &avgSeconds)
	if err != nil {
		return verification.WorkloadCounts{}, err
	}
	counts.AvgTurnaround = time.Duration(avgSeconds * float64(time.Second))
	return counts, nil
}

func (s *Store) Workloads(ctx context.Context, window time.Duration) ([]verification.WorkloadCounts, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-window)
	rows, err := s.db.QueryContext(ctx, `
		select assigned_verifier, `+workloadColumns+`
		from verification_requests
		where assigned_verifier <> ''
		group by assigned_verifier
		order by assigned_verifier
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []verification.WorkloadCounts
	for rows.Next() {
		var counts verification.WorkloadCounts
		var avgSeconds float64
		if err := rows.Scan(&counts.VerifierID, &counts.Total, &counts.Pending, &counts.InReview, &counts.Approved, &counts.Rejected, &avgSeconds); err != nil {
			return nil, err
		}
		counts.AvgTurnaround = time.Duration(avgSeconds * float64(time.Second))
		out = append(out, counts)
	}
	return out, rows.Err()
}

func (s *Store) Append(ctx context.Context, e verification.TimelineEntry) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if e.ID == "" {
		e.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into verification_timeline (id, request_id, action, action_by, notes, ts)
		values ($1,$2,$3,$4,$5,$6)
	`, e.ID, e.RequestID, e.Action, e.ActionBy, e.Notes, e.Timestamp)
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

func (s *Store) ListFor(ctx context.Context, requestID string) ([]verification.TimelineEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		select id, request_id, action, action_by, notes, ts
		from verification_timeline
		where request_id = $1
		order by ts asc, id asc
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []verification.TimelineEntry
	for rows.Next() {
		var e verification.TimelineEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Action, &e.ActionBy, &e.Notes, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) RolesOf(ctx context.Context, actorID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `select role from staff_roles where staff_id = $1 order by role`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (s *Store) ListByRole(ctx context.Context, role string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `select staff_id from staff_roles where role = $1 order by staff_id`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) Exists(ctx context.Context, incidentID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from incidents where id = $1)`, incidentID).Scan(&exists)
	return exists, err
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (verification.VerificationRequest, error) {
	var req verification.VerificationRequest
	var verified sql.NullTime
	err := row.Scan(&req.ID, &req.IncidentID, &req.Type, &req.Priority, &req.Status,
		&req.Title, &req.Description, &req.AssignedVerifier, &req.RequestedBy,
		&req.CreatedAt, &verified, &req.VerificationNotes, &req.RejectionReason)
	if errors.Is(err, sql.ErrNoRows) {
		return verification.VerificationRequest{}, verification.ErrNotFound
	}
	if err != nil {
		return verification.VerificationRequest{}, err
	}
	if verified.Valid {
		t := verified.Time
		req.VerificationDate = &t
	}
	return req, nil
}

func appendEntry(ctx context.Context, tx *sql.Tx, e verification.TimelineEntry) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	_, err := tx.ExecContext(ctx, `
		insert into verification_timeline (id, request_id, action, action_by, notes, ts)
		values ($1,$2,$3,$4,$5,$6)
	`, e.ID, e.RequestID, e.Action, e.ActionBy, e.Notes, e.Timestamp)
	return err
}

// buildFilter turns the structured filter into a parameterized where clause.
// Filter values never reach the SQL text itself.
func buildFilter(f verification.Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if f.Status != nil {
		add("status", *f.Status)
	}
	if f.Priority != nil {
		add("priority", *f.Priority)
	}
	if f.Type != nil {
		add("request_type", *f.Type)
	}
	if f.AssignedTo != nil {
		add("assigned_verifier", *f.AssignedTo)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " where " + strings.Join(clauses, " and "), args
}
