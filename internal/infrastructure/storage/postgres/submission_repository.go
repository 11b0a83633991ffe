package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"portalsync/internal/domain/relay"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"
)

// SubmissionRepository is the relay ledger in submission_relay.
type SubmissionRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewSubmissionRepository(pool *pgxpool.Pool, log *slog.Logger) *SubmissionRepository {
	return &SubmissionRepository{
		pool: pool,
		log:  log.With("component", "submission_repository"),
	}
}

const submissionColumns = `id, form_id, member_id, responses, state, synced_to_tcn,
	sync_attempts, last_sync_error, created_at, updated_at, delivered_at`

// Create inserts the submission. With a positive maxEntries the count and
// the insert run under a per-form advisory lock.
func (r *SubmissionRepository) Create(ctx context.Context, s *relay.Submission, maxEntries int) error {
	const query = `
		INSERT INTO submission_relay (id, form_id, member_id, responses, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	responses := s.Responses
	if responses == nil {
		responses = map[string]any{}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create submission: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if maxEntries > 0 {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.FormID); err != nil {
			return fmt.Errorf("lock form entries: %w", err)
		}
		var n int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM submission_relay WHERE form_id = $1`, s.FormID).Scan(&n); err != nil {
			return fmt.Errorf("count submissions: %w", err)
		}
		if n >= maxEntries {
			return relay.ErrMaxEntries
		}
	}

	_, err = tx.Exec(ctx, query, s.ID, s.FormID, s.MemberID, responses, string(s.State), s.CreatedAt, s.UpdatedAt)
	if isUniqueViolation(err) {
		return relay.ErrAlreadySubmitted
	}
	if err != nil {
		r.log.Error("failed to create submission", "form_id", s.FormID, "error", err)
		return fmt.Errorf("create submission: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit submission: %w", err)
	}
	return nil
}

func (r *SubmissionRepository) Get(ctx context.Context, id string) (*relay.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submission_relay WHERE id = $1`

	s, err := scanSubmission(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, relay.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return s, nil
}

func (r *SubmissionRepository) Exists(ctx context.Context, formID, memberID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submission_relay WHERE form_id = $1 AND member_id = $2)`,
		formID, memberID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check submission: %w", err)
	}
	return ok, nil
}

func (r *SubmissionRepository) MarkAttempting(ctx context.Context, id string) error {
	return r.exec(ctx, `
		UPDATE submission_relay
		SET state = 'ATTEMPTING', updated_at = now()
		WHERE id = $1`, id)
}

func (r *SubmissionRepository) MarkDelivered(ctx context.Context, id string, attempts int, at time.Time) error {
	return r.exec(ctx, `
		UPDATE submission_relay
		SET state = 'DELIVERED', synced_to_tcn = TRUE, sync_attempts = sync_attempts + $2,
		    last_sync_error = NULL, delivered_at = $3, updated_at = now()
		WHERE id = $1`, id, attempts, at)
}

func (r *SubmissionRepository) MarkFailed(ctx context.Context, id string, attempts int, lastErr string) error {
	return r.exec(ctx, `
		UPDATE submission_relay
		SET state = 'FAILED', sync_attempts = sync_attempts + $2,
		    last_sync_error = $3, updated_at = now()
		WHERE id = $1`, id, attempts, lastErr)
}

// ClaimRetries flips the picked rows to ATTEMPTING in one statement. SKIP
// LOCKED keeps concurrent runs off each other's rows.
func (r *SubmissionRepository) ClaimRetries(ctx context.Context, staleBefore time.Time, limit int) ([]*relay.Submission, error) {
	const query = `
		UPDATE submission_relay s
		SET state = 'ATTEMPTING', updated_at = now()
		FROM (
			SELECT id
			FROM submission_relay
			WHERE state = 'FAILED'
			   OR (state IN ('CREATED', 'ATTEMPTING') AND updated_at < $1)
			ORDER BY created_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) picked
		WHERE s.id = picked.id
		RETURNING s.id, s.form_id, s.member_id, s.responses, s.state, s.synced_to_tcn,
			s.sync_attempts, s.last_sync_error, s.created_at, s.updated_at, s.delivered_at`

	rows, err := r.pool.Query(ctx, query, staleBefore, limit)
	if err != nil {
		r.log.Error("failed to claim submissions", "error", err)
		return nil, fmt.Errorf("claim submissions: %w", err)
	}
	defer rows.Close()

	out, err := scanSubmissions(rows)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *relay.Submission) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *SubmissionRepository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		r.log.Error("failed to update submission", "id", args[0], "error", err)
		return fmt.Errorf("update submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return relay.ErrSubmissionNotFound
	}
	return nil
}

func (r *SubmissionRepository) List(ctx context.Context, f relay.ListFilter) ([]*relay.Submission, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.FormID != "" {
		add("form_id = $%d", f.FormID)
	}
	if f.State != "" {
		add("state = $%d", string(f.State))
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}

	query := `SELECT ` + submissionColumns + ` FROM submission_relay`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		r.log.Error("failed to list submissions", "error", err)
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	return scanSubmissions(rows)
}

func scanSubmissions(rows pgx.Rows) ([]*relay.Submission, error) {
	out := make([]*relay.Submission, 0)
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSubmission(row pgx.Row) (*relay.Submission, error) {
	var (
		s     relay.Submission
		state string
	)
	err := row.Scan(
		&s.ID,
		&s.FormID,
		&s.MemberID,
		&s.Responses,
		&state,
		&s.SyncedToTCN,
		&s.SyncAttempts,
		&s.LastSyncError,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	s.State = relay.State(state)
	return &s, nil
}
