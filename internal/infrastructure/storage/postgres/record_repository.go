package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portalsync/internal/domain/entity"
	"portalsync/internal/domain/sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"
)

type RecordRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewRecordRepository(pool *pgxpool.Pool, log *slog.Logger) *RecordRepository {
	return &RecordRepository{
		pool: pool,
		log:  log.With("component", "record_repository"),
	}
}

const recordColumns = `model, id, origin, fields, created, updated, deleted_at`

func (r *RecordRepository) Get(ctx context.Context, model entity.Model, id string) (*entity.Record, error) {
	const query = `
		SELECT ` + recordColumns + `
		FROM sync_records
		WHERE model = $1 AND id = $2 AND deleted_at IS NULL`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, string(model), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sync.ErrNotFound
	}
	if err != nil {
		r.log.Error("failed to get record", "model", model, "id", id, "error", err)
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// Insert writes a new row. A tombstone with the same key is revived; a live
// row is left alone and ErrConflict returned. Zero times are stamped with the
// database clock.
func (r *RecordRepository) Insert(ctx context.Context, rec *entity.Record) error {
	const query = `
		WITH ts AS (SELECT clock_timestamp() AS now)
		INSERT INTO sync_records (model, id, origin, fields, created, updated)
		SELECT $1::text, $2::text, $3::text, $4::jsonb,
		       COALESCE($5::timestamptz, $6::timestamptz, ts.now),
		       COALESCE($6::timestamptz, ts.now)
		FROM ts
		ON CONFLICT (model, id) DO UPDATE SET
			origin = EXCLUDED.origin,
			fields = EXCLUDED.fields,
			created = EXCLUDED.created,
			updated = GREATEST(EXCLUDED.updated, sync_records.updated + interval '1 microsecond'),
			deleted_at = NULL
		WHERE sync_records.deleted_at IS NOT NULL
		RETURNING created, updated`

	err := r.pool.QueryRow(ctx, query,
		string(rec.Model), rec.ID, string(rec.Origin), fieldsOrEmpty(rec.Fields),
		nullTime(rec.Created), nullTime(rec.Updated),
	).Scan(&rec.Created, &rec.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return sync.ErrConflict
	}
	if err != nil {
		r.log.Error("failed to insert record", "model", rec.Model, "id", rec.ID, "error", err)
		return fmt.Errorf("insert record: %w", err)
	}
	rec.Created = rec.Created.UTC()
	rec.Updated = rec.Updated.UTC()
	return nil
}

func (r *RecordRepository) Update(ctx context.Context, rec *entity.Record) error {
	const query = `
		UPDATE sync_records
		SET origin = $3, fields = $4,
		    updated = GREATEST(COALESCE($5::timestamptz, clock_timestamp()), updated + interval '1 microsecond')
		WHERE model = $1 AND id = $2 AND deleted_at IS NULL
		RETURNING updated`

	err := r.pool.QueryRow(ctx, query,
		string(rec.Model), rec.ID, string(rec.Origin), fieldsOrEmpty(rec.Fields), nullTime(rec.Updated),
	).Scan(&rec.Updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return sync.ErrNotFound
	}
	if err != nil {
		r.log.Error("failed to update record", "model", rec.Model, "id", rec.ID, "error", err)
		return fmt.Errorf("update record: %w", err)
	}
	rec.Updated = rec.Updated.UTC()
	return nil
}

// Delete tombstones the row. The tombstone always sorts after the last write.
func (r *RecordRepository) Delete(ctx context.Context, model entity.Model, id string, at time.Time) error {
	const query = `
		UPDATE sync_records
		SET deleted_at = GREATEST(COALESCE($3::timestamptz, ts.now), updated + interval '1 microsecond'),
		    updated = GREATEST(COALESCE($3::timestamptz, ts.now), updated + interval '1 microsecond')
		FROM (SELECT clock_timestamp() AS now) ts
		WHERE model = $1 AND id = $2 AND deleted_at IS NULL`

	tag, err := r.pool.Exec(ctx, query, string(model), id, nullTime(at))
	if err != nil {
		r.log.Error("failed to delete record", "model", model, "id", id, "error", err)
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sync.ErrNotFound
	}
	return nil
}

func (r *RecordRepository) Changes(ctx context.Context, q sync.ChangeQuery) ([]*entity.Record, int, error) {
	models := make([]string, 0, len(q.Models))
	for _, m := range q.Models {
		models = append(models, string(m))
	}

	where := `
		WHERE updated >= $1
		  AND (cardinality($2::text[]) = 0 OR model = ANY($2::text[]))`
	args := []any{q.After, models}
	if q.From != nil {
		where = `
		WHERE (updated, model, id) > ($1, $3, $4)
		  AND (cardinality($2::text[]) = 0 OR model = ANY($2::text[]))`
		args = []any{q.From.After, models, string(q.From.Model), q.From.ID}
	}

	if q.Settle > 0 {
		args = append(args, q.Settle.Seconds())
		where += fmt.Sprintf(`
		  AND updated <= clock_timestamp() - make_interval(secs => $%d::float8)`, len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM sync_records`+where, args...).Scan(&total); err != nil {
		r.log.Error("failed to count changes", "error", err)
		return nil, 0, fmt.Errorf("count changes: %w", err)
	}

	query := `SELECT ` + recordColumns + ` FROM sync_records` + where + `
		ORDER BY updated, model, id`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, q.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		r.log.Error("failed to list changes", "error", err)
		return nil, 0, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	out, err := scanRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *RecordRepository) FindBy(ctx context.Context, model entity.Model, field, value string) ([]*entity.Record, error) {
	const query = `
		SELECT ` + recordColumns + `
		FROM sync_records
		WHERE model = $1 AND deleted_at IS NULL AND fields ->> $2 = $3
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, string(model), field, value)
	if err != nil {
		r.log.Error("failed to find records", "model", model, "field", field, "error", err)
		return nil, fmt.Errorf("find records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// nullTime maps the zero time to NULL so the database stamps it.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fieldsOrEmpty(f map[string]any) map[string]any {
	if f == nil {
		return map[string]any{}
	}
	return f
}

func scanRecord(row pgx.Row) (*entity.Record, error) {
	var (
		rec    entity.Record
		model  string
		origin string
	)
	if err := row.Scan(&model, &rec.ID, &origin, &rec.Fields, &rec.Created, &rec.Updated, &rec.DeletedAt); err != nil {
		return nil, err
	}
	rec.Model = entity.Model(model)
	rec.Origin = entity.Origin(origin)
	rec.Created = rec.Created.UTC()
	rec.Updated = rec.Updated.UTC()
	if rec.DeletedAt != nil {
		t := rec.DeletedAt.UTC()
		rec.DeletedAt = &t
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	return &rec, nil
}

func scanRecords(rows pgx.Rows) ([]*entity.Record, error) {
	out := make([]*entity.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
