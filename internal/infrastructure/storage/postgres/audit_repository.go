package postgres

import (
	"context"
	"fmt"

	"portalsync/internal/domain/audit"

	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Insert(ctx context.Context, e audit.Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (ts, ip, action, success, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		e.Timestamp, e.IP, e.Action, e.Success, e.Detail)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
