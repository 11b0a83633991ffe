package memory

import (
	"context"
	gosync "sync"

	"portalsync/internal/domain/audit"
)

// AuditRepository keeps audit entries in insertion order.
type AuditRepository struct {
	mu      gosync.Mutex
	entries []audit.Entry
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Insert(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

// Entries returns a copy of everything logged so far.
func (r *AuditRepository) Entries() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
