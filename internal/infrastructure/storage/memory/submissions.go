package memory

import (
	"context"
	"slices"
	"strings"
	gosync "sync"
	"time"

	"portalsync/internal/domain/relay"
)

// SubmissionRepository is the in-memory relay ledger. It enforces one
// submission per (form, member) like the unique index in postgres.
type SubmissionRepository struct {
	mu     gosync.RWMutex
	byID   map[string]*relay.Submission
	byPair map[[2]string]string
	now    func() time.Time
}

func NewSubmissionRepository() *SubmissionRepository {
	return &SubmissionRepository{
		byID:   make(map[string]*relay.Submission),
		byPair: make(map[[2]string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func clone(s *relay.Submission) *relay.Submission {
	c := *s
	if s.LastSyncError != nil {
		e := *s.LastSyncError
		c.LastSyncError = &e
	}
	if s.DeliveredAt != nil {
		t := *s.DeliveredAt
		c.DeliveredAt = &t
	}
	return &c
}

func (r *SubmissionRepository) Create(_ context.Context, s *relay.Submission, maxEntries int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pair := [2]string{s.FormID, s.MemberID}
	if _, ok := r.byPair[pair]; ok {
		return relay.ErrAlreadySubmitted
	}
	if maxEntries > 0 && r.countByForm(s.FormID) >= maxEntries {
		return relay.ErrMaxEntries
	}
	r.byPair[pair] = s.ID
	r.byID[s.ID] = clone(s)
	return nil
}

func (r *SubmissionRepository) Get(_ context.Context, id string) (*relay.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	if !ok {
		return nil, relay.ErrSubmissionNotFound
	}
	return clone(s), nil
}

func (r *SubmissionRepository) Exists(_ context.Context, formID, memberID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byPair[[2]string{formID, memberID}]
	return ok, nil
}

func (r *SubmissionRepository) countByForm(formID string) int {
	n := 0
	for _, s := range r.byID {
		if s.FormID == formID {
			n++
		}
	}
	return n
}

func (r *SubmissionRepository) MarkAttempting(_ context.Context, id string) error {
	return r.mutate(id, func(s *relay.Submission) {
		s.State = relay.StateAttempting
	})
}

func (r *SubmissionRepository) MarkDelivered(_ context.Context, id string, attempts int, at time.Time) error {
	return r.mutate(id, func(s *relay.Submission) {
		s.State = relay.StateDelivered
		s.SyncedToTCN = true
		s.SyncAttempts += attempts
		s.LastSyncError = nil
		s.DeliveredAt = &at
	})
}

func (r *SubmissionRepository) MarkFailed(_ context.Context, id string, attempts int, lastErr string) error {
	return r.mutate(id, func(s *relay.Submission) {
		s.State = relay.StateFailed
		s.SyncAttempts += attempts
		s.LastSyncError = &lastErr
	})
}

func (r *SubmissionRepository) ClaimRetries(_ context.Context, staleBefore time.Time, limit int) ([]*relay.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	picked := make([]*relay.Submission, 0)
	for _, s := range r.byID {
		switch s.State {
		case relay.StateFailed:
		case relay.StateCreated, relay.StateAttempting:
			if !s.UpdatedAt.Before(staleBefore) {
				continue
			}
		default:
			continue
		}
		picked = append(picked, s)
	}
	sortOldestFirst(picked)
	if limit > 0 && len(picked) > limit {
		picked = picked[:limit]
	}

	now := r.now()
	out := make([]*relay.Submission, 0, len(picked))
	for _, s := range picked {
		s.State = relay.StateAttempting
		s.UpdatedAt = now
		out = append(out, clone(s))
	}
	return out, nil
}

func (r *SubmissionRepository) mutate(id string, fn func(*relay.Submission)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return relay.ErrSubmissionNotFound
	}
	fn(s)
	s.UpdatedAt = r.now()
	return nil
}

// List returns matching submissions oldest first.
func (r *SubmissionRepository) List(_ context.Context, f relay.ListFilter) ([]*relay.Submission, error) {
	r.mu.RLock()
	out := make([]*relay.Submission, 0)
	for _, s := range r.byID {
		if f.FormID != "" && s.FormID != f.FormID {
			continue
		}
		if f.State != "" && s.State != f.State {
			continue
		}
		if !f.Since.IsZero() && s.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, clone(s))
	}
	r.mu.RUnlock()

	sortOldestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func sortOldestFirst(subs []*relay.Submission) {
	slices.SortFunc(subs, func(a, b *relay.Submission) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
