package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"portalsync/internal/domain/entity"
	"portalsync/internal/domain/relay"
	"portalsync/internal/domain/sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

// newTestStorage connects to TEST_DATABASE_URL, which must point at a
// migrated database.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordRepository_Postgres(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	repo := NewRecordRepository(s.Pool(), slog.Default())
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.NewString()

	rec := &entity.Record{
		Model: entity.ModelMember, ID: id, Origin: entity.OriginMaster,
		Fields: map[string]any{"first_name": "Ann"}, Created: now, Updated: now,
	}
	require.NoError(t, repo.Insert(ctx, rec))
	assert.ErrorIs(t, repo.Insert(ctx, rec), sync.ErrConflict)

	got, err := repo.Get(ctx, entity.ModelMember, id)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.String("first_name"))
	assert.True(t, now.Equal(got.Updated))

	require.NoError(t, repo.Delete(ctx, entity.ModelMember, id, now))
	_, err = repo.Get(ctx, entity.ModelMember, id)
	assert.ErrorIs(t, err, sync.ErrNotFound)

	rows, total, err := repo.Changes(ctx, sync.ChangeQuery{After: now, Models: []entity.Model{entity.ModelMember}, Limit: 1000})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	var found bool
	for _, r := range rows {
		if r.ID == id {
			found = true
			assert.True(t, r.Deleted())
			assert.True(t, r.Updated.After(now))
		}
	}
	assert.True(t, found)

	require.NoError(t, repo.Insert(ctx, rec), "a tombstone may be overwritten")
}

func TestRecordRepository_PostgresStampsAndSettles(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	repo := NewRecordRepository(s.Pool(), slog.Default())
	before := time.Now().UTC().Add(-time.Minute)
	id := uuid.NewString()

	rec := &entity.Record{Model: entity.ModelBulletin, ID: id, Origin: entity.OriginMaster, Fields: map[string]any{"title": "x"}}
	require.NoError(t, repo.Insert(ctx, rec))
	require.False(t, rec.Updated.IsZero(), "the database stamps a zero updated")
	assert.True(t, rec.Created.Equal(rec.Updated))
	first := rec.Updated

	rec.Updated = time.Time{}
	require.NoError(t, repo.Update(ctx, rec))
	assert.True(t, rec.Updated.After(first))

	query := sync.ChangeQuery{After: before, Models: []entity.Model{entity.ModelBulletin}, Limit: 1000}
	rows, _, err := repo.Changes(ctx, query)
	require.NoError(t, err)
	assert.True(t, containsID(rows, id))

	query.Settle = time.Hour
	rows, _, err = repo.Changes(ctx, query)
	require.NoError(t, err)
	assert.False(t, containsID(rows, id), "a fresh change is held back by the settle lag")
}

func containsID(rows []*entity.Record, id string) bool {
	for _, r := range rows {
		if r.ID == id {
			return true
		}
	}
	return false
}

func TestBatchRepository_Postgres(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	repo := NewBatchRepository(s.Pool(), slog.Default())
	syncID := uuid.NewString()

	prior, err := repo.Claim(ctx, entity.OriginMaster, syncID, time.Hour)
	require.NoError(t, err)
	assert.Nil(t, prior)

	require.NoError(t, repo.Complete(ctx, entity.OriginMaster, syncID, &sync.BatchResult{SyncID: syncID, Processed: 3}))
	prior, err = repo.Claim(ctx, entity.OriginMaster, syncID, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.True(t, prior.Completed)
	assert.Equal(t, 3, prior.Result.Processed)

	require.NoError(t, repo.Release(ctx, entity.OriginMaster, syncID))

	stale := uuid.NewString()
	prior, err = repo.Claim(ctx, entity.OriginMaster, stale, time.Hour)
	require.NoError(t, err)
	require.Nil(t, prior)
	_, err = s.Pool().Exec(ctx,
		`UPDATE sync_batches SET created_at = now() - interval '2 hours' WHERE sync_id = $1`, stale)
	require.NoError(t, err)

	prior, err = repo.Claim(ctx, entity.OriginMaster, stale, time.Hour)
	require.NoError(t, err)
	assert.Nil(t, prior, "a pending claim past its lease is taken over")

	prior, err = repo.Claim(ctx, entity.OriginMaster, stale, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, prior, "the takeover is pending again")
	assert.False(t, prior.Completed)
}

func TestSubmissionRepository_Postgres(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	repo := NewSubmissionRepository(s.Pool(), slog.Default())
	now := time.Now().UTC()
	sub := &relay.Submission{
		ID: uuid.NewString(), FormID: uuid.NewString(), MemberID: "m1",
		Responses: map[string]any{"a": "b"}, State: relay.StateCreated, CreatedAt: now, UpdatedAt: now,
	}

	require.NoError(t, repo.Create(ctx, sub, 0))
	dup := *sub
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, repo.Create(ctx, &dup, 0), relay.ErrAlreadySubmitted)

	require.NoError(t, repo.MarkFailed(ctx, sub.ID, 1, "boom"))
	got, err := repo.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, relay.StateFailed, got.State)
	assert.Equal(t, 1, got.SyncAttempts)

	list, err := repo.List(ctx, relay.ListFilter{FormID: sub.FormID, State: relay.StateFailed, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSubmissionRepository_PostgresCapAndClaim(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	repo := NewSubmissionRepository(s.Pool(), slog.Default())
	now := time.Now().UTC()
	formID := uuid.NewString()
	newSub := func(member string, state relay.State, updated time.Time) *relay.Submission {
		return &relay.Submission{
			ID: uuid.NewString(), FormID: formID, MemberID: member,
			Responses: map[string]any{}, State: state, CreatedAt: updated, UpdatedAt: updated,
		}
	}

	failed := newSub("m1", relay.StateFailed, now)
	stuck := newSub("m2", relay.StateAttempting, now.Add(-time.Hour))
	busy := newSub("m3", relay.StateAttempting, now)
	for _, sub := range []*relay.Submission{failed, stuck, busy} {
		require.NoError(t, repo.Create(ctx, sub, 3))
	}
	assert.ErrorIs(t, repo.Create(ctx, newSub("m4", relay.StateCreated, now), 3), relay.ErrMaxEntries)

	claimed, err := repo.ClaimRetries(ctx, now.Add(-time.Minute), 0)
	require.NoError(t, err)
	ids := make(map[string]bool, len(claimed))
	for _, sub := range claimed {
		ids[sub.ID] = true
		assert.Equal(t, relay.StateAttempting, sub.State)
	}
	assert.True(t, ids[failed.ID])
	assert.True(t, ids[stuck.ID])
	assert.False(t, ids[busy.ID])

	again, err := repo.ClaimRetries(ctx, now.Add(-time.Minute), 0)
	require.NoError(t, err)
	for _, sub := range again {
		assert.NotEqual(t, failed.ID, sub.ID)
		assert.NotEqual(t, stuck.ID, sub.ID)
	}
}
