package sync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"portalsync/internal/domain/authority"
	"portalsync/internal/domain/entity"
	"portalsync/internal/domain/sync"
	"portalsync/internal/infrastructure/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type MockBatchRepository struct {
	mock.Mock
}

func (m *MockBatchRepository) Claim(ctx context.Context, source entity.Origin, syncID string, lease time.Duration) (*sync.StoredBatch, error) {
	args := m.Called(ctx, source, syncID, lease)
	b, _ := args.Get(0).(*sync.StoredBatch)
	return b, args.Error(1)
}

func (m *MockBatchRepository) Complete(ctx context.Context, source entity.Origin, syncID string, result *sync.BatchResult) error {
	return m.Called(ctx, source, syncID, result).Error(0)
}

func (m *MockBatchRepository) Release(ctx context.Context, source entity.Origin, syncID string) error {
	return m.Called(ctx, source, syncID).Error(0)
}

func newService(batches sync.IdempotencyRepository) (*sync.Service, *memory.RecordRepository) {
	repo := memory.NewRecordRepository()
	resolver := authority.NewResolver(authority.DefaultPolicy())
	log := slog.Default()
	svc := sync.NewService(
		sync.MustCodec(),
		sync.NewApplier(repo, resolver, log),
		sync.NewDeltaEngine(repo, log),
		sync.NewCascadePolicy(sync.CascadeBarcodes, repo, log),
		batches,
		log,
	)
	return svc, repo
}

func memberBatch(syncID string) *sync.Batch {
	return &sync.Batch{
		SyncID: syncID,
		Source: entity.OriginMaster,
		Items: []sync.Item{
			{Operation: sync.OpUpsert, Model: entity.ModelMember, ID: "m1", Data: map[string]any{"first_name": "Ann"}},
		},
	}
}

func TestService_ApplyBatch_ReplaysCompletedSyncID(t *testing.T) {
	// Arrange
	svc, repo := newService(memory.NewBatchRepository())
	ctx := context.Background()

	first, err := svc.ApplyBatch(ctx, memberBatch("s-1"), sync.KindMutation)
	require.NoError(t, err)
	rec1, _ := repo.Get(ctx, entity.ModelMember, "m1")

	// Act
	second, err := svc.ApplyBatch(ctx, memberBatch("s-1"), sync.KindMutation)

	// Assert
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Processed, second.Processed)
	assert.Equal(t, first.Results, second.Results)

	rec2, _ := repo.Get(ctx, entity.ModelMember, "m1")
	assert.Equal(t, rec1.Updated, rec2.Updated, "a replay must not re-apply items")
}

func TestService_ApplyBatch_WithoutSyncIDAlwaysApplies(t *testing.T) {
	batches := new(MockBatchRepository)
	svc, _ := newService(batches)

	for i := 0; i < 2; i++ {
		res, err := svc.ApplyBatch(context.Background(), memberBatch(""), sync.KindMutation)
		require.NoError(t, err)
		assert.False(t, res.Replayed)
	}
	batches.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ApplyBatch_InFlight(t *testing.T) {
	batches := new(MockBatchRepository)
	batches.On("Claim", mock.Anything, entity.OriginMaster, "s-2", sync.DefaultClaimLease).
		Return(&sync.StoredBatch{Source: entity.OriginMaster, SyncID: "s-2"}, nil)
	svc, repo := newService(batches)

	_, err := svc.ApplyBatch(context.Background(), memberBatch("s-2"), sync.KindMutation)

	assert.ErrorIs(t, err, sync.ErrBatchInFlight)
	assert.Zero(t, repo.Len())
	batches.AssertExpectations(t)
}

func TestService_ApplyBatch_ReleasesWhenCompleteFails(t *testing.T) {
	batches := new(MockBatchRepository)
	batches.On("Claim", mock.Anything, entity.OriginMaster, "s-3", mock.Anything).Return(nil, nil)
	batches.On("Complete", mock.Anything, entity.OriginMaster, "s-3", mock.Anything).Return(errors.New("db down"))
	batches.On("Release", mock.Anything, entity.OriginMaster, "s-3").Return(nil)
	svc, _ := newService(batches)

	res, err := svc.ApplyBatch(context.Background(), memberBatch("s-3"), sync.KindMutation)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	batches.AssertExpectations(t)
}

// ctxBatches fails like a database driver once its context is done. It
// cancels the request right after a successful claim.
type ctxBatches struct {
	inner  *memory.BatchRepository
	cancel context.CancelFunc
}

func (c *ctxBatches) Claim(ctx context.Context, source entity.Origin, syncID string, lease time.Duration) (*sync.StoredBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := c.inner.Claim(ctx, source, syncID, lease)
	if err == nil && b == nil && c.cancel != nil {
		c.cancel()
	}
	return b, err
}

func (c *ctxBatches) Complete(ctx context.Context, source entity.Origin, syncID string, result *sync.BatchResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.inner.Complete(ctx, source, syncID, result)
}

func (c *ctxBatches) Release(ctx context.Context, source entity.Origin, syncID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.inner.Release(ctx, source, syncID)
}

func TestService_ApplyBatch_CancelledRequestDoesNotWedgeSyncID(t *testing.T) {
	// Arrange
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	batches := &ctxBatches{inner: memory.NewBatchRepository(), cancel: cancel}
	svc, repo := newService(batches)

	_, err := svc.ApplyBatch(ctx, memberBatch("s-6"), sync.KindMutation)
	require.NoError(t, err)
	batches.cancel = nil

	// Act
	res, err := svc.ApplyBatch(context.Background(), memberBatch("s-6"), sync.KindMutation)

	// Assert
	require.NoError(t, err, "the resend must not see the batch as in flight")
	assert.False(t, res.Replayed)
	assert.Equal(t, 1, res.Processed)
	_, err = repo.Get(context.Background(), entity.ModelMember, "m1")
	require.NoError(t, err)

	replay, err := svc.ApplyBatch(context.Background(), memberBatch("s-6"), sync.KindMutation)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
}

func TestService_ApplyBatch_TakesOverStaleClaim(t *testing.T) {
	// Arrange
	batches := memory.NewBatchRepository()
	svc, _ := newService(batches)
	svc.WithClaimLease(time.Millisecond)

	// A crashed request left this claim pending.
	prior, err := batches.Claim(context.Background(), entity.OriginMaster, "s-7", time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, prior)
	time.Sleep(5 * time.Millisecond)

	// Act
	res, err := svc.ApplyBatch(context.Background(), memberBatch("s-7"), sync.KindMutation)

	// Assert
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, 1, res.Processed)
}

func TestService_ApplyBatch_ClaimError(t *testing.T) {
	batches := new(MockBatchRepository)
	batches.On("Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
	svc, repo := newService(batches)

	_, err := svc.ApplyBatch(context.Background(), memberBatch("s-4"), sync.KindMutation)

	assert.ErrorContains(t, err, "db down")
	assert.Zero(t, repo.Len())
}

func TestService_ApplyBatch_InvalidEnvelopeTouchesNothing(t *testing.T) {
	batches := new(MockBatchRepository)
	svc, repo := newService(batches)
	b := memberBatch("s-5")
	b.Items = append(b.Items, sync.Item{Operation: "DROP", Model: entity.ModelMember})

	_, err := svc.ApplyBatch(context.Background(), b, sync.KindMutation)

	assert.ErrorIs(t, err, sync.ErrInvalidBatch)
	assert.Zero(t, repo.Len())
	batches.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ApplyBatch_ReportsCascade(t *testing.T) {
	svc, repo := newService(memory.NewBatchRepository())
	ctx := context.Background()
	seed(t, repo, entity.ModelMember, "m1", base)
	seedBarcode(t, repo, "b1", "m1", true)

	res, err := svc.ApplyBatch(ctx, &sync.Batch{Source: entity.OriginMaster, Items: []sync.Item{
		{Operation: sync.OpDelete, Model: entity.ModelMember, ID: "m1"},
	}}, sync.KindMutation)

	require.NoError(t, err)
	require.Len(t, res.Cascaded, 1)
	assert.Equal(t, "b1", res.Cascaded[0].ID)
}

func TestService_Pull_Validation(t *testing.T) {
	svc, _ := newService(memory.NewBatchRepository())

	_, err := svc.Pull(context.Background(), sync.DeltaRequest{Models: []entity.Model{"invoice"}})
	assert.ErrorIs(t, err, sync.ErrInvalidDelta)

	_, err = svc.Pull(context.Background(), sync.DeltaRequest{Limit: sync.MaxDeltaLimit + 1})
	assert.ErrorIs(t, err, sync.ErrInvalidDelta)

	resp, err := svc.Pull(context.Background(), sync.DeltaRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Items)
}
