package sync_test

import (
	"context"
	"testing"

	"portalsync/internal/domain/authority"
	"portalsync/internal/domain/entity"
	"portalsync/internal/domain/sync"
	"portalsync/internal/infrastructure/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func seedBarcode(t *testing.T, repo *memory.RecordRepository, id, memberID string, active bool) {
	t.Helper()
	require.NoError(t, repo.Insert(context.Background(), &entity.Record{
		Model:   entity.ModelBarcode,
		ID:      id,
		Origin:  entity.OriginMaster,
		Fields:  map[string]any{"code": id, "member_id": memberID, "active": active},
		Created: base,
		Updated: base,
	}))
}

func TestParseCascadeMode(t *testing.T) {
	m, err := sync.ParseCascadeMode("")
	require.NoError(t, err)
	assert.Equal(t, sync.CascadeNone, m)

	m, err = sync.ParseCascadeMode("barcodes")
	require.NoError(t, err)
	assert.Equal(t, sync.CascadeBarcodes, m)

	_, err = sync.ParseCascadeMode("everything")
	assert.Error(t, err)
}

func TestCascadePolicy_Run(t *testing.T) {
	tests := []struct {
		name       string
		mode       sync.CascadeMode
		source     entity.Origin
		item       sync.Item
		wantReason string
	}{
		{
			name:       "member delete deactivates barcodes",
			mode:       sync.CascadeBarcodes,
			source:     entity.OriginMaster,
			item:       sync.Item{Operation: sync.OpDelete, Model: entity.ModelMember, ID: "m1"},
			wantReason: "member deleted",
		},
		{
			name:       "deceased member deactivates barcodes",
			mode:       sync.CascadeBarcodes,
			source:     entity.OriginMaster,
			item:       sync.Item{Operation: sync.OpUpdate, Model: entity.ModelMember, ID: "m1", Data: map[string]any{"deceased": true}},
			wantReason: "member deceased",
		},
		{
			name:   "deceased from a non owner is ignored",
			mode:   sync.CascadeBarcodes,
			source: entity.OriginPortal,
			item:   sync.Item{Operation: sync.OpUpdate, Model: entity.ModelMember, ID: "m1", Data: map[string]any{"deceased": true, "activated": true}},
		},
		{
			name:   "cascade off by default",
			mode:   sync.CascadeNone,
			source: entity.OriginMaster,
			item:   sync.Item{Operation: sync.OpDelete, Model: entity.ModelMember, ID: "m1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			ctx := context.Background()
			repo := memory.NewRecordRepository()
			seed(t, repo, entity.ModelMember, "m1", base)
			seedBarcode(t, repo, "b1", "m1", true)
			seedBarcode(t, repo, "b2", "m1", false)
			seedBarcode(t, repo, "b3", "m2", true)

			applier := sync.NewApplier(repo, authority.NewResolver(authority.DefaultPolicy()), slog.Default())
			policy := sync.NewCascadePolicy(tt.mode, repo, slog.Default())
			b := &sync.Batch{Source: tt.source, Items: []sync.Item{tt.item}}
			res := applier.Apply(ctx, b)
			require.Equal(t, 1, res.Processed)

			// Act
			changes := policy.Run(ctx, b, res)

			// Assert
			b1, err := repo.Get(ctx, entity.ModelBarcode, "b1")
			require.NoError(t, err)
			b3, err := repo.Get(ctx, entity.ModelBarcode, "b3")
			require.NoError(t, err)
			assert.True(t, b3.Bool("active"), "other members' barcodes are untouched")

			if tt.wantReason == "" {
				assert.Empty(t, changes)
				assert.True(t, b1.Bool("active"))
				return
			}
			require.Len(t, changes, 1)
			assert.Equal(t, sync.CascadeChange{Model: entity.ModelBarcode, ID: "b1", Reason: tt.wantReason}, changes[0])
			assert.False(t, b1.Bool("active"))
			assert.True(t, b1.Updated.After(base))
		})
	}
}
