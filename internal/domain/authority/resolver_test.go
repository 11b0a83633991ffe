package authority

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"portalsync/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_FilterWritableFields(t *testing.T) {
	r := NewResolver(DefaultPolicy())

	tests := []struct {
		name        string
		model       entity.Model
		origin      entity.Origin
		payload     map[string]any
		wantKept    map[string]any
		wantDropped []string
	}{
		{
			name:        "portal cannot set treaty number on member",
			model:       entity.ModelMember,
			origin:      entity.OriginPortal,
			payload:     map[string]any{"t_number": "123", "activated": true, "onboarding_step": 2},
			wantKept:    map[string]any{"activated": true, "onboarding_step": 2},
			wantDropped: []string{"t_number"},
		},
		{
			name:        "master owns identity but not status",
			model:       entity.ModelMember,
			origin:      entity.OriginMaster,
			payload:     map[string]any{"first_name": "Ann", "deceased": false, "activation_status": "active"},
			wantKept:    map[string]any{"first_name": "Ann", "deceased": false},
			wantDropped: []string{"activation_status"},
		},
		{
			name:        "unlisted member field falls back to master",
			model:       entity.ModelMember,
			origin:      entity.OriginMaster,
			payload:     map[string]any{"house_number": "12"},
			wantKept:    map[string]any{"house_number": "12"},
			wantDropped: nil,
		},
		{
			name:        "master cannot write profile contact data",
			model:       entity.ModelProfile,
			origin:      entity.OriginMaster,
			payload:     map[string]any{"email": "a@b.c", "phone": "555"},
			wantKept:    map[string]any{},
			wantDropped: []string{"email", "phone"},
		},
		{
			name:        "portal writes family info",
			model:       entity.ModelFamilyInfo,
			origin:      entity.OriginPortal,
			payload:     map[string]any{"spouse_name": "Bo", "dependents": []any{"C"}},
			wantKept:    map[string]any{"spouse_name": "Bo", "dependents": []any{"C"}},
			wantDropped: nil,
		},
		{
			name:        "form definitions come only from external comm",
			model:       entity.ModelFormDefinition,
			origin:      entity.OriginPortal,
			payload:     map[string]any{"title": "Survey"},
			wantKept:    map[string]any{},
			wantDropped: []string{"title"},
		},
		{
			name:        "store managed fields are never writable",
			model:       entity.ModelBarcode,
			origin:      entity.OriginMaster,
			payload:     map[string]any{"id": "x", "created": "t", "updated": "t", "code": "B1"},
			wantKept:    map[string]any{"code": "B1"},
			wantDropped: []string{"created", "id", "updated"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			kept, dropped := r.FilterWritableFields(tt.model, tt.origin, tt.payload)

			// Assert
			assert.Equal(t, tt.wantKept, kept)
			assert.Equal(t, tt.wantDropped, dropped)
		})
	}
}

func TestResolver_UnknownModelDropsEverything(t *testing.T) {
	r := NewResolver(Policy{Models: map[entity.Model]ModelPolicy{}})

	kept, dropped := r.FilterWritableFields(entity.ModelMember, entity.OriginMaster, map[string]any{"a": 1})

	assert.Empty(t, kept)
	assert.Equal(t, []string{"a"}, dropped)
}

func TestParsePolicy(t *testing.T) {
	t.Run("override replaces one model", func(t *testing.T) {
		doc := `
models:
  barcode:
    default: PORTAL
    fields:
      code: MASTER
`
		p, err := ParsePolicy(strings.NewReader(doc))
		require.NoError(t, err)

		r := NewResolver(p)
		owner, _ := r.Owner(entity.ModelBarcode, "active")
		assert.Equal(t, entity.OriginPortal, owner)
		owner, _ = r.Owner(entity.ModelBarcode, "code")
		assert.Equal(t, entity.OriginMaster, owner)
		owner, _ = r.Owner(entity.ModelMember, "t_number")
		assert.Equal(t, entity.OriginMaster, owner)
	})

	t.Run("empty document keeps defaults", func(t *testing.T) {
		p, err := ParsePolicy(strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, DefaultPolicy(), p)
	})

	t.Run("invalid origin", func(t *testing.T) {
		_, err := ParsePolicy(strings.NewReader("models:\n  profile:\n    default: NOBODY\n"))
		assert.ErrorContains(t, err, "invalid default")
	})

	t.Run("unknown model", func(t *testing.T) {
		_, err := ParsePolicy(strings.NewReader("models:\n  timesheet:\n    default: PORTAL\n"))
		assert.ErrorContains(t, err, "unknown model")
	})
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authority.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  bulletin:\n    default: PORTAL\n"), 0o600))

	p, err := LoadPolicy(path)

	require.NoError(t, err)
	assert.Equal(t, entity.OriginPortal, p.Models[entity.ModelBulletin].Default)

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestResolver_CanCreate(t *testing.T) {
	r := NewResolver(DefaultPolicy())

	assert.True(t, r.CanCreate(entity.ModelMember, entity.OriginMaster))
	assert.False(t, r.CanCreate(entity.ModelMember, entity.OriginPortal))
	assert.True(t, r.CanCreate(entity.ModelProfile, entity.OriginPortal))
	assert.True(t, r.CanCreate(entity.ModelBulletin, entity.OriginExternalComm))
	assert.False(t, r.CanCreate(entity.ModelFormSubmission, entity.OriginExternalComm))
}
