package authority

import (
	"sort"

	"portalsync/internal/domain/entity"
)

// Resolver decides which origin may write which field.
type Resolver struct {
	policy Policy
}

func NewResolver(p Policy) *Resolver {
	return &Resolver{policy: p}
}

// Owner returns the system of record for model.field. Unknown models have no
// owner and reject every write.
func (r *Resolver) Owner(model entity.Model, field string) (entity.Origin, bool) {
	mp, ok := r.policy.Models[model]
	if !ok {
		return "", false
	}
	if owner, ok := mp.Fields[field]; ok {
		return owner, true
	}
	return mp.Default, true
}

// FilterWritableFields keeps the payload fields origin is authoritative for
// and reports the rest, sorted. It never fails; it only narrows. The store
// managed fields are always dropped.
func (r *Resolver) FilterWritableFields(model entity.Model, origin entity.Origin, payload map[string]any) (map[string]any, []string) {
	filtered := make(map[string]any, len(payload))
	var dropped []string

	for field, value := range payload {
		switch field {
		case entity.FieldID, entity.FieldCreated, entity.FieldUpdated:
			dropped = append(dropped, field)
			continue
		}

		owner, ok := r.Owner(model, field)
		if !ok || owner != origin {
			dropped = append(dropped, field)
			continue
		}
		filtered[field] = value
	}

	sort.Strings(dropped)
	return filtered, dropped
}

// CanCreate reports whether origin is the system of record for model as a
// whole. Only that system may create or delete rows of the model.
func (r *Resolver) CanCreate(model entity.Model, origin entity.Origin) bool {
	mp, ok := r.policy.Models[model]
	return ok && mp.Default == origin
}
