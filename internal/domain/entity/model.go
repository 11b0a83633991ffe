package entity

import (
	"fmt"
	"maps"
	"time"
)

// Model names a replicated entity type.
type Model string

const (
	ModelMember         Model = "member"
	ModelProfile        Model = "profile"
	ModelBarcode        Model = "barcode"
	ModelFamilyInfo     Model = "family_info"
	ModelFormDefinition Model = "form_definition"
	ModelFormSubmission Model = "form_submission"
	ModelBulletin       Model = "bulletin"
)

// Models lists every known model in a stable order.
func Models() []Model {
	return []Model{
		ModelBarcode,
		ModelBulletin,
		ModelFamilyInfo,
		ModelFormDefinition,
		ModelFormSubmission,
		ModelMember,
		ModelProfile,
	}
}

func (m Model) Valid() bool {
	switch m {
	case ModelMember, ModelProfile, ModelBarcode, ModelFamilyInfo,
		ModelFormDefinition, ModelFormSubmission, ModelBulletin:
		return true
	}
	return false
}

func ParseModel(s string) (Model, error) {
	m := Model(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown model %q", s)
	}
	return m, nil
}

// Origin is the system a write comes from.
type Origin string

const (
	OriginMaster       Origin = "MASTER"
	OriginPortal       Origin = "PORTAL"
	OriginExternalComm Origin = "EXTERNAL_COMM"
)

func (o Origin) Valid() bool {
	switch o {
	case OriginMaster, OriginPortal, OriginExternalComm:
		return true
	}
	return false
}

func ParseOrigin(s string) (Origin, error) {
	o := Origin(s)
	if !o.Valid() {
		return "", fmt.Errorf("unknown source %q", s)
	}
	return o, nil
}

// Field names managed by the store rather than by payloads.
const (
	FieldID      = "id"
	FieldCreated = "created"
	FieldUpdated = "updated"
)

// Record is one stored entity row. A record with DeletedAt set is a tombstone.
type Record struct {
	Model     Model
	ID        string
	Origin    Origin
	Fields    map[string]any
	Created   time.Time
	Updated   time.Time
	DeletedAt *time.Time
}

func (r *Record) Deleted() bool {
	return r.DeletedAt != nil
}

// Clone returns a copy whose field map can be mutated independently.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Fields = maps.Clone(r.Fields)
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// String reads a string field, returning "" when absent or of another type.
func (r *Record) String(field string) string {
	s, _ := r.Fields[field].(string)
	return s
}

// Bool reads a boolean field.
func (r *Record) Bool(field string) bool {
	b, _ := r.Fields[field].(bool)
	return b
}
