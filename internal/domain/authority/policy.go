package authority

import (
	"fmt"
	"io"
	"os"

	"portalsync/internal/domain/entity"

	"gopkg.in/yaml.v3"
)

// ModelPolicy maps fields of one model to their owning system. Fields not
// listed belong to Default.
type ModelPolicy struct {
	Default entity.Origin            `yaml:"default"`
	Fields  map[string]entity.Origin `yaml:"fields"`
}

// Policy is the per-model field ownership table.
type Policy struct {
	Models map[entity.Model]ModelPolicy `yaml:"models"`
}

var (
	memberIdentity = []string{
		"first_name", "last_name", "middle_name", "birthdate", "gender",
		"t_number", "deceased", "deceased_date", "band", "community",
	}
	memberStatus = []string{
		"activated", "activation_status", "onboarding_step", "portal_notes",
	}
)

// DefaultPolicy is the built-in ownership table.
func DefaultPolicy() Policy {
	member := ModelPolicy{Default: entity.OriginMaster, Fields: map[string]entity.Origin{}}
	for _, f := range memberIdentity {
		member.Fields[f] = entity.OriginMaster
	}
	for _, f := range memberStatus {
		member.Fields[f] = entity.OriginPortal
	}

	return Policy{Models: map[entity.Model]ModelPolicy{
		entity.ModelMember:         member,
		entity.ModelProfile:        {Default: entity.OriginPortal},
		entity.ModelFamilyInfo:     {Default: entity.OriginPortal},
		entity.ModelBarcode:        {Default: entity.OriginMaster},
		entity.ModelFormDefinition: {Default: entity.OriginExternalComm},
		entity.ModelFormSubmission: {Default: entity.OriginPortal},
		entity.ModelBulletin:       {Default: entity.OriginExternalComm},
	}}
}

// LoadPolicy reads a YAML override file and layers it over DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return Policy{}, fmt.Errorf("open authority policy: %w", err)
	}
	defer f.Close()

	return ParsePolicy(f)
}

// ParsePolicy decodes YAML of the form
//
//	models:
//	  member:
//	    default: MASTER
//	    fields:
//	      activated: PORTAL
//
// Each model named in the document replaces the built-in entry for that model.
func ParsePolicy(r io.Reader) (Policy, error) {
	var override Policy
	if err := yaml.NewDecoder(r).Decode(&override); err != nil && err != io.EOF {
		return Policy{}, fmt.Errorf("decode authority policy: %w", err)
	}

	p := DefaultPolicy()
	for model, mp := range override.Models {
		if !model.Valid() {
			return Policy{}, fmt.Errorf("authority policy: unknown model %q", model)
		}
		if !mp.Default.Valid() {
			return Policy{}, fmt.Errorf("authority policy: model %s: invalid default %q", model, mp.Default)
		}
		for field, owner := range mp.Fields {
			if !owner.Valid() {
				return Policy{}, fmt.Errorf("authority policy: %s.%s: invalid owner %q", model, field, owner)
			}
		}
		p.Models[model] = mp
	}

	return p, nil
}
