package sync

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"portalsync/internal/domain/entity"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://portalsync.local/schemas/"

// Codec validates inbound envelopes. It is safe for concurrent use.
type Codec struct {
	schemas map[entity.Model]*jsonschema.Schema
}

// NewCodec compiles the per-model data schemas.
func NewCodec() (*Codec, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	codec := &Codec{schemas: make(map[entity.Model]*jsonschema.Schema)}

	for _, model := range entity.Models() {
		raw, err := schemaFS.ReadFile("schemas/" + string(model) + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", model, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", model, err)
		}
		url := schemaBaseURL + string(model) + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", model, err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", model, err)
		}
		codec.schemas[model] = sch
	}

	return codec, nil
}

// MustCodec is NewCodec for process start-up and tests.
func MustCodec() *Codec {
	c, err := NewCodec()
	if err != nil {
		panic(err)
	}
	return c
}

// ValidateBatch checks the whole envelope before anything is applied. The
// first problem found is returned wrapped in ErrInvalidBatch.
func (c *Codec) ValidateBatch(b *Batch, kind BatchKind) error {
	if b == nil {
		return fmt.Errorf("%w: empty body", ErrInvalidBatch)
	}
	if !b.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidBatch, b.Source)
	}
	if len(b.Items) == 0 {
		return fmt.Errorf("%w: items must not be empty", ErrInvalidBatch)
	}
	if limit := kind.MaxItems(); len(b.Items) > limit {
		return fmt.Errorf("%w: %d items exceeds the %s batch limit of %d", ErrInvalidBatch, len(b.Items), kind, limit)
	}

	for i := range b.Items {
		if err := c.validateItem(&b.Items[i], kind); err != nil {
			return fmt.Errorf("%w: items[%d]: %s", ErrInvalidBatch, i, err.Error())
		}
	}
	return nil
}

func (c *Codec) validateItem(it *Item, kind BatchKind) error {
	if !it.Operation.Valid() {
		return fmt.Errorf("unknown operation %q", it.Operation)
	}
	if !it.Model.Valid() {
		return fmt.Errorf("unknown model %q", it.Model)
	}
	if kind == KindBulletin && it.Model != entity.ModelBulletin {
		return fmt.Errorf("model %q not allowed in a bulletin batch", it.Model)
	}

	it.ID = strings.TrimSpace(it.ID)
	if it.ID == "" {
		// The id may also travel inside data.
		if id, ok := it.Data[entity.FieldID].(string); ok {
			it.ID = strings.TrimSpace(id)
		}
	}
	if (it.Operation == OpUpdate || it.Operation == OpDelete) && it.ID == "" {
		return fmt.Errorf("%s requires an id", it.Operation)
	}

	if it.Operation == OpDelete {
		return nil
	}
	if (it.Operation == OpUpdate || it.Operation == OpUpsert) && len(it.Data) == 0 {
		return fmt.Errorf("%s requires data", it.Operation)
	}
	return c.validateData(it.Model, it.Data)
}

func (c *Codec) validateData(model entity.Model, data map[string]any) error {
	sch, ok := c.schemas[model]
	if !ok {
		return fmt.Errorf("no schema for model %q", model)
	}
	if data == nil {
		data = map[string]any{}
	}

	// Round-trip through the schema library's decoder so numbers are
	// validated as json.Number whatever Go type produced them.
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}

	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("data does not match %s schema: %s", model, flatten(err))
	}
	return nil
}

func flatten(err error) string {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "-"))
		if l != "" && !strings.HasPrefix(l, "jsonschema validation failed") {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return err.Error()
	}
	return strings.Join(out, "; ")
}

// DecodeBatch reads a JSON batch and validates it.
func (c *Codec) DecodeBatch(r io.Reader, kind BatchKind) (*Batch, error) {
	var b Batch
	dec := json.NewDecoder(r)
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	if err := c.ValidateBatch(&b, kind); err != nil {
		return nil, err
	}
	return &b, nil
}

// ParseDeltaQuery builds a DeltaRequest from its query string form.
func ParseDeltaQuery(since, models string, limit int, cursor string) (DeltaRequest, error) {
	req := DeltaRequest{Limit: limit, Cursor: strings.TrimSpace(cursor)}

	if since = strings.TrimSpace(since); since != "" {
		t, err := time.Parse(time.RFC3339Nano, since)
		if err != nil {
			return DeltaRequest{}, fmt.Errorf("%w: since must be an ISO 8601 timestamp", ErrInvalidDelta)
		}
		req.Since = t
	}

	for _, name := range strings.Split(models, ",") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		m, err := entity.ParseModel(name)
		if err != nil {
			return DeltaRequest{}, fmt.Errorf("%w: %v", ErrInvalidDelta, err)
		}
		req.Models = append(req.Models, m)
	}

	if req.Limit < 0 || req.Limit > MaxDeltaLimit {
		return DeltaRequest{}, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidDelta, MaxDeltaLimit)
	}
	if req.Cursor != "" {
		if _, err := DecodeCursor(req.Cursor); err != nil {
			return DeltaRequest{}, err
		}
	}
	return req, nil
}
