package sync

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"portalsync/internal/domain/entity"
)

// Cursor is the position of the last delivered row in the change stream
// ordered by (updated, model, id). The next page starts strictly after it.
type Cursor struct {
	After time.Time
	Model entity.Model
	ID    string
}

type cursorWire struct {
	T string `json:"t"`
	M string `json:"m"`
	I string `json:"i"`
}

func EncodeCursor(c Cursor) string {
	raw, _ := json.Marshal(cursorWire{
		T: c.After.UTC().Format(time.RFC3339Nano),
		M: string(c.Model),
		I: c.ID,
	})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: not base64url", ErrInvalidCursor)
	}

	var wire cursorWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed", ErrInvalidCursor)
	}
	t, err := time.Parse(time.RFC3339Nano, wire.T)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed", ErrInvalidCursor)
	}
	m, err := entity.ParseModel(wire.M)
	if err != nil || wire.I == "" {
		return Cursor{}, fmt.Errorf("%w: malformed", ErrInvalidCursor)
	}

	return Cursor{After: t, Model: m, ID: wire.I}, nil
}

// CursorOf is the position of rec.
func CursorOf(rec *entity.Record) Cursor {
	return Cursor{After: rec.Updated, Model: rec.Model, ID: rec.ID}
}
