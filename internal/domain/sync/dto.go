package sync

import (
	"time"

	"portalsync/internal/domain/entity"
)

// Item is one operation in a batch.
type Item struct {
	Operation Operation      `json:"operation" enum:"CREATE,UPDATE,DELETE,UPSERT" doc:"Mutation to apply"`
	Model     entity.Model   `json:"model" doc:"Entity type, e.g. member or profile"`
	Data      map[string]any `json:"data,omitempty" doc:"Field values; fields the source does not own are dropped"`
	ID        string         `json:"id,omitempty" doc:"Target id; required for UPDATE and DELETE"`
}

// Batch is an ordered list of items pushed by one system.
type Batch struct {
	SyncID    string        `json:"syncId,omitempty" maxLength:"128" doc:"Idempotency token; a repeated token replays the stored result"`
	Timestamp time.Time     `json:"timestamp" doc:"When the sender assembled the batch"`
	Source    entity.Origin `json:"source" enum:"MASTER,PORTAL,EXTERNAL_COMM" doc:"System the writes originate from"`
	Items     []Item        `json:"items" doc:"Operations, applied in order"`
}

// ItemResult is the outcome of one item, addressed by its index in the batch.
type ItemResult struct {
	Index   int      `json:"index"`
	ID      string   `json:"id,omitempty"`
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Dropped []string `json:"dropped,omitempty" doc:"Fields removed because the source does not own them"`
}

// ItemError repeats a failed item so callers can resend only the failures.
type ItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
	Item  *Item  `json:"item,omitempty"`
}

// CascadeChange is a follow-up write made by the cascade policy.
type CascadeChange struct {
	Model  entity.Model `json:"model"`
	ID     string       `json:"id"`
	Reason string       `json:"reason"`
}

type BatchResult struct {
	SyncID    string          `json:"syncId,omitempty"`
	Processed int             `json:"processed"`
	Failed    int             `json:"failed"`
	Results   []ItemResult    `json:"results"`
	Errors    []ItemError     `json:"errors"`
	Cascaded  []CascadeChange `json:"cascaded,omitempty"`
	Replayed  bool            `json:"replayed,omitempty" doc:"True when the syncId was already applied and nothing was re-run"`
}

// DeltaRequest asks for everything changed at or after Since. A Cursor from a
// previous response takes precedence over Since.
type DeltaRequest struct {
	Since  time.Time
	Models []entity.Model
	Limit  int
	Cursor string
}

// DeltaItem is one changed record. Deleted records carry no data.
type DeltaItem struct {
	Model   entity.Model   `json:"model"`
	ID      string         `json:"id"`
	Origin  entity.Origin  `json:"origin"`
	Data    map[string]any `json:"data,omitempty"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`
	Deleted bool           `json:"deleted,omitempty"`
}

type DeltaResponse struct {
	Items      []DeltaItem `json:"items"`
	NextCursor string      `json:"nextCursor,omitempty"`
	HasMore    bool        `json:"hasMore"`
}
