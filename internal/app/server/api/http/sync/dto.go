package sync

import (
	"portalsync/internal/app/server/api/http/envelope"
	"portalsync/internal/domain/sync"
)

type batchInput struct {
	Body sync.Batch
}

type batchOutput struct {
	Body batchResponse
}

type batchResponse struct {
	envelope.Meta
	sync.BatchResult
}

type deltaInput struct {
	Since  string `query:"since" doc:"ISO 8601 lower bound on updated, inclusive" example:"2025-01-01T00:00:00Z"`
	Models string `query:"models" doc:"Comma separated model filter" example:"member,profile"`
	Limit  int    `query:"limit" doc:"Page size, default 100, max 1000"`
	Cursor string `query:"cursor" doc:"Opaque cursor from a previous response; takes precedence over since"`
}

type deltaOutput struct {
	Body deltaResponse
}

type deltaResponse struct {
	envelope.Meta
	sync.DeltaResponse
}
