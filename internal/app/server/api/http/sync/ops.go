package sync

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

var apiKeySecurity = []map[string][]string{{"apiKey": {}}}

func (h *Handler) batchOp() huma.Operation {
	return huma.Operation{
		OperationID:  "sync-batch",
		Method:       http.MethodPost,
		Path:         "/api/v1/sync/batch",
		Summary:      "Push a batch of mutations",
		Description:  "Applies up to 1000 CREATE, UPDATE, DELETE or UPSERT items in order. Items fail independently. A repeated syncId returns the stored result.",
		Tags:         []string{"sync"},
		Security:     apiKeySecurity,
		Middlewares:  h.middleware,
		MaxBodyBytes: h.maxBodyBytes,
	}
}

func (h *Handler) bulletinsOp() huma.Operation {
	return huma.Operation{
		OperationID:  "sync-bulletins",
		Method:       http.MethodPost,
		Path:         "/api/v1/sync/bulletins",
		Summary:      "Push a batch of bulletins",
		Description:  "Same contract as the mutation batch, limited to 100 bulletin items.",
		Tags:         []string{"sync"},
		Security:     apiKeySecurity,
		Middlewares:  h.middleware,
		MaxBodyBytes: h.maxBodyBytes,
	}
}

func (h *Handler) deltaOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-delta",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/delta",
		Summary:     "Pull changes",
		Description: "Returns records changed at or after since, ordered by (updated, model, id). Resume with nextCursor while hasMore is true.",
		Tags:        []string{"sync"},
		Security:    apiKeySecurity,
		Middlewares: h.middleware,
	}
}
