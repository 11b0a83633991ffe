package forms

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

var apiKeySecurity = []map[string][]string{{"apiKey": {}}}

func (h *Handler) submitOp() huma.Operation {
	return huma.Operation{
		OperationID:   "forms-submit",
		Method:        http.MethodPost,
		Path:          "/api/v1/forms/{formId}/submit",
		Summary:       "Submit a form",
		Description:   "Verifies the member, stores the submission and relays it to the communications system. A failed relay still returns 201 with webhookSynced false.",
		Tags:          []string{"forms"},
		DefaultStatus: http.StatusCreated,
		Security:      apiKeySecurity,
		Middlewares:   h.middleware,
	}
}

func (h *Handler) listOp() huma.Operation {
	return huma.Operation{
		OperationID: "forms-submissions",
		Method:      http.MethodGet,
		Path:        "/api/v1/forms/submissions",
		Summary:     "List submissions for reconciliation",
		Tags:        []string{"forms"},
		Security:    apiKeySecurity,
		Middlewares: h.middleware,
	}
}

func (h *Handler) ackOp() huma.Operation {
	return huma.Operation{
		OperationID: "forms-ack",
		Method:      http.MethodPost,
		Path:        "/api/v1/forms/submissions/{id}/ack",
		Summary:     "Acknowledge a submission",
		Description: "Marks a submission as synced when the communications system pulled it itself.",
		Tags:        []string{"forms"},
		Security:    apiKeySecurity,
		Middlewares: h.middleware,
	}
}

func (h *Handler) retryOp() huma.Operation {
	return huma.Operation{
		OperationID: "forms-retry",
		Method:      http.MethodPost,
		Path:        "/api/v1/forms/relay/retry",
		Summary:     "Retry pending relays",
		Description: "Re-delivers submissions in FAILED state, oldest first.",
		Tags:        []string{"forms"},
		Security:    apiKeySecurity,
		Middlewares: h.middleware,
	}
}
