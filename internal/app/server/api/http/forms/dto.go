package forms

import (
	"portalsync/internal/app/server/api/http/envelope"
	"portalsync/internal/domain/relay"
)

type submitInput struct {
	FormID string `path:"formId" doc:"Form definition id"`
	Body   relay.SubmitRequest
}

type submitOutput struct {
	Body submitResponse
}

type submitResponse struct {
	envelope.Meta
	relay.SubmitResult
}

type listInput struct {
	FormID string `query:"formId" doc:"Only submissions for this form"`
	Since  string `query:"since" doc:"ISO 8601 lower bound on submission time" example:"2025-01-01T00:00:00Z"`
}

type listOutput struct {
	Body listResponse
}

type listResponse struct {
	envelope.Meta
	Submissions []relay.SubmissionView `json:"submissions"`
	Count       int                    `json:"count"`
}

type ackInput struct {
	ID string `path:"id" doc:"Submission id"`
}

type ackOutput struct {
	Body ackResponse
}

type ackResponse struct {
	envelope.Meta
	Submission relay.SubmissionView `json:"submission"`
}

type retryInput struct {
	Limit int `query:"limit" minimum:"0" maximum:"500" doc:"Maximum submissions to retry, default 50"`
}

type retryOutput struct {
	Body retryResponse
}

type retryResponse struct {
	envelope.Meta
	relay.RetryReport
}
