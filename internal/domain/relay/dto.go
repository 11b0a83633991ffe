package relay

import "time"

type SubmitRequest struct {
	MemberID  string         `json:"memberId" minLength:"1" doc:"Submitting member"`
	Responses map[string]any `json:"responses" doc:"Answers keyed by form field name"`
}

type SubmitResult struct {
	SubmissionID  string `json:"submissionId"`
	WebhookSynced bool   `json:"webhookSynced"`
	WebhookError  string `json:"webhookError,omitempty"`
}

// SubmissionView is a reconciliation entry: the normalized payload plus its
// delivery bookkeeping.
type SubmissionView struct {
	Payload
	State         State      `json:"state"`
	SyncedToTCN   bool       `json:"syncedToTcn"`
	SyncAttempts  int        `json:"syncAttempts"`
	LastSyncError string     `json:"lastSyncError,omitempty"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
}

type RetryReport struct {
	Attempted int      `json:"attempted"`
	Delivered int      `json:"delivered"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}
