package relay

import "time"

// State is where a submission is in its delivery lifecycle.
type State string

const (
	StateCreated    State = "CREATED"
	StateAttempting State = "ATTEMPTING"
	StateDelivered  State = "DELIVERED"
	StateFailed     State = "FAILED"
)

// Submission is one form submission and its relay ledger entry. Ledger rows
// are never deleted.
type Submission struct {
	ID            string
	FormID        string
	MemberID      string
	Responses     map[string]any
	State         State
	SyncedToTCN   bool
	SyncAttempts  int
	LastSyncError *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeliveredAt   *time.Time
}

// Submitter is contact data resolved from the member and profile records.
type Submitter struct {
	MemberID  string `json:"memberId"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	TNumber   string `json:"tNumber,omitempty"`
}

// Payload is the normalized body pushed to the webhook and returned by the
// reconciliation pull.
type Payload struct {
	SubmissionID string         `json:"submissionId"`
	FormID       string         `json:"formId"`
	FormTitle    string         `json:"formTitle,omitempty"`
	Submitter    Submitter      `json:"submitter"`
	Responses    map[string]any `json:"responses"`
	SubmittedAt  time.Time      `json:"submittedAt"`
}

// ListFilter narrows the ledger listing. Zero values do not filter.
type ListFilter struct {
	FormID string
	Since  time.Time
	State  State
	Limit  int
}
