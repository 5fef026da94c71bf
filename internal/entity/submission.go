package entity

// SubmissionStatus is the terminal state of a bill submission.
type SubmissionStatus string

const (
	SubmissionCreated   SubmissionStatus = "created"
	SubmissionDuplicate SubmissionStatus = "duplicate"
	SubmissionFailed    SubmissionStatus = "failed"
)

// SubmissionResult is what the bill submitter returns to the caller.
// A duplicate is an outcome, not an error: the identifier of the existing
// bill is returned and no write is performed.
type SubmissionResult struct {
	BillID            int64            `json:"bill_id,omitempty"`
	Status            SubmissionStatus `json:"status"`
	Error             string           `json:"error,omitempty"`
	AttachmentWarning string           `json:"attachment_warning,omitempty"`
	NeedsReview       bool             `json:"needs_review"`
	Unresolved        []string         `json:"unresolved,omitempty"`
}
