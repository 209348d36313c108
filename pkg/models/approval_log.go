package models

import "time"

// ApprovalAction is the kind of event recorded in the approval log
type ApprovalAction string

const (
	ApprovalCreate  ApprovalAction = "CREATE"
	ApprovalEdit    ApprovalAction = "EDIT"
	ApprovalSubmit  ApprovalAction = "SUBMIT"
	ApprovalClaim   ApprovalAction = "CLAIM"
	ApprovalUnclaim ApprovalAction = "UNCLAIM"
	ApprovalReview  ApprovalAction = "REVIEW"
	ApprovalReject  ApprovalAction = "REJECT"
	ApprovalPublish ApprovalAction = "PUBLISH"
	ApprovalTrash   ApprovalAction = "TRASH"
	ApprovalUntrash ApprovalAction = "UNTRASH"
)

// ApprovalLogEntry is an immutable record of a draft mutation or transition.
// Entries are append-only: never updated or deleted once written.
type ApprovalLogEntry struct {
	ID        string         `json:"id" db:"id"`
	TenantID  string         `json:"tenant_id" db:"tenant_id"`
	DraftID   string         `json:"draft_id" db:"draft_id"`
	Actor     string         `json:"actor" db:"actor"`
	Action    ApprovalAction `json:"action" db:"action"`
	Notes     string         `json:"notes,omitempty" db:"notes"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// ApprovalLogListResponse is the response for draft history lookups
type ApprovalLogListResponse struct {
	Items []ApprovalLogEntry `json:"items"`
}
