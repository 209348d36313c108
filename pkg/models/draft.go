package models

import (
	"encoding/json"
	"time"
)

// DraftAction is the kind of change a draft stages against the canonical store
type DraftAction string

const (
	ActionCreate DraftAction = "CREATE"
	ActionUpdate DraftAction = "UPDATE"
	ActionDelete DraftAction = "DELETE"
)

// DraftStatus is a draft's position in the review workflow
type DraftStatus string

const (
	StatusCreated             DraftStatus = "CREATED"
	StatusInProgress          DraftStatus = "IN_PROGRESS"
	StatusAwaitingReview      DraftStatus = "AWAITING_REVIEW"
	StatusInReview            DraftStatus = "IN_REVIEW"
	StatusAwaitingAdminReview DraftStatus = "AWAITING_ADMIN_REVIEW"
	StatusInAdminReview       DraftStatus = "IN_ADMIN_REVIEW"
	StatusPublished           DraftStatus = "PUBLISHED"
	StatusInTrash             DraftStatus = "IN_TRASH"
)

// IsTerminal reports whether no further transitions are allowed.
// PUBLISHED is the only fully terminal status; trashed drafts can still be untrashed.
func (s DraftStatus) IsTerminal() bool {
	return s == StatusPublished
}

// WorkingStatuses are the states a draft can occupy while it is still being
// edited or reviewed (everything except PUBLISHED and IN_TRASH).
var WorkingStatuses = []DraftStatus{
	StatusCreated,
	StatusInProgress,
	StatusAwaitingReview,
	StatusInReview,
	StatusAwaitingAdminReview,
	StatusInAdminReview,
}

// Draft represents a staged create/update/delete against a canonical entity.
// Field order matches schema: id, tenant_id, target_type, target_id, action, status, ...
type Draft struct {
	ID         string      `json:"id" db:"id"`
	TenantID   string      `json:"tenant_id" db:"tenant_id"`
	TargetType string      `json:"target_type" db:"target_type"`
	TargetID   string      `json:"target_id" db:"target_id"`
	Action     DraftAction `json:"action" db:"action"`
	Status     DraftStatus `json:"status" db:"status"`

	// PreviousStatus is populated while the draft sits in IN_TRASH so untrash
	// can restore the pre-trash state.
	PreviousStatus *DraftStatus `json:"previous_status,omitempty" db:"previous_status"`

	// Payload is a sparse field map: only the fields this draft changes.
	Payload json.RawMessage `json:"payload" db:"payload"`
	// Baseline snapshots the prior value of every field touched by Payload,
	// captured at creation time and again at trash time.
	Baseline json.RawMessage `json:"baseline,omitempty" db:"baseline"`

	Author    string    `json:"author" db:"author"`
	ClaimedBy *string   `json:"claimed_by,omitempty" db:"claimed_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PayloadMap decodes the sparse payload into a field map
func (d *Draft) PayloadMap() (map[string]any, error) {
	fields := map[string]any{}
	if len(d.Payload) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(d.Payload, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Actor identifies the user performing an operation, with their permission tier
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// IsAdmin reports whether the actor holds the admin tier
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// TransitionResult is the structured outcome of a workflow transition attempt.
// Guard failures (wrong status, insufficient role) are reported here with
// Success=false rather than as errors, so batch callers can branch on them.
type TransitionResult struct {
	Success bool        `json:"success"`
	Status  DraftStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// DraftStatusUpdate describes a compare-and-swap status change applied by the
// workflow engine. ExpectStatus guards against concurrent transitions; the
// optional Set* flags carry the side effects of claim/trash/untrash.
type DraftStatusUpdate struct {
	Status       DraftStatus
	ExpectStatus []DraftStatus

	SetClaimedBy      bool
	ClaimedBy         *string
	SetPreviousStatus bool
	PreviousStatus    *DraftStatus
	SetPayload        bool
	Payload           json.RawMessage
	SetBaseline       bool
	Baseline          json.RawMessage
}

// CreateDraftRequest is the request body for opening a draft
type CreateDraftRequest struct {
	TargetType string         `json:"target_type" validate:"required"`
	TargetID   string         `json:"target_id,omitempty"`
	Action     DraftAction    `json:"action" validate:"required,oneof=CREATE UPDATE DELETE"`
	Payload    map[string]any `json:"payload" validate:"required"`
}

// MutateDraftRequest is the request body for editing a draft's payload
type MutateDraftRequest struct {
	Updates map[string]any `json:"updates" validate:"required"`
}

// TransitionRequest is the request body for workflow transitions
type TransitionRequest struct {
	Notes string `json:"notes,omitempty"`
}

// DraftQuery holds Draft Store query filters
type DraftQuery struct {
	TargetType *string      `json:"target_type,omitempty"`
	TargetID   *string      `json:"target_id,omitempty"`
	Status     *DraftStatus `json:"status,omitempty"`
	Action     *DraftAction `json:"action,omitempty"`
	Author     *string      `json:"author,omitempty"`
	// Search does a free-text match over payload values
	Search   string `json:"search,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

// DraftListResponse is the response for listing drafts
type DraftListResponse struct {
	Items      []Draft `json:"items"`
	TotalCount int     `json:"total_count"`
	Page       int     `json:"page"`
	PageSize   int     `json:"page_size"`
}

// LineageResponse is the response for draft lineage lookups
type LineageResponse struct {
	Draft       Draft   `json:"draft"`
	Ancestors   []Draft `json:"ancestors"`
	Descendants []Draft `json:"descendants"`
}
