package models

import (
	"encoding/json"
	"time"
)

// CanonicalRecord is a published entity row in the canonical store.
// Records are only ever written by the materializer; deletion is a tombstone.
type CanonicalRecord struct {
	ID         string          `json:"id" db:"id"`
	TenantID   string          `json:"tenant_id" db:"tenant_id"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	Data       json.RawMessage `json:"data" db:"data"`
	Version    int             `json:"version" db:"version"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
}

// DataMap decodes the record's JSONB data into a field map
func (r *CanonicalRecord) DataMap() (map[string]any, error) {
	fields := map[string]any{}
	if len(r.Data) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(r.Data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// CanonicalRecordListResponse is the response for listing canonical records
type CanonicalRecordListResponse struct {
	Items      []CanonicalRecord `json:"items"`
	TotalCount int               `json:"total_count"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
}
