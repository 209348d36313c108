package models

import (
	"encoding/json"
	"time"
)

// EntityType defines the schema for a curated entity kind (e.g. campaign, platform)
type EntityType struct {
	ID          string          `json:"id" db:"id"`
	TenantID    string          `json:"tenant_id" db:"tenant_id"`
	Key         string          `json:"key" db:"key" validate:"required,alphanum"`
	Name        string          `json:"name" db:"name" validate:"required"`
	Description string          `json:"description,omitempty" db:"description"`
	Schema      json.RawMessage `json:"schema" db:"schema"`
	Version     int             `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
}

// ParseSchema decodes the stored schema descriptor
func (et *EntityType) ParseSchema() (*EntityTypeSchema, error) {
	var schema EntityTypeSchema
	if err := json.Unmarshal(et.Schema, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

// EntityTypeSchema is the descriptor drafts are validated against
type EntityTypeSchema struct {
	Properties map[string]PropertyDefinition `json:"properties"`
	Required   []string                      `json:"required,omitempty"`

	// IdentityField names the property that identifies a record of this type
	// to humans (e.g. short_name). Used by reconciliation jobs to look up
	// existing targets.
	IdentityField string `json:"identity_field,omitempty"`
}

// PropertyDefinition defines a single property in the entity schema
type PropertyDefinition struct {
	Type        string `json:"type"`             // string, number, boolean, array, object
	Format      string `json:"format,omitempty"` // email, date, uuid, etc.
	Description string `json:"description,omitempty"`
	// Reference marks the property as holding another entity's id; the
	// lineage resolver scans these when deriving draft dependencies.
	Reference  bool                          `json:"reference,omitempty"`
	Items      *PropertyDefinition           `json:"items,omitempty"`
	Properties map[string]PropertyDefinition `json:"properties,omitempty"`
}

// FieldNames returns the set of property names that belong to this schema
func (s *EntityTypeSchema) FieldNames() map[string]bool {
	fields := make(map[string]bool, len(s.Properties))
	for name := range s.Properties {
		fields[name] = true
	}
	return fields
}

// CreateEntityTypeRequest is the request body for registering an entity type
type CreateEntityTypeRequest struct {
	Key         string          `json:"key" validate:"required,alphanum"`
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema" validate:"required"`
}

// UpdateEntityTypeRequest is the request body for updating an entity type
type UpdateEntityTypeRequest struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Schema      *json.RawMessage `json:"schema,omitempty"` // Updating schema increments version
}

// EntityTypeResponse is the API response for entity type operations
type EntityTypeResponse struct {
	EntityType
}

// EntityTypeListResponse is the API response for listing entity types
type EntityTypeListResponse struct {
	Items      []EntityType `json:"items"`
	TotalCount int          `json:"total_count"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
}
