package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

// EntityTypeGetter interface for fetching entity type schemas
type EntityTypeGetter interface {
	GetByKey(ctx context.Context, tenantID string, key string) (*models.EntityType, error)
}

// ValidationService provides schema validation for entity data
type ValidationService struct {
	entityTypeGetter EntityTypeGetter
	logger           ectologger.Logger
	cache            sync.Map // map[tenantID:entityType:version]*Validator
}

// NewValidationService creates a new validation service
func NewValidationService(getter EntityTypeGetter, logger ectologger.Logger) *ValidationService {
	return &ValidationService{
		entityTypeGetter: getter,
		logger:           logger,
	}
}

// ValidatePayload validates a draft payload against its target type's schema.
// CREATE payloads are validated in full (required fields enforced); UPDATE
// and DELETE payloads are sparse and validated partially. An unregistered
// target type is reported as ErrInvalidTarget.
func (s *ValidationService) ValidatePayload(ctx context.Context, tenantID, targetType string, payload map[string]any, action models.DraftAction) (ValidationResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ValidationService.ValidatePayload")
	defer span.End()

	et, err := s.entityTypeGetter.GetByKey(ctx, tenantID, targetType)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("failed to get entity type: %w", err)
	}
	if et == nil {
		return ValidationResult{}, fmt.Errorf("target type %q is not registered: %w", targetType, models.ErrInvalidTarget)
	}

	// Get or create validator (cached by version)
	validator, err := s.getValidator(tenantID, targetType, et.Version, et.Schema)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("failed to create validator: %w", err)
	}

	var result ValidationResult
	if action == models.ActionCreate {
		result = validator.Validate(payload)
	} else {
		result = validator.ValidatePartial(payload)
	}

	if !result.Valid {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"tenant_id":   tenantID,
			"target_type": targetType,
			"errors":      len(result.Errors),
		}).Debug("draft payload validation failed")
	}

	return result, nil
}

// getValidator returns a cached validator or creates a new one
func (s *ValidationService) getValidator(tenantID, entityType string, version int, schemaJSON json.RawMessage) (*Validator, error) {
	cacheKey := fmt.Sprintf("%s:%s:%d", tenantID, entityType, version)

	if cached, ok := s.cache.Load(cacheKey); ok {
		return cached.(*Validator), nil
	}

	validator, err := NewValidator(schemaJSON)
	if err != nil {
		return nil, err
	}

	s.cache.Store(cacheKey, validator)
	return validator, nil
}

// InvalidateCache invalidates the cache for a specific entity type
func (s *ValidationService) InvalidateCache(tenantID, entityType string) {
	// Delete all versions for this entity type
	s.cache.Range(func(key, value any) bool {
		keyStr := key.(string)
		prefix := fmt.Sprintf("%s:%s:", tenantID, entityType)
		if len(keyStr) >= len(prefix) && keyStr[:len(prefix)] == prefix {
			s.cache.Delete(key)
		}
		return true
	})
}

// GetReferenceFields returns the property names flagged as references for the
// given target type. The lineage resolver scans these payload fields when
// deriving draft dependencies. Returns nil when the type is unknown.
func (s *ValidationService) GetReferenceFields(ctx context.Context, tenantID, targetType string) (map[string]bool, error) {
	ctx, span := tracing.StartSpan(ctx, "ValidationService.GetReferenceFields")
	defer span.End()

	et, err := s.entityTypeGetter.GetByKey(ctx, tenantID, targetType)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity type: %w", err)
	}
	if et == nil {
		return nil, nil
	}

	var schema models.EntityTypeSchema
	if err := json.Unmarshal(et.Schema, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse entity type schema: %w", err)
	}

	refs := make(map[string]bool)
	for name, prop := range schema.Properties {
		if prop.Reference {
			refs[name] = true
		}
	}
	if len(refs) == 0 {
		return nil, nil
	}

	return refs, nil
}

// Service is an alias for ValidationService
type Service = ValidationService

// NewService creates a new validation service (alias for NewValidationService)
func NewService(getter EntityTypeGetter, logger ectologger.Logger) *Service {
	return NewValidationService(getter, logger)
}

