package kafka

import (
	"encoding/json"
	"time"
)

// Sync request types understood by the background jobs
const (
	SyncTypeKeywords = "sync.keywords"
	SyncTypeDOI      = "sync.doi"
)

// SyncRequest asks a reconciliation job to run. External schedulers drop
// these on the sync topic instead of calling the API.
type SyncRequest struct {
	Type      string    `json:"type"`
	TenantID  string    `json:"tenant_id"`
	Scheme    string    `json:"scheme,omitempty"`   // keyword scheme for taxonomy sync
	Provider  string    `json:"provider,omitempty"` // metadata provider for DOI matching
	Timestamp time.Time `json:"timestamp"`
}

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Trace context (extracted from Kafka headers)
	TraceParent string
	TraceState  string

	// Parsed content
	SyncRequest *SyncRequest
}

// ParseSyncRequest parses the message value as a sync request
func (m *IncomingMessage) ParseSyncRequest() error {
	var req SyncRequest
	if err := json.Unmarshal(m.Value, &req); err != nil {
		return err
	}
	m.SyncRequest = &req
	return nil
}

// GetTenantID returns the tenant ID from the message body, falling back to
// the tenant_id header
func (m *IncomingMessage) GetTenantID() string {
	if m.SyncRequest != nil && m.SyncRequest.TenantID != "" {
		return m.SyncRequest.TenantID
	}
	return m.Headers["tenant_id"]
}

// GetType returns the request type from the message body, falling back to
// the type header
func (m *IncomingMessage) GetType() string {
	if m.SyncRequest != nil && m.SyncRequest.Type != "" {
		return m.SyncRequest.Type
	}
	return m.Headers["type"]
}
