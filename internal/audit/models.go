// Package audit captures security-relevant admission decisions. Events are
// write-only from the core's perspective: they are emitted to an external
// collector (Kafka or logs) and never read back.
package audit

import "time"

// EventType names a security-relevant decision.
type EventType string

const (
	EventRateLimitExceeded    EventType = "rate_limit_exceeded"
	EventDDoSBlockTriggered   EventType = "ddos_block_triggered"
	EventDDoSBlockedRequest   EventType = "ddos_blocked_request"
	EventKeyRateLimitExceeded EventType = "api_key_rate_limit_exceeded"
	EventKeyIssued            EventType = "api_key_issued"
	EventAuthFailed           EventType = "api_key_auth_failed"
	EventPermissionDenied     EventType = "api_key_permission_denied"
	EventCrossTenantViolation EventType = "cross_tenant_violation"
	EventTenantUpdated        EventType = "municipality_updated"
	EventDataExport           EventType = "gdpr_data_export"
	EventDataDeletion         EventType = "gdpr_data_deletion"
)

// Event is the record emitted on every security-relevant decision.
type Event struct {
	ID             string            `json:"id"`
	Type           EventType         `json:"type"`
	MunicipalityID string            `json:"municipality_id,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	RequestID      string            `json:"request_id,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
}
