package types

import "time"

// TopicConfiguration is the persistent binding of a raw source topic to the
// UNS tree. Topic is unique across all configurations.
type TopicConfiguration struct {
	ID          string            `json:"id"`
	Topic       string            `json:"topic"`
	SourceType  string            `json:"source_type,omitempty"`
	Active      bool              `json:"active"`
	NSPath      string            `json:"ns_path,omitempty"` // bound UNS node; empty = unmapped
	DisplayName string            `json:"display_name,omitempty"`
	Description string            `json:"description,omitempty"`
	VerifiedBy  string            `json:"verified_by,omitempty"`
	VerifiedAt  *time.Time        `json:"verified_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ModifiedAt  time.Time         `json:"modified_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// TopicInfo is the topic-browser projection row: topic plus its current
// binding and last-seen state. Derived state, never the source of truth.
type TopicInfo struct {
	Topic             string     `json:"topic"`
	NSPath            string     `json:"ns_path,omitempty"`
	DisplayName       string     `json:"display_name,omitempty"`
	Description       string     `json:"description,omitempty"`
	SourceSystem      string     `json:"source_system,omitempty"`
	Active            bool       `json:"active"`
	Configured        bool       `json:"configured"` // false for wire-discovered topics
	LastDataTimestamp *time.Time `json:"last_data_timestamp,omitempty"`
	FirstSeen         time.Time  `json:"first_seen"`
}

// ConnectorKind discriminates connector configuration variants.
// Persisted as serviceType.
type ConnectorKind string

const (
	ConnectorMqttInput   ConnectorKind = "MqttInput"
	ConnectorMqttOutput  ConnectorKind = "MqttOutput"
	ConnectorSocketInput ConnectorKind = "SocketInput"
	ConnectorOpcUaInput  ConnectorKind = "OpcUaInput"
	ConnectorNatsInput   ConnectorKind = "NatsInput"
)

// ConnectorConfig is the tagged-variant configuration for a southbound
// connector. Known fields are explicit; unknown fields ride along in
// Metadata for forward compatibility.
type ConnectorConfig struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Kind     ConnectorKind     `json:"serviceType"`
	Enabled  bool              `json:"enabled"`
	Address  string            `json:"address,omitempty"` // broker URL or listen address
	Subject  string            `json:"subject,omitempty"` // subscription subject/topic filter
	Metadata map[string]string `json:"metadata,omitempty"`
}
