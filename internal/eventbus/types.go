package eventbus

import (
	"time"

	"github.com/fabriclabs/unshub/internal/types"
)

// EventType identifies an event flowing through the bus. The set is closed:
// subsystems communicate only through these types.
type EventType string

const (
	// Topic lifecycle events.
	EventTopicAdded                EventType = "TopicAdded"
	EventTopicDataUpdated          EventType = "TopicDataUpdated"
	EventTopicVerified             EventType = "TopicVerified"
	EventTopicConfigurationUpdated EventType = "TopicConfigurationUpdated"
	EventBulkTopicsAdded           EventType = "BulkTopicsAdded"
	EventTopicDiscovery            EventType = "TopicDiscovery"

	// Namespace events.
	EventNamespaceStructureChanged EventType = "NamespaceStructureChanged"
	EventTopicAutoMapped           EventType = "TopicAutoMapped"
	EventTopicAutoMappingFailed    EventType = "TopicAutoMappingFailed"

	// Connector ingress.
	EventConnectionDataReceived EventType = "ConnectionDataReceived"
)

// AllEventTypes lists every event type the bus carries.
var AllEventTypes = []EventType{
	EventTopicAdded,
	EventTopicDataUpdated,
	EventTopicVerified,
	EventTopicConfigurationUpdated,
	EventBulkTopicsAdded,
	EventTopicDiscovery,
	EventNamespaceStructureChanged,
	EventTopicAutoMapped,
	EventTopicAutoMappingFailed,
	EventConnectionDataReceived,
}

// Event is a single event on the bus. Fields beyond ID/Type/Timestamp are
// populated based on Type; unused fields stay zero.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Topic  string   `json:"topic,omitempty"`
	Topics []string `json:"topics,omitempty"` // TopicDiscovery, BulkTopicsAdded

	DataPoint *types.DataPoint `json:"data_point,omitempty"` // TopicDataUpdated

	NSPath     string  `json:"ns_path,omitempty"`    // TopicAutoMapped
	Confidence float64 `json:"confidence,omitempty"` // TopicAutoMapped
	Reason     string  `json:"reason,omitempty"`     // TopicAutoMappingFailed

	// ConnectionDataReceived payload.
	Value        any               `json:"value,omitempty"`
	Quality      types.Quality     `json:"quality,omitempty"`
	ConnectionID string            `json:"connection_id,omitempty"`
	SourceSystem string            `json:"source_system,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	VerifiedBy string `json:"verified_by,omitempty"` // TopicVerified
}

// IsTopicEvent reports whether the event type belongs to the topic
// lifecycle category.
func (t EventType) IsTopicEvent() bool {
	switch t {
	case EventTopicAdded, EventTopicDataUpdated, EventTopicVerified,
		EventTopicConfigurationUpdated, EventBulkTopicsAdded, EventTopicDiscovery:
		return true
	}
	return false
}

// IsMappingEvent reports whether the event type belongs to the namespace
// mapping category.
func (t EventType) IsMappingEvent() bool {
	switch t {
	case EventNamespaceStructureChanged, EventTopicAutoMapped, EventTopicAutoMappingFailed:
		return true
	}
	return false
}
