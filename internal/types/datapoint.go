package types

import "time"

// Quality grades a measurement, following the usual OPC convention.
type Quality string

const (
	QualityGood      Quality = "good"
	QualityUncertain Quality = "uncertain"
	QualityBad       Quality = "bad"
)

// DataPoint is one time-stamped measurement for one topic. Immutable after
// creation: the pipeline and caches share references but never mutate one.
type DataPoint struct {
	Topic        string            `json:"topic"`
	Value        any               `json:"value"`
	Timestamp    time.Time         `json:"timestamp"` // source time, or ingest time if absent
	SourceSystem string            `json:"source_system,omitempty"`
	Quality      Quality           `json:"quality,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
