package models

import "time"

// TimelineEntry is one utterance bubble in the recency-ordered timeline:
// a kept segment joined with its chunk's device/time/location context.
// SegmentID doubles as the pagination cursor.
type TimelineEntry struct {
	SegmentID int64     `json:"segment_id"`
	ChunkID   string    `json:"chunk_id"`
	StartMS   int64     `json:"start_ms"`
	EndMS     int64     `json:"end_ms"`
	Text      string    `json:"text"`
	DeviceID  *string   `json:"device_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Address   *string   `json:"address,omitempty"`
}
