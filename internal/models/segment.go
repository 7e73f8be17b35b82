package models

import "time"

// Segment is an accepted run of the enrolled speaker's words. Offsets are
// relative to the original chunk audio. Segments are append-only facts: a
// chunk produces its segment set exactly once.
type Segment struct {
	ID            uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ChunkID       string    `gorm:"column:chunk_id;type:uuid;index" json:"chunk_id"`
	SpeakerLabel  string    `gorm:"column:speaker_label;type:text" json:"speaker_label"`
	StartMS       int64     `gorm:"column:start_ms" json:"start_ms"`
	EndMS         int64     `gorm:"column:end_ms" json:"end_ms"`
	Text          string    `gorm:"column:text;type:text" json:"text"`
	AvgConfidence float64   `gorm:"column:avg_confidence" json:"avg_confidence"`
	CreatedAt     time.Time `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
}

func (Segment) TableName() string { return "segments" }
