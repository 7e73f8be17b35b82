package models

import "time"

// Enrollment is a user's voice-sample anchor. The newest enrollment is the
// one used when a chunk is submitted; chunks keep a snapshot of the anchor
// they were built with, so superseding an enrollment never rewrites history.
type Enrollment struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID       string    `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	AudioRef     string    `gorm:"column:audio_ref;type:text" json:"audio_ref"`
	DurationMS   int64     `gorm:"column:duration_ms" json:"duration_ms"`
	PhraseText   *string   `gorm:"column:phrase_text;type:text" json:"phrase_text,omitempty"`
	EditDistance *int      `gorm:"column:edit_distance" json:"edit_distance,omitempty"`
	Active       bool      `gorm:"column:active;default:true" json:"active"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
}

func (Enrollment) TableName() string { return "enrollments" }
