package models

import (
	"time"

	"gorm.io/datatypes"
)

type ChunkStatus string

const (
	ChunkPending       ChunkStatus = "pending"
	ChunkSucceeded     ChunkStatus = "succeeded"
	ChunkIndeterminate ChunkStatus = "indeterminate"
	ChunkFailed        ChunkStatus = "failed"
)

// Terminal reports whether the chunk has reached an outcome. A terminal
// chunk never changes again; late or duplicate callbacks are no-ops.
func (s ChunkStatus) Terminal() bool { return s != ChunkPending }

// Chunk is one unit of ambient audio submitted for processing. The
// enrollment anchor in use at submission time is captured on the row
// (EnrollmentRef/EnrollmentMS), not looked up live on callback.
type Chunk struct {
	ID       string  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OwnerID  string  `gorm:"column:owner_id;type:uuid;index" json:"owner_id"`
	AudioRef string  `gorm:"column:audio_ref;type:text" json:"audio_ref"`
	DeviceID *string `gorm:"column:device_id;type:text" json:"device_id,omitempty"`

	GPSLat *float64 `gorm:"column:gps_lat" json:"gps_lat,omitempty"`
	GPSLon *float64 `gorm:"column:gps_lon" json:"gps_lon,omitempty"`

	EnrollmentRef string `gorm:"column:enrollment_ref;type:text" json:"enrollment_ref"`
	EnrollmentMS  int64  `gorm:"column:enrollment_ms" json:"enrollment_ms"`

	JobID  *string     `gorm:"column:job_id;type:text;index" json:"job_id,omitempty"`
	Status ChunkStatus `gorm:"column:status;type:text;index" json:"status"`

	// Reason carries the mapper's indeterminate reason or a failure cause.
	Reason       string         `gorm:"column:reason;type:text" json:"reason,omitempty"`
	ProviderMeta datatypes.JSON `gorm:"column:provider_meta;type:jsonb" json:"provider_meta,omitempty"`

	CreatedAt   time.Time  `gorm:"column:created_at;type:timestamptz;index" json:"created_at"`
	CompletedAt *time.Time `gorm:"column:completed_at;type:timestamptz" json:"completed_at,omitempty"`
}

func (Chunk) TableName() string { return "chunks" }
