package models

// Location is the reverse-geocoded address for a chunk's GPS fix,
// populated by the geocoding collaborator after a successful callback.
type Location struct {
	ID      uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ChunkID string `gorm:"column:chunk_id;type:uuid;uniqueIndex" json:"chunk_id"`
	Address string `gorm:"column:address;type:text" json:"address"`
	Source  string `gorm:"column:source;type:text" json:"source"`
}

func (Location) TableName() string { return "locations" }
