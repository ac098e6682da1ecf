package model

import (
	"time"

	"gorm.io/datatypes"
)

// ProgressDoc is the persisted per-user progress document. The engine works
// on in-memory state and writes the full document through the async writer;
// TotalPoints is duplicated as a column so the leaderboard can query it
// without unpacking JSON. The JSON blob is the source for everything else.
type ProgressDoc struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64          `gorm:"uniqueIndex;not null" json:"user_id"`
	TotalPoints int            `gorm:"default:0" json:"total_points"`
	Data        datatypes.JSON `json:"data"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
