package models

import "time"

const (
	SceneStatusPending    = "pending"
	SceneStatusGenerating = "generating"
	SceneStatusCompleted  = "completed"
	SceneStatusFailed     = "failed"
)

type Scene struct {
	ID           string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	StoryboardID string `gorm:"type:varchar(64);index:idx_scene_order,priority:1" json:"storyboardId"`
	// Position is the display order, 1-based and unique within a storyboard.
	Position int `gorm:"index:idx_scene_order,priority:2" json:"position"`
	// Number is the user-facing scene number.
	Number        int    `json:"number"`
	ParentSceneID string `gorm:"type:varchar(64)" json:"parentSceneId,omitempty"`

	Prompt          string `gorm:"type:text" json:"prompt"`
	NegativePrompt  string `gorm:"type:text" json:"negativePrompt,omitempty"`
	Camera          string `gorm:"type:varchar(64)" json:"camera,omitempty"`
	ImageURL        string `gorm:"type:text" json:"imageUrl,omitempty"`
	Mode            string `gorm:"type:varchar(16)" json:"mode,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`

	Status    string `gorm:"type:varchar(32)" json:"status"`
	VideoURL  string `gorm:"type:text" json:"videoUrl,omitempty"`
	TaskID    string `gorm:"type:varchar(64)" json:"taskId,omitempty"`
	Error     string `gorm:"type:text" json:"error,omitempty"`
	ErrorKind string `gorm:"type:varchar(32)" json:"errorKind,omitempty"`

	// Legacy ordering keys, read only by MigrateScenePositions.
	Section     int `json:"-"`
	SubPosition int `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Scene) TableName() string {
	return "scene"
}

// IsSubScene reports whether the scene extends a parent's output.
func (s *Scene) IsSubScene() bool {
	return s.ParentSceneID != ""
}
