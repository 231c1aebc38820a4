package models

import "time"

// Storyboard lifecycle.
const (
	StoryboardStatusDraft         = "draft"
	StoryboardStatusGenerating    = "generating"
	StoryboardStatusVideosReady   = "videos_ready" // every scene has a durable clip
	StoryboardStatusConcatenating = "concatenating"
	StoryboardStatusCompleted     = "completed"
	StoryboardStatusFailed        = "failed"
)

type Storyboard struct {
	ID              string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title           string    `json:"title"`
	SourceImageURL  string    `gorm:"type:text" json:"sourceImageUrl"`
	Provider        string    `gorm:"type:varchar(32)" json:"provider"`
	AspectRatio     string    `gorm:"type:varchar(16)" json:"aspectRatio"`
	DurationSeconds int       `json:"durationSeconds"`
	AudioURL        string    `gorm:"type:text" json:"audioUrl,omitempty"`
	Status          string    `gorm:"type:varchar(32);index" json:"status"`
	Progress        int       `json:"progress"`
	FinalVideoURL   string    `gorm:"type:text" json:"finalVideoUrl,omitempty"`
	Error           string    `gorm:"type:text" json:"error,omitempty"`
	ErrorKind       string    `gorm:"type:varchar(32)" json:"errorKind,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (Storyboard) TableName() string {
	return "storyboard"
}
