package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"StoryReel-server/provider"
	"StoryReel-server/task"
)

// GenerationTask persists a task.Task so polling can resume after a restart.
type GenerationTask struct {
	ID           string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	StoryboardID string `gorm:"type:varchar(64);index" json:"storyboardId,omitempty"`
	SceneID      string `gorm:"type:varchar(64);index" json:"sceneId,omitempty"`
	Provider     string `gorm:"type:varchar(32)" json:"provider"`
	// ExternalID is the provider's opaque job handle.
	ExternalID string `gorm:"type:varchar(255)" json:"externalId"`
	Mode       string `gorm:"type:varchar(16)" json:"mode"`
	State      string `gorm:"type:varchar(16);index" json:"state"`
	Progress   int    `json:"progress"`
	ResultURL  string `gorm:"type:text" json:"resultUrl,omitempty"`

	ErrorKind    string  `gorm:"type:varchar(32)" json:"errorKind,omitempty"`
	ErrorMessage string  `gorm:"type:text" json:"errorMessage,omitempty"`
	ErrorDetail  string  `gorm:"type:text" json:"-"`
	Cost         float64 `json:"cost,omitempty"`

	Attempts         int `json:"attempts"`
	PollMisses       int `json:"pollMisses"`
	EmptyCompletions int `json:"emptyCompletions"`

	Request TaskRequest `gorm:"type:json" json:"request"`

	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (GenerationTask) TableName() string {
	return "generation_task"
}

// TaskRequest stores the request as a JSON column.
type TaskRequest provider.GenerationRequest

func (r TaskRequest) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *TaskRequest) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("scan task request: unsupported type %T", value)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, r)
}

// NewGenerationTask mirrors a task snapshot for the given scene.
func NewGenerationTask(t task.Task, storyboardID, sceneID string) *GenerationTask {
	g := &GenerationTask{
		ID:           t.ID,
		StoryboardID: storyboardID,
		SceneID:      sceneID,
		CreatedAt:    t.CreatedAt,
	}
	if t.Request != nil {
		g.Request = TaskRequest(*t.Request)
		g.Mode = string(t.Request.Mode())
	}
	g.apply(t)
	return g
}

func (g *GenerationTask) apply(t task.Task) {
	g.Provider = t.Provider
	g.ExternalID = t.ExternalID
	g.State = string(t.State)
	g.Progress = t.Progress
	g.ResultURL = t.ResultURL
	g.Cost = t.Cost
	g.Attempts = t.Attempts
	g.PollMisses = t.PollMisses
	g.EmptyCompletions = t.EmptyCompletions
	g.ErrorKind = string(t.ErrorKind())
	g.ErrorMessage = t.ErrorMessage()
	if t.Err != nil {
		g.ErrorDetail = t.Err.Detail
	}
	if !t.SubmittedAt.IsZero() {
		at := t.SubmittedAt
		g.SubmittedAt = &at
	}
	if !t.FinishedAt.IsZero() {
		at := t.FinishedAt
		g.FinishedAt = &at
	}
}

// TaskFields is the partial update that brings a stored row in line with t.
func TaskFields(t task.Task) map[string]interface{} {
	var g GenerationTask
	g.apply(t)
	fields := map[string]interface{}{
		"provider":          g.Provider,
		"external_id":       g.ExternalID,
		"state":             g.State,
		"progress":          g.Progress,
		"result_url":        g.ResultURL,
		"cost":              g.Cost,
		"attempts":          g.Attempts,
		"poll_misses":       g.PollMisses,
		"empty_completions": g.EmptyCompletions,
		"error_kind":        g.ErrorKind,
		"error_message":     g.ErrorMessage,
		"error_detail":      g.ErrorDetail,
		"updated_at":        time.Now(),
	}
	if g.SubmittedAt != nil {
		fields["submitted_at"] = *g.SubmittedAt
	}
	if g.FinishedAt != nil {
		fields["finished_at"] = *g.FinishedAt
	}
	return fields
}

// ToTask rebuilds the in-memory task for resuming.
func (g *GenerationTask) ToTask() *task.Task {
	req := provider.GenerationRequest(g.Request)
	t := &task.Task{
		ID:               g.ID,
		Provider:         g.Provider,
		ExternalID:       g.ExternalID,
		State:            task.State(g.State),
		Progress:         g.Progress,
		ResultURL:        g.ResultURL,
		Cost:             g.Cost,
		Attempts:         g.Attempts,
		PollMisses:       g.PollMisses,
		EmptyCompletions: g.EmptyCompletions,
		Request:          &req,
		CreatedAt:        g.CreatedAt,
	}
	if g.ErrorKind != "" {
		t.Err = provider.NewError(g.Provider, provider.Kind(g.ErrorKind), g.ErrorDetail)
	}
	if g.SubmittedAt != nil {
		t.SubmittedAt = *g.SubmittedAt
	}
	if g.FinishedAt != nil {
		t.FinishedAt = *g.FinishedAt
	}
	return t
}
