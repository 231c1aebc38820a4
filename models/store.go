package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the metadata store. Every write is a partial field update so
// concurrent readers never race a full-row replace.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for migrations.
func (s *Store) DB() *gorm.DB { return s.db }

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// CreateStoryboard inserts sb and its scenes in one transaction. Missing ids
// are generated; missing positions and numbers follow slice order.
func (s *Store) CreateStoryboard(ctx context.Context, sb *Storyboard, scenes []Scene) error {
	if sb.ID == "" {
		sb.ID = uuid.NewString()
	}
	if sb.Status == "" {
		sb.Status = StoryboardStatusDraft
	}
	for i := range scenes {
		sc := &scenes[i]
		if sc.ID == "" {
			sc.ID = uuid.NewString()
		}
		sc.StoryboardID = sb.ID
		if sc.Position == 0 {
			sc.Position = i + 1
		}
		if sc.Number == 0 {
			sc.Number = i + 1
		}
		if sc.Status == "" {
			sc.Status = SceneStatusPending
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sb).Error; err != nil {
			return fmt.Errorf("create storyboard: %w", err)
		}
		if len(scenes) == 0 {
			return nil
		}
		if err := tx.Create(&scenes).Error; err != nil {
			return fmt.Errorf("create scenes: %w", err)
		}
		return nil
	})
}

func (s *Store) GetStoryboard(ctx context.Context, id string) (*Storyboard, error) {
	var sb Storyboard
	if err := s.db.WithContext(ctx).First(&sb, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &sb, nil
}

// ListScenes returns the storyboard's scenes in display order.
func (s *Store) ListScenes(ctx context.Context, storyboardID string) ([]Scene, error) {
	var scenes []Scene
	err := s.db.WithContext(ctx).
		Where("storyboard_id = ?", storyboardID).
		Order("position ASC").Order("id ASC").
		Find(&scenes).Error
	return scenes, err
}

func (s *Store) GetScene(ctx context.Context, id string) (*Scene, error) {
	var sc Scene
	if err := s.db.WithContext(ctx).First(&sc, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &sc, nil
}

func (s *Store) GetSceneByNumber(ctx context.Context, storyboardID string, number int) (*Scene, error) {
	var sc Scene
	err := s.db.WithContext(ctx).
		Where("storyboard_id = ? AND number = ?", storyboardID, number).
		Order("position ASC").
		First(&sc).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &sc, nil
}

func (s *Store) UpdateStoryboard(ctx context.Context, id string, fields map[string]interface{}) error {
	return s.update(ctx, &Storyboard{}, id, fields)
}

func (s *Store) UpdateScene(ctx context.Context, id string, fields map[string]interface{}) error {
	return s.update(ctx, &Scene{}, id, fields)
}

func (s *Store) CreateTask(ctx context.Context, t *GenerationTask) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *Store) GetTask(ctx context.Context, id string) (*GenerationTask, error) {
	var t GenerationTask
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, fields map[string]interface{}) error {
	return s.update(ctx, &GenerationTask{}, id, fields)
}

func (s *Store) update(ctx context.Context, model interface{}, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now()
	}
	return s.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(fields).Error
}
