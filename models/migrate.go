package models

import (
	"context"
	"sort"

	"gorm.io/gorm"
)

// MigrateScenePositions fills Position for storyboards that still carry
// scenes without one. Affected storyboards are renumbered by the legacy
// composite key (section, sub-position, number) so that runtime reads only
// ever sort by Position. It returns the number of scenes rewritten.
func MigrateScenePositions(ctx context.Context, db *gorm.DB) (int, error) {
	var ids []string
	err := db.WithContext(ctx).Model(&Scene{}).
		Where("position = 0 OR position IS NULL").
		Distinct().Pluck("storyboard_id", &ids).Error
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, id := range ids {
		n, err := renumberScenes(ctx, db, id)
		if err != nil {
			return updated, err
		}
		updated += n
	}
	return updated, nil
}

func renumberScenes(ctx context.Context, db *gorm.DB, storyboardID string) (int, error) {
	updated := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var scenes []Scene
		if err := tx.Where("storyboard_id = ?", storyboardID).Find(&scenes).Error; err != nil {
			return err
		}
		sort.SliceStable(scenes, func(i, j int) bool {
			a, b := scenes[i], scenes[j]
			if a.Section != b.Section {
				return a.Section < b.Section
			}
			if a.SubPosition != b.SubPosition {
				return a.SubPosition < b.SubPosition
			}
			if a.Number != b.Number {
				return a.Number < b.Number
			}
			return a.ID < b.ID
		})
		for i := range scenes {
			pos := i + 1
			if scenes[i].Position == pos {
				continue
			}
			if err := tx.Model(&Scene{}).Where("id = ?", scenes[i].ID).Update("position", pos).Error; err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	return updated, err
}
