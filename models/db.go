package models

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"StoryReel-server/config"
)

var GormDB *gorm.DB

// InitDB opens the MySQL pool, wraps it with gorm and, when configured,
// migrates the schema. The handle is also kept in GormDB.
func InitDB(cfg config.MySQLConfig, logger *zap.Logger) (*gorm.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: db}), &gorm.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init gorm: %w", err)
	}

	if cfg.AutoMigrate {
		if err := Migrate(gdb); err != nil {
			return nil, err
		}
		n, err := MigrateScenePositions(context.Background(), gdb)
		if err != nil {
			return nil, fmt.Errorf("migrate scene positions: %w", err)
		}
		if n > 0 {
			logger.Info("scene positions migrated", zap.Int("scenes", n))
		}
	}

	logger.Info("database connected")
	GormDB = gdb
	return gdb, nil
}

// Migrate creates or updates the tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Storyboard{}, &Scene{}, &GenerationTask{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
