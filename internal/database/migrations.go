package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/forum"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/scrape"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationStripImageSessionIDs = "2026-10-01_strip_image_session_ids"

const migrationBatchSize = 500

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationStripImageSessionIDs, apply: stripImageSessionIDs},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// stripImageSessionIDs rewrites stored image URLs that still carry a session
// id so they match what the image policy stores today.
func stripImageSessionIDs(db *gorm.DB) error {
	var images []forum.Image
	return db.Where("LOWER(url) LIKE ?", "%phpsessid%").
		FindInBatches(&images, migrationBatchSize, func(tx *gorm.DB, _ int) error {
			for _, image := range images {
				cleaned, ok := scrape.FilterImageURL(image.URL)
				if !ok || cleaned == image.URL {
					continue
				}
				if err := tx.Model(&forum.Image{}).Where("id = ?", image.ID).Update("url", cleaned).Error; err != nil {
					return err
				}
			}
			return nil
		}).Error
}
