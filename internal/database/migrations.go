package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/ember/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeAccountEmails = "2026-06-14_normalize_account_emails"

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
		{name: migrationNormalizeAccountEmails, apply: normalizeAccountEmails},
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

// Rows written before login matching became case-insensitive can carry
// mixed-case emails; fold them once so the unique index holds.
func normalizeAccountEmails(db *gorm.DB) error {
	return db.Model(&users.User{}).
		Where("email <> lower(email)").
		Update("email", gorm.Expr("lower(email)")).Error
}
