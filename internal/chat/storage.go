package chat

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Persistence loads the full message log on startup and upserts messages
// write-through.
type Persistence interface {
	LoadMessages() ([]Message, error)
	SaveMessage(Message) error
}

type gormPersistence struct {
	db *gorm.DB
}

// NewGormPersistence adapts a gorm handle to the Persistence contract.
func NewGormPersistence(db *gorm.DB) Persistence {
	return &gormPersistence{db: db}
}

func (p *gormPersistence) LoadMessages() ([]Message, error) {
	var records []Message
	if err := p.db.Order("conversation_id, seq").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (p *gormPersistence) SaveMessage(record Message) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error
}
