package users

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store loads the full account directory on startup and persists mutations
// write-through.
type Store interface {
	LoadUsers() ([]User, error)
	SaveUser(User) error
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore adapts a gorm handle to the directory Store contract.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) LoadUsers() ([]User, error) {
	var records []User
	if err := s.db.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *gormStore) SaveUser(record User) error {
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error
}
