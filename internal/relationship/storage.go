package relationship

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store loads all edges on startup and persists mutations write-through.
type Store interface {
	LoadLikes() ([]LikeEdge, error)
	LoadMatches() ([]MatchRecord, error)
	LoadBlocks() ([]BlockEdge, error)
	SaveLike(LikeEdge) error
	SaveMatch(MatchRecord) error
	SaveBlock(BlockEdge) error
	DeleteBlock(blockerID, blockedID string) error
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore adapts a gorm handle to the graph Store contract.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) LoadLikes() ([]LikeEdge, error) {
	var edges []LikeEdge
	if err := s.db.Find(&edges).Error; err != nil {
		return nil, err
	}
	return edges, nil
}

func (s *gormStore) LoadMatches() ([]MatchRecord, error) {
	var records []MatchRecord
	if err := s.db.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *gormStore) LoadBlocks() ([]BlockEdge, error) {
	var edges []BlockEdge
	if err := s.db.Find(&edges).Error; err != nil {
		return nil, err
	}
	return edges, nil
}

func (s *gormStore) SaveLike(edge LikeEdge) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&edge).Error
}

func (s *gormStore) SaveMatch(record MatchRecord) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
}

func (s *gormStore) SaveBlock(edge BlockEdge) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&edge).Error
}

func (s *gormStore) DeleteBlock(blockerID, blockedID string) error {
	return s.db.
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&BlockEdge{}).Error
}
