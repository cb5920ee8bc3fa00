package relationship

import "time"

// LikeEdge is a directed record of one user's interest in another.
// At most one edge exists per ordered pair.
type LikeEdge struct {
	FromUserID string    `gorm:"column:from_user_id;primaryKey;size:190;not null"`
	ToUserID   string    `gorm:"column:to_user_id;primaryKey;size:190;not null"`
	IsLike     bool      `gorm:"column:is_like;not null;default:true"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing like edges.
func (LikeEdge) TableName() string {
	return "likes"
}

// MatchRecord is the symmetric relation formed when both directed like
// edges exist. It is stored once, under the canonical (min, max) pair.
type MatchRecord struct {
	UserAID   string    `gorm:"column:user_a_id;primaryKey;size:190;not null"`
	UserBID   string    `gorm:"column:user_b_id;primaryKey;size:190;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing matches.
func (MatchRecord) TableName() string {
	return "matches"
}

// BlockEdge is a directed suppression record. Either direction between two
// users disables their mutual realtime interaction.
type BlockEdge struct {
	BlockerID string    `gorm:"column:blocker_id;primaryKey;size:190;not null"`
	BlockedID string    `gorm:"column:blocked_id;primaryKey;size:190;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing block edges.
func (BlockEdge) TableName() string {
	return "blocks"
}

// CanonicalPair orders two user ids so the unordered pair has a single
// storage representation.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
