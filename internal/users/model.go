package users

import (
	"strings"
	"time"
)

// User is the single source of truth for an account. Sessions and edges
// reference users by id only and never carry denormalized copies.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Email        string    `gorm:"column:email;size:320;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;size:190;not null" json:"-"`
	Name         string    `gorm:"column:name;size:190;not null" json:"name"`
	Age          int       `gorm:"column:age" json:"age,omitempty"`
	City         string    `gorm:"column:city;size:190" json:"city,omitempty"`
	Bio          string    `gorm:"column:bio;type:text" json:"bio,omitempty"`
	Interests    []string  `gorm:"column:interests;serializer:json" json:"interests"`
	PhotoRef     string    `gorm:"column:photo_ref;size:512" json:"photo,omitempty"`
	Latitude     *float64  `gorm:"column:latitude" json:"latitude,omitempty"`
	Longitude    *float64  `gorm:"column:longitude" json:"longitude,omitempty"`
	ShowLocation bool      `gorm:"column:show_location;not null;default:true" json:"show_location"`
	Deactivated  bool      `gorm:"column:deactivated;not null;default:false" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// Summary is the public projection of a user carried in event payloads.
type Summary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PhotoRef string `json:"photo,omitempty"`
}

// Summary projects the public fields of the user.
func (u User) Summary() Summary {
	return Summary{ID: u.ID, Name: u.Name, PhotoRef: u.PhotoRef}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
