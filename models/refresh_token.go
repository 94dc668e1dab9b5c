package models

import "time"

// RefreshToken stores the SHA-256 of an issued refresh token. Tokens are
// single-use: rotation revokes the old row, and the scheduler purges
// revoked or expired rows.
type RefreshToken struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	UserID    uint      `gorm:"index;not null"`
	TokenHash string    `gorm:"size:128;not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"index;not null"`
	Revoked   bool      `gorm:"default:false;index"`
}
