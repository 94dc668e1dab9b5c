package models

import "time"

// Profile is the patient record a user's prescriptions belong to (one-to-one with User).
type Profile struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time `gorm:"index"`
	// Active indicates whether the profile is active. Use this for soft-state
	// instead of physically deleting the record. Defaults to true.
	Active      bool       `gorm:"default:true;not null"`
	UserID      uint       `gorm:"uniqueIndex;not null"` // one-to-one relation
	User        User       `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Name        string     `gorm:"size:255;not null"` // mandatory
	Email       string     `gorm:"size:255"`
	Phone       string     `gorm:"size:64"`
	DateOfBirth *time.Time `gorm:"type:date"`
	Gender      string     `gorm:"size:16"`
	Allergies   string     `gorm:"size:512"`
	Uploads     []Upload   `gorm:"foreignKey:ProfileID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:",omitempty"`
}
