package models

import (
	"time"
)

// Upload is a stored prescription image.
type Upload struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// FileName is the client's original name; StorePath is relative to
	// UPLOAD_BASE (e.g. 3/<uuid>.jpg).
	FileName    string  `gorm:"size:255;not null" json:"file_name"`
	StorePath   string  `gorm:"column:store_path;size:512" json:"store_path"`
	// one upload per image content and profile
	ProfileID   uint    `gorm:"not null;uniqueIndex:uq_upload_profile_hash" json:"profile_id"`
	Profile     Profile `gorm:"foreignKey:ProfileID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ImageHash   string  `gorm:"size:64;uniqueIndex:uq_upload_profile_hash" json:"image_hash"`
	ContentType string  `gorm:"size:128" json:"content_type"`
	Size        int64   `json:"size"`
	// Mark upload as failed for OCR processing (do not delete record so front-end/admin can review)
	Failed       bool   `gorm:"default:false;index" json:"failed"`
	FailedReason string `gorm:"size:255" json:"failed_reason,omitempty"`
}
