package models

import "time"

// Prescription is the structured result of analyzing one upload.
type Prescription struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	ProfileID         uint       `gorm:"not null;index:idx_prescription_profile_hash" json:"profile_id"`
	Profile           Profile    `gorm:"foreignKey:ProfileID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	UploadID          uint       `gorm:"uniqueIndex;not null" json:"upload_id"`
	Upload            Upload     `gorm:"foreignKey:UploadID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	ImageHash         string     `gorm:"size:64;index:idx_prescription_profile_hash" json:"image_hash"`
	Engine            string     `gorm:"size:64" json:"engine"`
	Diagnosis         string     `gorm:"size:512" json:"diagnosis"`
	DiagnosisInferred bool       `gorm:"default:false" json:"diagnosis_inferred"`
	Complaints        []string   `gorm:"serializer:json" json:"complaints"`
	FollowUp          string     `gorm:"size:512" json:"follow_up"`
	FollowUpDate      *time.Time `gorm:"index" json:"follow_up_date"`
	FollowUpDue       bool       `gorm:"default:false;index" json:"follow_up_due"`
	Advice            string     `gorm:"type:text" json:"advice"`
	Uses              []string   `gorm:"serializer:json" json:"uses"`
	Warnings          []string   `gorm:"serializer:json" json:"warnings"`
	Remedies          []string   `gorm:"serializer:json" json:"remedies"`
	Unclassified      []string   `gorm:"serializer:json" json:"unclassified"`
	RawText           string     `gorm:"type:text" json:"raw_text"`
	AnalyzedAt        time.Time  `json:"analyzed_at"`

	Medicines []PrescriptionMedicine `gorm:"foreignKey:PrescriptionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"medicines"`
}

// PrescriptionMedicine is one drug line of a Prescription, kept in page order.
type PrescriptionMedicine struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	PrescriptionID uint   `gorm:"index;not null" json:"prescription_id"`
	Position       int    `gorm:"not null" json:"position"`
	Name           string `gorm:"size:255;not null" json:"name"`
	Generic        string `gorm:"size:255;index" json:"generic"`
	Form           string `gorm:"size:32" json:"form"`
	Strength       string `gorm:"size:64" json:"strength"`
	Frequency      string `gorm:"size:64" json:"frequency"`
	Dosage         string `gorm:"size:128" json:"dosage"`
	Duration       string `gorm:"size:64" json:"duration"`
	Instructions   string `gorm:"size:128" json:"instructions"`
}
