// Package records persists analysis reports as prescriptions.
package records

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rxscan/models"
	"rxscan/pkg/analyzer"
	"rxscan/pkg/rx"
)

// ErrNotFound wraps gorm.ErrRecordNotFound for callers that do not import gorm.
var ErrNotFound = gorm.ErrRecordNotFound

var extMime = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// SupportedExt reports whether name has an accepted image extension.
func SupportedExt(name string) bool {
	_, ok := extMime[strings.ToLower(filepath.Ext(name))]
	return ok
}

// MimeFromExt maps a file extension to its content type.
func MimeFromExt(name string) string {
	return extMime[strings.ToLower(filepath.Ext(name))]
}

// NewStorePath returns a fresh relative path <profile>/<uuid><ext>.
func NewStorePath(profileID uint, name string) string {
	return fmt.Sprintf("%d/%s%s", profileID, uuid.NewString(), strings.ToLower(filepath.Ext(name)))
}

// WriteFile stores data under base at the relative path rel.
func WriteFile(base, rel string, data []byte) error {
	full := filepath.Join(base, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

// FromReport maps a report onto a new, unsaved Prescription.
func FromReport(profileID, uploadID uint, rep *analyzer.Report) models.Prescription {
	p := models.Prescription{ProfileID: profileID, UploadID: uploadID}
	apply(&p, rep)
	return p
}

func apply(p *models.Prescription, rep *analyzer.Report) {
	rxp := rep.Prescription
	p.ImageHash = rep.ImageHash
	p.Engine = rep.Engine
	p.RawText = rep.Text
	p.Diagnosis = rxp.Diagnosis
	p.DiagnosisInferred = rxp.DiagnosisInferred
	p.Complaints = rxp.Complaints
	p.FollowUp = rxp.FollowUp
	p.FollowUpDate = rxp.FollowUpDate
	p.FollowUpDue = false
	p.Advice = rxp.AdviceText()
	p.Uses = rxp.Uses
	p.Warnings = rxp.Warnings
	p.Remedies = rxp.Remedies
	p.Unclassified = rxp.Unclassified
	p.AnalyzedAt = time.Now()
	p.Medicines = medicines(rxp.Medicines)
}

func medicines(in []rx.Medicine) []models.PrescriptionMedicine {
	out := make([]models.PrescriptionMedicine, len(in))
	for i, m := range in {
		out[i] = models.PrescriptionMedicine{
			Position:     i + 1,
			Name:         m.Name,
			Generic:      m.Generic,
			Form:         m.Form,
			Strength:     m.Strength,
			Frequency:    m.Frequency,
			Dosage:       m.Dosage,
			Duration:     m.Duration,
			Instructions: m.Instructions,
		}
	}
	return out
}

// Create saves a prescription and its medicines for an existing upload.
func Create(db *gorm.DB, profileID, uploadID uint, rep *analyzer.Report) (*models.Prescription, error) {
	p := FromReport(profileID, uploadID, rep)
	if err := db.Omit("Profile", "Upload").Create(&p).Error; err != nil {
		return nil, fmt.Errorf("create prescription: %w", err)
	}
	return &p, nil
}

// Replace overwrites p's fields and medicines with a fresh report.
func Replace(db *gorm.DB, p *models.Prescription, rep *analyzer.Report) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("prescription_id = ?", p.ID).Delete(&models.PrescriptionMedicine{}).Error; err != nil {
			return err
		}
		apply(p, rep)
		meds := p.Medicines
		p.Medicines = nil
		if err := tx.Omit(clause.Associations).Save(p).Error; err != nil {
			return err
		}
		for i := range meds {
			meds[i].PrescriptionID = p.ID
		}
		if len(meds) > 0 {
			if err := tx.Create(&meds).Error; err != nil {
				return err
			}
		}
		p.Medicines = meds
		return nil
	})
}

// Load fetches a prescription with medicines in page order.
func Load(db *gorm.DB, id uint) (*models.Prescription, error) {
	var p models.Prescription
	err := db.Preload("Medicines", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") }).First(&p, id).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByHash returns the profile's prescription for an image hash.
func FindByHash(db *gorm.DB, profileID uint, hash string) (*models.Prescription, error) {
	var p models.Prescription
	err := db.Where("profile_id = ? AND image_hash = ?", profileID, hash).Order("id").First(&p).Error
	if err != nil {
		return nil, err
	}
	return Load(db, p.ID)
}

// Delete removes the prescription, its medicines and upload row, then the
// stored file under base. A missing file is not an error.
func Delete(db *gorm.DB, base string, p *models.Prescription) error {
	var up models.Upload
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("prescription_id = ?", p.ID).Delete(&models.PrescriptionMedicine{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Prescription{}, p.ID).Error; err != nil {
			return err
		}
		if err := tx.First(&up, p.UploadID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		return tx.Delete(&up).Error
	})
	if err != nil {
		return err
	}
	if up.StorePath == "" {
		return nil
	}
	if err := os.Remove(filepath.Join(base, filepath.FromSlash(up.StorePath))); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MarkFailed records an analysis failure on the upload.
func MarkFailed(db *gorm.DB, up *models.Upload, reason error) error {
	msg := truncateUTF8(reason.Error(), 255)
	up.Failed = true
	up.FailedReason = msg
	return db.Model(up).Updates(map[string]any{"failed": true, "failed_reason": msg}).Error
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ClearFailed resets the failure flag after a successful analysis.
func ClearFailed(db *gorm.DB, up *models.Upload) error {
	if !up.Failed {
		return nil
	}
	up.Failed = false
	up.FailedReason = ""
	return db.Model(up).Updates(map[string]any{"failed": false, "failed_reason": ""}).Error
}
