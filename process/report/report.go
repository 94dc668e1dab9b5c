// Package report summarizes a patient's prescriptions for one month.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"gorm.io/gorm"

	"rxscan/models"
)

// MedicineCount is how often a medicine (by generic name when known) was prescribed.
type MedicineCount struct {
	Name  string
	Count int64 `gorm:"column:cnt"`
}

// Summary is a month-bounded report for one user.
type Summary struct {
	Username      string
	Month         string
	Start, End    time.Time
	Prescriptions int64
	Medicines     int64
	FailedUploads int64
	TopMedicines  []MedicineCount
	// FollowUps are prescriptions whose follow-up date falls in the month.
	FollowUps []models.Prescription
	// Rows are the month's prescriptions, filled when listing is requested.
	Rows []models.Prescription
}

// Build computes the report for username and month (YYYY-MM, UTC bounds).
// top limits the medicine ranking; list also loads the month's rows.
func Build(db *gorm.DB, username, month string, top int, list bool) (*Summary, error) {
	var user models.User
	if err := db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, fmt.Errorf("user %s: %w", username, err)
	}
	var profile models.Profile
	if err := db.Where("user_id = ?", user.ID).First(&profile).Error; err != nil {
		return nil, fmt.Errorf("profile of %s: %w", username, err)
	}
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return nil, fmt.Errorf("invalid month format, expected YYYY-MM: %w", err)
	}
	s := &Summary{Username: user.Username, Month: month}
	s.Start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	s.End = s.Start.AddDate(0, 1, 0)

	inMonth := db.Model(&models.Prescription{}).
		Where("profile_id = ? AND created_at >= ? AND created_at < ?", profile.ID, s.Start, s.End)
	if err := inMonth.Count(&s.Prescriptions).Error; err != nil {
		return nil, fmt.Errorf("count prescriptions: %w", err)
	}

	meds := db.Table("prescription_medicines AS pm").
		Joins("JOIN prescriptions p ON p.id = pm.prescription_id").
		Where("p.profile_id = ? AND p.created_at >= ? AND p.created_at < ?", profile.ID, s.Start, s.End)
	if err := meds.Session(&gorm.Session{}).Count(&s.Medicines).Error; err != nil {
		return nil, fmt.Errorf("count medicines: %w", err)
	}
	if top > 0 {
		nameExpr := "COALESCE(NULLIF(pm.generic, ''), pm.name)"
		err := meds.Session(&gorm.Session{}).
			Select(nameExpr + " AS name, COUNT(*) AS cnt").
			Group(nameExpr).Order("cnt DESC, name").Limit(top).
			Scan(&s.TopMedicines).Error
		if err != nil {
			return nil, fmt.Errorf("top medicines: %w", err)
		}
	}

	err = db.Model(&models.Upload{}).
		Where("profile_id = ? AND failed = ? AND created_at >= ? AND created_at < ?", profile.ID, true, s.Start, s.End).
		Count(&s.FailedUploads).Error
	if err != nil {
		return nil, fmt.Errorf("count failed uploads: %w", err)
	}

	err = db.Where("profile_id = ? AND follow_up_date >= ? AND follow_up_date < ?", profile.ID, s.Start, s.End).
		Order("follow_up_date").Find(&s.FollowUps).Error
	if err != nil {
		return nil, fmt.Errorf("follow-ups: %w", err)
	}

	if list {
		err := db.Preload("Medicines", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") }).
			Where("profile_id = ? AND created_at >= ? AND created_at < ?", profile.ID, s.Start, s.End).
			Order("id").Find(&s.Rows).Error
		if err != nil {
			return nil, fmt.Errorf("fetch rows failed: %w", err)
		}
	}
	return s, nil
}

// Print writes the report in the plain text layout of the CLI.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "Report for user=%s month=%s (UTC):\n", s.Username, s.Month)
	fmt.Fprintf(w, "  prescriptions=%d medicines=%d failed_uploads=%d\n", s.Prescriptions, s.Medicines, s.FailedUploads)
	if len(s.TopMedicines) > 0 {
		fmt.Fprintln(w, "  top medicines:")
		for _, m := range s.TopMedicines {
			fmt.Fprintf(w, "    %-24s %d\n", m.Name, m.Count)
		}
	}
	if len(s.FollowUps) > 0 {
		fmt.Fprintln(w, "  follow-ups:")
		for _, p := range s.FollowUps {
			due := ""
			if p.FollowUpDue {
				due = " (overdue)"
			}
			fmt.Fprintf(w, "    %s  #%d %s%s\n", p.FollowUpDate.Format("2006-01-02"), p.ID, p.Diagnosis, due)
		}
	}
	for _, p := range s.Rows {
		names := make([]string, len(p.Medicines))
		for i, m := range p.Medicines {
			names[i] = m.Name
		}
		fmt.Fprintf(w, "%d|%s|%s|%s\n", p.ID, p.Diagnosis, strings.Join(names, ","), p.CreatedAt.Format(time.RFC3339))
	}
}
