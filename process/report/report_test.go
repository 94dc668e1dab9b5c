package report

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rxscan/models"
	"rxscan/pkg/database"
)

func seed(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, database.Migrate(db, zap.NewNop()))
	user, err := database.CreateUser(db, "rita", "secret1", models.RoleUser, "Rita")
	require.NoError(t, err)
	var profile models.Profile
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&profile).Error)

	add := func(n int, created time.Time, followUp *time.Time, meds ...models.PrescriptionMedicine) {
		up := models.Upload{FileName: fmt.Sprintf("%d.png", n), ProfileID: profile.ID, ImageHash: fmt.Sprint(n), CreatedAt: created}
		require.NoError(t, db.Omit("Profile").Create(&up).Error)
		p := models.Prescription{
			ProfileID: profile.ID, UploadID: up.ID, Diagnosis: fmt.Sprintf("dx%d", n),
			CreatedAt: created, FollowUpDate: followUp, AnalyzedAt: created, Medicines: meds,
		}
		require.NoError(t, db.Omit("Profile", "Upload").Create(&p).Error)
	}
	para := models.PrescriptionMedicine{Position: 1, Name: "Crocin", Generic: "Paracetamol"}
	dolo := models.PrescriptionMedicine{Position: 2, Name: "Dolo 650", Generic: "Paracetamol"}
	pan := models.PrescriptionMedicine{Position: 1, Name: "Pan 40"}

	fu := time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC)
	add(1, time.Date(2025, time.March, 2, 9, 0, 0, 0, time.UTC), &fu, para, dolo)
	add(2, time.Date(2025, time.March, 31, 23, 0, 0, 0, time.UTC), nil, pan)
	add(3, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), nil, pan)

	failed := models.Upload{FileName: "bad.png", ProfileID: profile.ID, ImageHash: "bad", Failed: true, CreatedAt: time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, db.Omit("Profile").Create(&failed).Error)
	return db
}

func TestBuild(t *testing.T) {
	db := seed(t)
	s, err := Build(db, "rita", "2025-03", 5, true)
	require.NoError(t, err)

	assert.EqualValues(t, 2, s.Prescriptions)
	assert.EqualValues(t, 3, s.Medicines)
	assert.EqualValues(t, 1, s.FailedUploads)
	assert.Equal(t, []MedicineCount{{Name: "Paracetamol", Count: 2}, {Name: "Pan 40", Count: 1}}, s.TopMedicines)
	require.Len(t, s.FollowUps, 1)
	assert.Equal(t, "dx1", s.FollowUps[0].Diagnosis)
	require.Len(t, s.Rows, 2)
	assert.Len(t, s.Rows[0].Medicines, 2)

	var buf bytes.Buffer
	s.Print(&buf)
	out := buf.String()
	assert.Contains(t, out, "Report for user=rita month=2025-03 (UTC):")
	assert.Contains(t, out, "prescriptions=2 medicines=3 failed_uploads=1")
	assert.Contains(t, out, "2025-03-20")
	assert.Contains(t, out, "|dx1|Crocin,Dolo 650|")
}

func TestBuildErrors(t *testing.T) {
	db := seed(t)
	_, err := Build(db, "nobody", "2025-03", 5, false)
	assert.Error(t, err)
	_, err = Build(db, "rita", "03/2025", 5, false)
	assert.ErrorContains(t, err, "YYYY-MM")

	s, err := Build(db, "rita", "2025-04", 0, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.Prescriptions)
	assert.Empty(t, s.TopMedicines)
	assert.Empty(t, s.Rows)
}
