package main

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"rxscan/models"
	"rxscan/pkg/analyzer"
	"rxscan/pkg/database"
	"rxscan/pkg/ocr"
	"rxscan/pkg/records"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxUploadSize = 8 << 20

// analyzeStatus maps an analysis error to an HTTP status.
func analyzeStatus(err error) int {
	switch {
	case errors.Is(err, analyzer.ErrUnsupportedImage):
		return http.StatusBadRequest
	case errors.Is(err, ocr.ErrNoText):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

type uploadError struct {
	status int
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

// parseUpload returns the bytes of the multipart "file" field after the
// size and extension checks.
func parseUpload(c *gin.Context) (string, []byte, *uploadError) {
	fh, err := c.FormFile("file")
	if err != nil {
		return "", nil, &uploadError{http.StatusBadRequest, "file is required"}
	}
	if fh.Size > maxUploadSize {
		return "", nil, &uploadError{http.StatusRequestEntityTooLarge, "file too large (max 8MB)"}
	}
	if !records.SupportedExt(fh.Filename) {
		return "", nil, &uploadError{http.StatusBadRequest, "unsupported file type (jpg, jpeg, png)"}
	}
	f, err := fh.Open()
	if err != nil {
		return "", nil, &uploadError{http.StatusInternalServerError, "failed to read file"}
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadSize+1))
	if err != nil {
		return "", nil, &uploadError{http.StatusInternalServerError, "failed to read file"}
	}
	if len(data) > maxUploadSize {
		return "", nil, &uploadError{http.StatusRequestEntityTooLarge, "file too large (max 8MB)"}
	}
	return filepath.Base(fh.Filename), data, nil
}

// readUpload is parseUpload replying with a JSON error.
func readUpload(c *gin.Context) (string, []byte, bool) {
	name, data, uerr := parseUpload(c)
	if uerr != nil {
		c.JSON(uerr.status, gin.H{"error": uerr.msg})
		return "", nil, false
	}
	return name, data, true
}

func uploadPrescriptionHandler(c *gin.Context) {
	_, profile, ok := requireProfile(c)
	if !ok {
		return
	}
	name, data, ok := readUpload(c)
	if !ok {
		return
	}
	hash := analyzer.HashBytes(data)

	var up models.Upload
	err := db.Where("profile_id = ? AND image_hash = ?", profile.ID, hash).Order("id").First(&up).Error
	switch {
	case err == nil:
		if p, err := records.FindByHash(db, profile.ID, hash); err == nil {
			c.JSON(http.StatusOK, p)
			return
		}
		// an earlier attempt failed; analyze the stored upload again
	case errors.Is(err, gorm.ErrRecordNotFound):
		rel := records.NewStorePath(profile.ID, name)
		if err := records.WriteFile(uploadBaseDir(), rel, data); err != nil {
			logger.Error("store upload failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save file"})
			return
		}
		up = models.Upload{
			FileName:    name,
			StorePath:   rel,
			ProfileID:   profile.ID,
			ImageHash:   hash,
			ContentType: records.MimeFromExt(name),
			Size:        int64(len(data)),
		}
		if err := db.Omit("Profile").Create(&up).Error; err != nil {
			_ = os.Remove(filepath.Join(uploadBaseDir(), filepath.FromSlash(rel)))
			if !database.IsUniqueConstraintError(err) {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create upload record"})
				return
			}
			// a concurrent request stored the same bytes first
			up = models.Upload{}
			if err := db.Where("profile_id = ? AND image_hash = ?", profile.ID, hash).First(&up).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
				return
			}
			if p, err := records.FindByHash(db, profile.ID, hash); err == nil {
				c.JSON(http.StatusOK, p)
				return
			}
		}
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	rep, err := az.Analyze(c.Request.Context(), data)
	if err != nil {
		if mErr := records.MarkFailed(db, &up, err); mErr != nil {
			logger.Warn("mark upload failed", zap.Uint("upload_id", up.ID), zap.Error(mErr))
		}
		c.JSON(analyzeStatus(err), gin.H{"error": err.Error(), "upload_id": up.ID})
		return
	}
	p, err := records.Create(db, profile.ID, up.ID, rep)
	if err != nil {
		logger.Error("save prescription failed", zap.Uint("upload_id", up.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save prescription"})
		return
	}
	_ = records.ClearFailed(db, &up)
	c.JSON(http.StatusCreated, p)
}

func listPrescriptionsHandler(c *gin.Context) {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..200"})
			return
		}
		limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be >= 0"})
			return
		}
		offset = n
	}

	q := db.Model(&models.Prescription{})
	if !isAdmin(c) {
		_, profile, ok := requireProfile(c)
		if !ok {
			return
		}
		q = q.Where("profile_id = ?", profile.ID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	var list []models.Prescription
	err := q.Preload("Medicines", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") }).
		Order("id desc").Limit(limit).Offset(offset).Find(&list).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "prescriptions": list})
}

// loadAccessible loads the prescription named by :id when the caller owns it
// or is an administrator, replying with an error otherwise.
func loadAccessible(c *gin.Context) (*models.Prescription, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return nil, false
	}
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return nil, false
	}
	p, err := records.Load(db, uint(id))
	if errors.Is(err, records.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "prescription not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	if isAdmin(c) {
		return p, true
	}
	var profile models.Profile
	if err := db.Where("user_id = ?", user.ID).First(&profile).Error; err != nil || profile.ID != p.ProfileID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return nil, false
	}
	return p, true
}

func getPrescriptionHandler(c *gin.Context) {
	p, ok := loadAccessible(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p)
}

// reanalyzePrescriptionHandler runs OCR again on the stored image, bypassing
// the cache, and replaces the prescription fields and medicines.
func reanalyzePrescriptionHandler(c *gin.Context) {
	p, ok := loadAccessible(c)
	if !ok {
		return
	}
	var up models.Upload
	if err := db.First(&up, p.UploadID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
		return
	}
	data, err := os.ReadFile(filepath.Join(uploadBaseDir(), filepath.FromSlash(up.StorePath)))
	if err != nil {
		c.JSON(http.StatusGone, gin.H{"error": "stored image missing"})
		return
	}
	rep, err := az.Reanalyze(c.Request.Context(), data)
	if err != nil {
		_ = records.MarkFailed(db, &up, err)
		c.JSON(analyzeStatus(err), gin.H{"error": err.Error()})
		return
	}
	if err := records.Replace(db, p, rep); err != nil {
		logger.Error("replace prescription failed", zap.Uint("id", p.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save prescription"})
		return
	}
	_ = records.ClearFailed(db, &up)
	c.JSON(http.StatusOK, p)
}

func deletePrescriptionHandler(c *gin.Context) {
	p, ok := loadAccessible(c)
	if !ok {
		return
	}
	if err := records.Delete(db, uploadBaseDir(), p); err != nil {
		logger.Error("delete prescription failed", zap.Uint("id", p.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete prescription"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "prescription deleted"})
}

// followupsHandler lists the caller's prescriptions with a follow-up date
// from today through the next ?days days (default 7).
func followupsHandler(c *gin.Context) {
	_, profile, ok := requireProfile(c)
	if !ok {
		return
	}
	days := 7
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be 0..365"})
			return
		}
		days = n
	}
	from, to := followupWindow(time.Now(), days)
	var list []models.Prescription
	err := db.Preload("Medicines", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") }).
		Where("profile_id = ? AND follow_up_date >= ? AND follow_up_date < ?", profile.ID, from, to).
		Order("follow_up_date").Find(&list).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from":          from.Format("2006-01-02"),
		"to":            to.AddDate(0, 0, -1).Format("2006-01-02"),
		"prescriptions": list,
	})
}

// followupWindow returns [today, today+days+1) at midnight in now's location.
func followupWindow(now time.Time, days int) (time.Time, time.Time) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return today, today.AddDate(0, 0, days+1)
}
