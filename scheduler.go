package main

import (
	"time"

	"rxscan/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// startScheduler registers the maintenance jobs and starts the cron runner.
func startScheduler() (*cron.Cron, error) {
	cl := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	jobs := []struct {
		spec string
		fn   func()
	}{
		{"@hourly", func() {
			n, err := purgeRefreshTokens(time.Now())
			if err != nil {
				logger.Error("purge refresh tokens failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("purged refresh tokens", zap.Int64("count", n))
			}
		}},
		{"15 0 * * *", func() {
			if _, err := markFollowUpsDue(time.Now()); err != nil {
				logger.Error("mark follow-ups failed", zap.Error(err))
			}
		}},
		{"@every 10m", func() {
			if analyzeLimiter != nil {
				analyzeLimiter.Sweep(30 * time.Minute)
			}
			if memCache != nil {
				if n := memCache.Sweep(); n > 0 {
					logger.Debug("swept cache", zap.Int("expired", n))
				}
			}
		}},
	}
	for _, j := range jobs {
		if _, err := c.AddFunc(j.spec, j.fn); err != nil {
			return nil, err
		}
	}
	c.Start()
	// catch up on follow-ups that passed while the server was down
	go func() {
		if _, err := markFollowUpsDue(time.Now()); err != nil {
			logger.Error("mark follow-ups failed", zap.Error(err))
		}
	}()
	return c, nil
}

type dueFollowUp struct {
	ProfileID    uint
	ProfileName  string
	Count        int
	FollowUpDate time.Time
}

// markFollowUpsDue flags prescriptions whose follow-up date is before today
// and logs one line per patient. It returns the number of rows flagged.
func markFollowUpsDue(now time.Time) (int64, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var due []models.Prescription
	err := db.Select("id", "profile_id", "follow_up_date").
		Where("follow_up_due = ? AND follow_up_date IS NOT NULL AND follow_up_date < ?", false, today).
		Order("profile_id, follow_up_date").Find(&due).Error
	if err != nil || len(due) == 0 {
		return 0, err
	}
	ids := make([]uint, len(due))
	byProfile := map[uint]*dueFollowUp{}
	var order []uint
	for i, p := range due {
		ids[i] = p.ID
		d, ok := byProfile[p.ProfileID]
		if !ok {
			d = &dueFollowUp{ProfileID: p.ProfileID}
			byProfile[p.ProfileID] = d
			order = append(order, p.ProfileID)
		}
		d.Count++
		d.FollowUpDate = *p.FollowUpDate // latest, rows are ordered by date
	}
	res := db.Model(&models.Prescription{}).Where("id IN ?", ids).Update("follow_up_due", true)
	if res.Error != nil {
		return 0, res.Error
	}
	var profiles []models.Profile
	if err := db.Select("id", "name").Where("id IN ?", order).Find(&profiles).Error; err != nil {
		logger.Warn("load overdue profiles failed", zap.Error(err))
	}
	for _, p := range profiles {
		byProfile[p.ID].ProfileName = p.Name
	}
	for _, id := range order {
		d := byProfile[id]
		logger.Info("follow-up overdue",
			zap.Uint("profile_id", d.ProfileID),
			zap.String("patient", d.ProfileName),
			zap.Int("prescriptions", d.Count),
			zap.String("last_due", d.FollowUpDate.Format("2006-01-02")))
	}
	return res.RowsAffected, nil
}
