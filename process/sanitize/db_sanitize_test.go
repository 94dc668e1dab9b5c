package sanitize

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rxscan/models"
	"rxscan/pkg/database"
)

func seeded(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenMemory(t.Name())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, database.Migrate(db, zap.NewNop()))
	require.NoError(t, database.Seed(db, zap.NewNop()))
	_, err = database.CreateUser(db, "sam", "secret1", models.RoleUser, "Sam")
	require.NoError(t, err)
	return db
}

func countUsers(db *gorm.DB) int64 {
	var n int64
	db.Model(&models.User{}).Count(&n)
	return n
}

func TestRunDryRunAndConfirmation(t *testing.T) {
	db := seeded(t)
	var out bytes.Buffer
	res, err := Run(db, Options{Tables: []string{"users", "nope", "bad;name"}, DryRun: true}, &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, res.Tables)
	assert.False(t, res.Truncated)
	assert.Contains(t, out.String(), "dry-run enabled")

	out.Reset()
	res, err = Run(db, Options{Tables: []string{"users"}}, &out)
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Contains(t, out.String(), "Pass --yes")
	assert.EqualValues(t, 2, countUsers(db))
}

func TestRunTruncatesAndReseeds(t *testing.T) {
	db := seeded(t)
	var out bytes.Buffer
	res, err := Run(db, Options{Yes: true, Reseed: true}, &out)
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.True(t, res.Reseeded)
	assert.Equal(t, DefaultTables, res.Tables)

	var users []models.User
	require.NoError(t, db.Find(&users).Error)
	require.Len(t, users, 1)
	assert.Equal(t, "admin", users[0].Username)
	var profiles int64
	db.Model(&models.Profile{}).Count(&profiles)
	assert.EqualValues(t, 1, profiles)
}
