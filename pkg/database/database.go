// Package database opens the gorm handle and owns schema migration and seeding.
package database

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rxscan/models"
)

// Open connects using driver "postgres" or "sqlite".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch driver {
	case "postgres":
		dial = postgres.Open(dsn)
	case "sqlite":
		dial = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	gdb, err := gorm.Open(dial, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	return gdb, nil
}

// OpenMemory opens a named in-memory SQLite database limited to one
// connection, for tests and dry runs.
func OpenMemory(name string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", url.QueryEscape(name))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Discard,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}

// Migrate creates or updates every table. When the combined migration fails
// (e.g. missing privileges on one table) tables are retried one at a time so
// the others still migrate, and the failures are returned joined.
func Migrate(db *gorm.DB, log *zap.Logger) error {
	var errs []error
	// roles first so users can reference them
	tables := []struct {
		name  string
		model any
	}{
		{"roles", &models.Role{}},
		{"users", &models.User{}},
		{"profiles", &models.Profile{}},
		{"uploads", &models.Upload{}},
		{"prescriptions", &models.Prescription{}},
		{"prescription_medicines", &models.PrescriptionMedicine{}},
		{"refresh_tokens", &models.RefreshToken{}},
	}
	all := make([]any, len(tables))
	for i, t := range tables {
		all[i] = t.model
	}
	if err := db.AutoMigrate(all...); err == nil {
		return nil
	}
	for _, t := range tables {
		if err := db.AutoMigrate(t.model); err != nil {
			log.Warn("migration warning", zap.String("table", t.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	return errors.Join(errs...)
}

// Seed ensures the master roles and an admin user with a profile exist.
func Seed(db *gorm.DB, log *zap.Logger) error {
	for _, r := range []models.Role{
		{Name: models.RoleAdministrator, Description: "full access"},
		{Name: models.RoleUser, Description: "regular user"},
	} {
		if _, err := EnsureRole(db, r.Name, r.Description); err != nil {
			return err
		}
	}

	var count int64
	db.Model(&models.User{}).Where("username = ?", "admin").Count(&count)
	if count == 0 {
		if _, err := CreateUser(db, "admin", "admin123", models.RoleAdministrator, "Administrator"); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		log.Warn("seeded admin user; change its password", zap.String("username", "admin"))
	}
	return nil
}

// EnsureRole returns the role with name, creating it when missing.
func EnsureRole(db *gorm.DB, name, description string) (models.Role, error) {
	role := models.Role{Name: name, Description: description}
	if err := db.Where("name = ?", name).FirstOrCreate(&role).Error; err != nil {
		return models.Role{}, fmt.Errorf("failed to ensure %s role: %w", name, err)
	}
	return role, nil
}

// ErrUserExists is returned by CreateUser for a taken username.
var ErrUserExists = errors.New("user already exists")

// CreateUser hashes password and creates the user with roleName and, when
// profileName is not empty, a profile.
func CreateUser(db *gorm.DB, username, password, roleName, profileName string) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.User{}, fmt.Errorf("username required")
	}
	var existing models.User
	if err := db.Where("username = ?", username).First(&existing).Error; err == nil {
		return existing, ErrUserExists
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}
	role, err := EnsureRole(db, roleName, "")
	if err != nil {
		return models.User{}, err
	}
	rid := role.ID
	user := models.User{Username: username, HashedPassword: hashed, RoleID: &rid}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if profileName == "" {
			return nil
		}
		return tx.Create(&models.Profile{UserID: user.ID, Name: profileName}).Error
	})
	if IsUniqueConstraintError(err) { // race after the pre-check
		return models.User{}, ErrUserExists
	}
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// SetPassword replaces the password of username.
func SetPassword(db *gorm.DB, username, password string) error {
	if len(password) < 6 {
		return fmt.Errorf("password too short (min 6)")
	}
	var user models.User
	if err := db.Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		return fmt.Errorf("user %s: %w", username, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return db.Model(&user).Update("hashed_password", hash).Error
}

// ResolveProfile loads the profile with id, or the admin's profile when id is 0.
func ResolveProfile(db *gorm.DB, id uint) (models.Profile, error) {
	var p models.Profile
	if id != 0 {
		if err := db.First(&p, id).Error; err != nil {
			return p, fmt.Errorf("profile id %d: %w", id, err)
		}
		return p, nil
	}
	var admin models.User
	if err := db.Where("username = ?", "admin").First(&admin).Error; err != nil {
		return p, fmt.Errorf("no profile id given and admin user not found: %w", err)
	}
	if err := db.Where("user_id = ?", admin.ID).First(&p).Error; err != nil {
		return p, fmt.Errorf("admin profile not found: %w", err)
	}
	return p, nil
}

func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint") || strings.Contains(s, "already exists")
}
