package services

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/WestWindsorForward/Pinpoint-311/config"
	"github.com/WestWindsorForward/Pinpoint-311/models"
)

// SetupSQLiteTestDB creates an in-memory SQLite database for testing.
// Exported for use in handler tests.
func SetupSQLiteTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to SQLite test database: %v", err)
	}

	// Each SQLite connection gets its own :memory: database, so the pool must
	// stay at one connection.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get underlying sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.User{},
		&models.ServiceRequest{},
		&models.RequestStatusHistory{},
		&models.RequestNote{},
		&models.RequestAttachment{},
		&models.NotificationOptIn{},
		&models.WebhookDelivery{},
		&models.AuditLog{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

// SetupMockDB creates a sqlmock-backed GORM connection for tests that need
// to simulate storage failures.
func SetupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	var db *sql.DB
	var mock sqlmock.Sqlmock
	var err error

	db, mock, err = sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		Conn:       db,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open gorm db: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return gormDB, mock, cleanup
}

// CreateTestUser inserts a staff account with a bcrypt hash of password.
func CreateTestUser(t *testing.T, db *gorm.DB, email, password string, role models.UserRole) *models.User {
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash test password: %v", err)
	}
	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

// TestTownshipConfig returns the default township configuration for tests.
func TestTownshipConfig() *config.TownshipConfig {
	return config.DefaultConfig()
}
