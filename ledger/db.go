package ledger

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the settlement store and applies migrations. Driver is
// either "postgres" or "sqlite"; sqlite keeps local and test deployments
// dependency-free while production runs on postgres.
func Open(driver, dsn string) (*gorm.DB, error) {
	trimmedDSN := strings.TrimSpace(dsn)
	if trimmedDSN == "" {
		return nil, fmt.Errorf("ledger: dsn required")
	}
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres":
		db, err = gorm.Open(postgres.Open(trimmedDSN), cfg)
	case "sqlite", "":
		db, err = gorm.Open(sqlite.Open(trimmedDSN), cfg)
	default:
		return nil, fmt.Errorf("ledger: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return db, nil
}
