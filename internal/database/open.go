package database

import (
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/forum"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var errMissingDSN = errors.New("database dsn is required")

// Driver names a supported store backend.
type Driver string

const (
	// DriverSQLite is the embedded pure-Go SQLite store.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres is a PostgreSQL server.
	DriverPostgres Driver = "postgres"
)

// DriverFor picks the backend for dsn: postgres(ql):// URLs use PostgreSQL,
// anything else is treated as a SQLite path or file: DSN.
func DriverFor(dsn string) Driver {
	lowered := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lowered, "postgres://") || strings.HasPrefix(lowered, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

// Open connects to the store named by dsn, migrates the forum schema and
// applies pending data migrations.
func Open(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errMissingDSN
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	driver := DriverFor(dsn)
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, err
		}
	}

	models := append(forum.Models(), &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", string(driver)))
	return db, nil
}
