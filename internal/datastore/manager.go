// Package datastore opens the document database and runs its schema migration.
package datastore

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/datastore/entities"
	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
)

// Manager defines the interface for document database lifecycle operations.
type Manager interface {
	// Initialize creates or migrates the schema.
	Initialize() error
	// DB returns the underlying GORM database.
	DB() *gorm.DB
	// Path returns the database location for display.
	Path() string
	// Close closes the database connection.
	Close() error
	// IsMySQL returns true if this is a MySQL manager.
	IsMySQL() bool
}

// SQLiteManager handles a local SQLite document database.
type SQLiteManager struct {
	db     *gorm.DB
	dbPath string
}

// NewSQLiteManager opens the SQLite database at dbPath with WAL enabled.
func NewSQLiteManager(dbPath string, log logger.Logger, slowThreshold time.Duration) (*SQLiteManager, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", dbPath)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLogger(log, slowThreshold),
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open sqlite database: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("path", dbPath).
			Build()
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY under concurrent writes
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	return &SQLiteManager{db: db, dbPath: dbPath}, nil
}

// Initialize runs auto-migration.
func (m *SQLiteManager) Initialize() error {
	return migrate(m.db)
}

// DB returns the underlying GORM database.
func (m *SQLiteManager) DB() *gorm.DB { return m.db }

// Path returns the database file path.
func (m *SQLiteManager) Path() string { return m.dbPath }

// IsMySQL returns false for SQLite manager.
func (m *SQLiteManager) IsMySQL() bool { return false }

// Close closes the database connection.
func (m *SQLiteManager) Close() error { return closeDB(m.db) }

// MySQLConfig holds MySQL connection settings.
type MySQLConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// DSN renders the connection string for the go-sql-driver.
func (c *MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// MySQLManager handles a shared MySQL document database.
type MySQLManager struct {
	db       *gorm.DB
	location string
}

// NewMySQLManager opens a MySQL database and configures the connection pool.
func NewMySQLManager(cfg *MySQLConfig, log logger.Logger, slowThreshold time.Duration) (*MySQLManager, error) {
	db, err := gorm.Open(gormmysql.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.NewGormLogger(log, slowThreshold),
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open mysql database: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("host", cfg.Host).
			Context("database", cfg.Database).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &MySQLManager{
		db:       db,
		location: fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Database),
	}, nil
}

// Initialize runs auto-migration.
func (m *MySQLManager) Initialize() error {
	return migrate(m.db)
}

// DB returns the underlying GORM database.
func (m *MySQLManager) DB() *gorm.DB { return m.db }

// Path returns host:port/database.
func (m *MySQLManager) Path() string { return m.location }

// IsMySQL returns true.
func (m *MySQLManager) IsMySQL() bool { return true }

// Close closes the database connection.
func (m *MySQLManager) Close() error { return closeDB(m.db) }

// Open creates the manager selected in settings and initializes its schema.
func Open(settings *conf.DatastoreSettings, log logger.Logger) (Manager, error) {
	var (
		mgr Manager
		err error
	)
	switch {
	case settings.MySQL.Enabled:
		mgr, err = NewMySQLManager(&MySQLConfig{
			Host:     settings.MySQL.Host,
			Port:     settings.MySQL.Port,
			Username: settings.MySQL.Username,
			Password: settings.MySQL.Password,
			Database: settings.MySQL.Database,
		}, log, settings.SlowThreshold)
	case settings.SQLite.Enabled:
		mgr, err = NewSQLiteManager(settings.SQLite.Path, log, settings.SlowThreshold)
	default:
		return nil, errors.Newf("no datastore enabled").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, err
	}

	if err := mgr.Initialize(); err != nil {
		_ = mgr.Close()
		return nil, err
	}

	log.Info("datastore ready", logger.String("path", mgr.Path()), logger.Bool("mysql", mgr.IsMySQL()))
	return mgr, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&entities.Document{}); err != nil {
		return errors.New(fmt.Errorf("failed to migrate schema: %w", err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}
