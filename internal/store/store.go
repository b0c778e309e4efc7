// Package store persists contracts, fiscal documents, receivables and
// notification jobs with gorm.
//
// PostgreSQL is the production database; SQLite serves local runs and tests.
// Schema changes go through the embedded SQL migrations when MIGRATIONS is
// enabled on PostgreSQL, and through gorm AutoMigrate otherwise.
package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"nfcom/internal/logger"
	"nfcom/pkg/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Config holds database settings.
type Config struct {
	DSN string

	// Debug logs every SQL statement.
	Debug bool

	// Migrations runs the embedded SQL migrations instead of AutoMigrate.
	// Only honored on PostgreSQL.
	Migrations bool

	// ConnectAttempts and RetryDelay bound the initial connection loop.
	// Defaults: 10 attempts, 2 seconds apart.
	ConnectAttempts int
	RetryDelay      time.Duration

	// MaxOpenConns caps the pool. Zero keeps the driver default.
	MaxOpenConns int
}

// Store is the gorm-backed repository used by every pipeline component.
type Store struct {
	db     *gorm.DB
	driver string
	log    zerolog.Logger
}

var persisted = []interface{}{
	&models.Company{}, &models.Client{}, &models.Service{}, &models.BillingAccount{},
	&models.ServiceContract{}, &models.EmissionCycle{}, &models.DocumentSequence{},
	&models.FiscalDocument{}, &models.FiscalDocumentItem{}, &models.Receivable{},
	&models.EmissionJob{}, &models.EmissionJobItem{},
}

// Open connects with retries. It does not migrate; call Migrate.
func Open(cfg Config) (*Store, error) {
	const op = "Open"

	dsn := NormalizeDSN(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyDSN)
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	level := gormlogger.Silent
	if cfg.Debug {
		level = gormlogger.Info
	}
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(level)}

	log := logger.WithComponent("store")
	driver := DriverFor(dsn)
	dialector := sqlite.Open(dsn)
	if driver == DriverPostgres {
		dialector = postgres.Open(dsn)
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 1; i <= cfg.ConnectAttempts; i++ {
		db, err = gorm.Open(dialector, gcfg)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i).Msg("Retrying database connection")
		time.Sleep(cfg.RetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: connect after %d attempts: %w", op, cfg.ConnectAttempts, err)
	}
	if err := db.Exec("SELECT 1").Error; err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	log.Info().Str("driver", driver).Str("dsn", MaskDSN(dsn)).Msg("Database connected")

	s := &Store{db: db, driver: driver, log: log}
	return s, nil
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db, driver: db.Dialector.Name(), log: logger.WithComponent("store")}
}

// DB exposes the gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate brings the schema up to date.
func (s *Store) Migrate(cfg Config) error {
	const op = "Migrate"

	if cfg.Migrations && s.driver == DriverPostgres {
		if err := runSQLMigrations(ToURLDSN(NormalizeDSN(cfg.DSN))); err != nil {
			return fmt.Errorf("%s: sql migrations: %w", op, err)
		}
		s.log.Info().Msg("SQL migrations applied")
		return nil
	}

	for _, m := range persisted {
		if err := s.db.AutoMigrate(m); err != nil {
			return fmt.Errorf("%s: automigrate %T: %w", op, m, err)
		}
	}
	for _, table := range []string{"contracts", "fiscal_documents", "emission_cycles"} {
		if !s.db.Migrator().HasTable(table) {
			return fmt.Errorf("%s: missing table after migration: %s", op, table)
		}
	}
	return nil
}

func runSQLMigrations(dsn string) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) withContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
