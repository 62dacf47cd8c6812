package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/data/docstore"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver string
	DSN    string
}

type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

// Open connects the document database and migrates the documents table.
func Open(logg *logger.Logger, cfg Config) (*Service, error) {
	serviceLog := logg.With("service", "DocumentDB")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gcfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	}

	var (
		conn *gorm.DB
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverPostgres, "":
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("missing DOCSTORE_DSN for postgres")
		}
		conn, err = gorm.Open(postgres.Open(cfg.DSN), gcfg)
	case DriverSQLite:
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			dsn = "file:triggers?mode=memory&cache=shared"
		}
		conn, err = gorm.Open(sqlite.Open(dsn), gcfg)
		if err == nil {
			// sqlite serializes writers; one connection avoids "database is locked".
			if sqlDB, dbErr := conn.DB(); dbErr == nil {
				sqlDB.SetMaxOpenConns(1)
			}
		}
	default:
		return nil, fmt.Errorf("unknown DOCSTORE_DRIVER %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to document database: %w", err)
	}

	if err := docstore.AutoMigrate(conn); err != nil {
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}
	serviceLog.Info("Document database ready", "driver", conn.Dialector.Name())
	return &Service{db: conn, log: serviceLog}, nil
}

func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
