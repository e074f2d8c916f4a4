package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	chatservice "github.com/mdthorpe/llm-web-chat/internal/service/chat"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its dialect and filesystem in package globals.
var gooseMu sync.Mutex

// Options configures Open.
type Options struct {
	Driver      string
	DSN         string
	AutoMigrate bool
	Logger      zerolog.Logger
}

// Store is the SQL-backed message store (sqlite or postgres).
type Store struct {
	db     *sql.DB
	driver string
	sql    sq.StatementBuilderType
	logger zerolog.Logger

	seqMu   sync.Mutex
	lastSeq int64
}

var _ chatservice.Store = (*Store)(nil)

func Open(ctx context.Context, opts Options) (*Store, error) {
	driver := normalizeDriver(opts.Driver)
	if opts.DSN == "" {
		return nil, fmt.Errorf("dsn is empty")
	}

	var sqlDriver string
	switch driver {
	case "postgres":
		sqlDriver = "pgx"
	case "sqlite":
		sqlDriver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if driver == "sqlite" {
		// sqlite allows a single writer; in-memory databases are per connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if opts.AutoMigrate {
		if err := migrate(db, driver); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	var placeholder sq.PlaceholderFormat = sq.Question
	if driver == "postgres" {
		placeholder = sq.Dollar
	}

	logger := opts.Logger.With().Str("component", "storage").Str("driver", driver).Logger()
	logger.Info().Bool("migrated", opts.AutoMigrate).Msg("database ready")

	return &Store{
		db:     db,
		driver: driver,
		sql:    sq.StatementBuilder.PlaceholderFormat(placeholder),
		logger: logger,
	}, nil
}

func migrate(db *sql.DB, driver string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	dialect := "postgres"
	if driver == "sqlite" {
		dialect = "sqlite3"
	}

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func normalizeDriver(driver string) string {
	d := strings.ToLower(strings.TrimSpace(driver))
	switch d {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return d
	}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// nextSeq returns a strictly increasing insertion sequence used to break
// created_at ties.
func (s *Store) nextSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	seq := time.Now().UnixNano()
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
