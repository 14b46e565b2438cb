package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Options struct {
	Driver string

	// sqlite
	Path string

	// postgres
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type DB struct {
	*sql.DB
	Driver string
}

func NewConnection(opts Options) (*DB, error) {
	var (
		sqlDB *sql.DB
		err   error
	)

	switch opts.Driver {
	case DriverSQLite:
		sqlDB, err = openSQLite(opts.Path)
	case DriverPostgres:
		sqlDB, err = sql.Open("postgres", postgresDSN(opts))
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Debug("Database connected", "driver", opts.Driver)
	return &DB{DB: sqlDB, Driver: opts.Driver}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
}

func postgresDSN(opts Options) string {
	values := []struct{ key, value string }{
		{"host", opts.Host},
		{"port", opts.Port},
		{"user", opts.User},
		{"password", opts.Password},
		{"dbname", opts.Name},
		{"sslmode", opts.SSLMode},
	}

	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v.value != "" {
			parts = append(parts, v.key+"="+quoteDSNValue(v.value))
		}
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(value string) string {
	if !strings.ContainsAny(value, ` '\`) {
		return value
	}
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `'`, `\'`)
	return "'" + value + "'"
}

// rebind rewrites "?" placeholders to "$n" for postgres.
func (db *DB) rebind(query string) string {
	if db.Driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeArg encodes a timestamp for the sent_at column. SQLite keeps UTC
// RFC 3339 text so lexical order matches time order.
func (db *DB) timeArg(t time.Time) any {
	t = t.UTC().Truncate(time.Second)
	if db.Driver == DriverSQLite {
		return t.Format(time.RFC3339)
	}
	return t
}
