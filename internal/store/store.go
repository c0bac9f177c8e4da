package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const driverName = "postgres"

// ErrNotFound is returned when a looked up row does not exist.
var ErrNotFound = errors.New("not found")

// Config describes how to reach the database. URL wins over the discrete fields.
type Config struct {
	URL      string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns int
	MaxIdleConns int
}

// DSN renders the connection string understood by lib/pq.
func (c Config) DSN() string {
	if url := strings.TrimSpace(c.URL); url != "" {
		return url
	}

	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	parts := []string{
		"host=" + quote(host),
		"port=" + strconv.Itoa(port),
		"sslmode=" + quote(sslmode),
	}
	if c.Name != "" {
		parts = append(parts, "dbname="+quote(c.Name))
	}
	if c.User != "" {
		parts = append(parts, "user="+quote(c.User))
	}
	if c.Password != "" {
		parts = append(parts, "password="+quote(c.Password))
	}

	return strings.Join(parts, " ")
}

func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Store reads assessments and the career catalog and writes match results.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates a connection pool. No connection is made until first use.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open(driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return New(db, logger), nil
}

// New wraps an existing handle.
func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Ping tests the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
