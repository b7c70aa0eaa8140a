// Package postgres is the production storage.Storage implementation,
// backed by database/sql and github.com/lib/pq.
package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/nimbusid/authgateway/pkg/log"
)

// Config holds the connection parameters read from the environment by
// cmd/gatewayd. SSLMode is passed straight through to lib/pq, so any value
// it accepts ("disable", "require", "verify-full", ...) is valid here.
type Config struct {
	Host     string
	Port     uint16
	Database string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) dsn() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, sslMode)
}

// OpenURL connects using a postgres:// connection string (as produced by
// most managed Postgres providers) instead of discrete Config fields.
func OpenURL(url string, logger log.Logger) (*Conn, error) {
	return open(url, Config{}, logger)
}

// Open connects to Postgres, applies pending schema migrations, and
// returns a ready-to-use storage.Storage.
func Open(c Config, logger log.Logger) (*Conn, error) {
	return open(c.dsn(), c, logger)
}

func open(dsn string, c Config, logger log.Logger) (*Conn, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	maxOpen := c.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 10
	}
	maxIdle := c.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	conn := &Conn{db: db, logger: logger}
	n, err := conn.migrate()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	if n > 0 {
		logger.WithField("applied", n).Info("applied pending schema migrations")
	}
	return conn, nil
}
