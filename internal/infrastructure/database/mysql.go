package database

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ideinstein/leadbridge/internal/config"
)

// Connection wraps the MySQL-compatible pool holding lead submissions.
// sql.DB is already safe for concurrent use; no extra locking is added.
type Connection struct {
	db *sql.DB
}

var tlsOnce sync.Once // TLS config may be registered only once per process

// Open connects to the database described by cfg and verifies it with a ping
func Open(ctx context.Context, cfg config.DBConfig) (*Connection, error) {
	dsn := DSN(cfg)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// MaxIdleConns matches MaxOpenConns so connections are not churned under load
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(3 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{db: db}, nil
}

// DSN builds the driver connection string. Remote hosts get TLS.
func DSN(cfg config.DBConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Host + ":" + cfg.Port
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	// Session time zone matches Loc so NOW() agrees with times written from Go
	mc.Params = map[string]string{"charset": "utf8mb4", "time_zone": "'+00:00'"}

	if cfg.Host != "" && cfg.Host != "127.0.0.1" && cfg.Host != "localhost" {
		tlsOnce.Do(func() {
			_ = mysql.RegisterTLSConfig("remote", &tls.Config{
				MinVersion: tls.VersionTLS12,
				ServerName: cfg.Host,
			})
		})
		mc.TLSConfig = "remote"
	}
	return mc.FormatDSN()
}

// NewFromDB wraps an existing pool, used by tests with sqlmock
func NewFromDB(db *sql.DB) *Connection {
	return &Connection{db: db}
}

// DB returns the underlying *sql.DB connection
func (c *Connection) DB() *sql.DB {
	return c.db
}

// BeginTx starts a new transaction with context
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, opts)
}

// Close closes the database connection
func (c *Connection) Close() error {
	return c.db.Close()
}
