// Package tidbcloud provisions throwaway TiDB databases for integration tests.
package tidbcloud

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

var validDatabaseName = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

// TestDB is an isolated database dropped when the test ends.
type TestDB struct {
	DB           *sqlx.DB
	DatabaseName string
	// DSN connects to DatabaseName with the same credentials.
	DSN string
}

// Config holds TiDB connection information read from TIDB_* environment variables.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	TLSMode  string
}

// NewTestDB creates a uniquely named database and skips the test when TiDB credentials
// are not set.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	cfg := configFromEnv(t)
	dbName := fmt.Sprintf("t2d_%s_%d", sanitizeName(t.Name()), time.Now().UnixMilli())
	if !validDatabaseName.MatchString(dbName) {
		t.Fatalf("invalid database name generated: %s", dbName)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := sqlx.ConnectContext(ctx, "mysql", cfg.DSN(""))
	if err != nil {
		t.Fatalf("failed to connect to TiDB: %v", err)
	}
	defer func() { _ = admin.Close() }()

	if _, err := admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE `%s`", dbName)); err != nil {
		t.Fatalf("failed to create test database %s: %v", dbName, err)
	}

	dsn := cfg.DSN(dbName)
	db, err := sqlx.ConnectContext(ctx, "mysql", dsn)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	tdb := &TestDB{DB: db, DatabaseName: dbName, DSN: dsn}
	t.Cleanup(func() { tdb.teardown(t) })
	return tdb
}

// Exec runs each statement in order and fails the test on the first error.
func (tdb *TestDB) Exec(t *testing.T, statements ...string) {
	t.Helper()
	for i, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tdb.DB.Exec(stmt); err != nil {
			t.Fatalf("failed to execute statement %d: %v\nStatement: %s", i+1, err, stmt)
		}
	}
}

func (tdb *TestDB) teardown(t *testing.T) {
	t.Helper()
	if tdb.DB == nil {
		return
	}
	if _, err := tdb.DB.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", tdb.DatabaseName)); err != nil {
		t.Logf("warning: failed to drop test database %s: %v", tdb.DatabaseName, err)
	}
	if err := tdb.DB.Close(); err != nil {
		t.Logf("warning: failed to close test database connection: %v", err)
	}
}

// DSN formats a go-sql-driver DSN for database.
func (c Config) DSN(database string) string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = c.Host + ":" + c.Port
	mc.DBName = database
	mc.ParseTime = true
	mc.TLSConfig = c.TLSMode
	return mc.FormatDSN()
}

func configFromEnv(t *testing.T) Config {
	t.Helper()

	cfg := Config{
		Host:     os.Getenv("TIDB_HOST"),
		Port:     os.Getenv("TIDB_PORT"),
		User:     os.Getenv("TIDB_USER"),
		Password: os.Getenv("TIDB_PASSWORD"),
		TLSMode:  os.Getenv("TIDB_TLS_MODE"),
	}
	if prefix := os.Getenv("TIDB_USER_PREFIX"); prefix != "" && !strings.HasPrefix(cfg.User, prefix) {
		cfg.User = prefix + cfg.User
	}
	if cfg.Host == "" || cfg.User == "" {
		t.Skip("TiDB credentials not set; set TIDB_HOST, TIDB_USER and TIDB_PASSWORD to run integration tests")
	}
	if cfg.Port == "" {
		cfg.Port = "4000"
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = "true"
	}
	return cfg
}

// sanitizeName keeps database names short and alphanumeric.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}
