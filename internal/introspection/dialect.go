package introspection

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite"
)

// Dialect names a supported database catalog flavour.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect resolves a dialect name or common alias.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "tidb", "mariadb":
		return DialectMySQL, nil
	case "postgres", "postgresql", "pgx", "pg":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q (expected mysql, postgres or sqlite)", name)
}

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case DialectPostgres:
		return "pgx"
	case DialectSQLite:
		return "sqlite"
	default:
		return "mysql"
	}
}

func (d Dialect) systemAttribute() attribute.KeyValue {
	switch d {
	case DialectPostgres:
		return semconv.DBSystemPostgreSQL
	case DialectSQLite:
		return semconv.DBSystemSqlite
	default:
		return semconv.DBSystemMySQL
	}
}

func (d Dialect) catalog() catalog {
	switch d {
	case DialectPostgres:
		return postgresCatalog{}
	case DialectSQLite:
		return sqliteCatalog{}
	default:
		return mysqlCatalog{}
	}
}

// ConnConfig describes a catalog connection.
type ConnConfig struct {
	Dialect Dialect
	DSN     string
	// Traced wraps the driver with otelsql so catalog queries show up as spans.
	Traced bool
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, cfg ConnConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	driver := cfg.Dialect.DriverName()

	var db *sql.DB
	var err error
	if cfg.Traced {
		db, err = otelsql.Open(driver, cfg.DSN,
			otelsql.WithAttributes(cfg.Dialect.systemAttribute()),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		)
	} else {
		db, err = sql.Open(driver, cfg.DSN)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Dialect, err)
	}
	if cfg.Dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Dialect, err)
	}
	return sqlx.NewDb(db, driver), nil
}
