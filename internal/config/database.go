package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"talk2data/internal/introspection"
)

// Default ports used when database.port is unset.
const (
	defaultMySQLPort    = 4000
	defaultPostgresPort = 5432
)

// Dialect resolves database.driver.
func (d *DatabaseConfig) Dialect() (introspection.Dialect, error) {
	return introspection.ParseDialect(d.Driver)
}

// ConnectionDSN returns the driver DSN. An explicit DSN wins; otherwise one is built from
// the discrete fields.
func (d *DatabaseConfig) ConnectionDSN() (string, error) {
	dialect, err := d.Dialect()
	if err != nil {
		return "", err
	}
	if dsn := strings.TrimSpace(d.DSN); dsn != "" {
		return dsn, nil
	}

	switch dialect {
	case introspection.DialectSQLite:
		if d.Database == "" {
			return "", fmt.Errorf("database.database must name the sqlite file")
		}
		return d.Database, nil
	case introspection.DialectPostgres:
		return d.postgresDSN(), nil
	default:
		return d.mysqlDSN(), nil
	}
}

func (d *DatabaseConfig) port(fallback int) int {
	if d.Port > 0 {
		return d.Port
	}
	return fallback
}

func (d *DatabaseConfig) mysqlDSN() string {
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.port(defaultMySQLPort)))
	cfg.DBName = d.Database
	cfg.ParseTime = true
	cfg.TLSConfig = d.TLSMode
	if d.ConnectTimeout > 0 {
		cfg.Timeout = d.ConnectTimeout
	}
	return cfg.FormatDSN()
}

func (d *DatabaseConfig) postgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.port(defaultPostgresPort))),
		Path:   "/" + d.Database,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	query := url.Values{}
	if mode := postgresSSLMode(d.TLSMode); mode != "" {
		query.Set("sslmode", mode)
	}
	if d.ConnectTimeout > 0 {
		query.Set("connect_timeout", strconv.Itoa(int(d.ConnectTimeout.Seconds())))
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func postgresSSLMode(tlsMode string) string {
	switch tlsMode {
	case "false":
		return "disable"
	case "skip-verify":
		return "require"
	case "true":
		return "verify-full"
	default:
		return ""
	}
}

// SchemaName returns the catalog schema to introspect: the MySQL database (taken from
// the DSN when database.database is empty), the PostgreSQL schema, or sqlite "main".
func (d *DatabaseConfig) SchemaName() (string, error) {
	dialect, err := d.Dialect()
	if err != nil {
		return "", err
	}
	switch dialect {
	case introspection.DialectSQLite:
		return "main", nil
	case introspection.DialectPostgres:
		if d.Schema != "" {
			return d.Schema, nil
		}
		return "public", nil
	}

	if name := strings.TrimSpace(d.Database); name != "" {
		return name, nil
	}
	if dsn := strings.TrimSpace(d.DSN); dsn != "" {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		if parsed.DBName != "" {
			return parsed.DBName, nil
		}
	}
	return "", fmt.Errorf("no database name configured: set database.database or include /<database> in database.dsn")
}
