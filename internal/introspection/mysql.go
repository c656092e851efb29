package introspection

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
)

// mysqlCatalog reads MySQL and TiDB INFORMATION_SCHEMA.
type mysqlCatalog struct{}

func (mysqlCatalog) tables(ctx context.Context, db *sqlx.DB, schemaName string) ([]tableRow, error) {
	ctx, span := startSpan(ctx, "introspection.get_tables",
		attribute.String("db.name", schemaName),
	)
	defer span.End()

	query := sq.Select(
		"TABLE_NAME AS table_name",
		"COALESCE(TABLE_COMMENT, '') AS table_comment",
	).
		From("INFORMATION_SCHEMA.TABLES").
		Where(sq.Eq{"TABLE_SCHEMA": schemaName}).
		Where(sq.Eq{"TABLE_TYPE": "BASE TABLE"}).
		OrderBy("TABLE_NAME")
	return selectAll[tableRow](ctx, db, span, query)
}

func (mysqlCatalog) columns(ctx context.Context, db *sqlx.DB, schemaName string, tables []tableRow) ([]columnRow, error) {
	ctx, span := startSpan(ctx, "introspection.get_columns",
		attribute.String("db.name", schemaName),
		attribute.Int("db.tables", len(tables)),
	)
	defer span.End()

	query := sq.Select(
		"TABLE_NAME AS table_name",
		"COLUMN_NAME AS column_name",
		"COALESCE(COLUMN_COMMENT, '') AS column_comment",
	).
		From("INFORMATION_SCHEMA.COLUMNS").
		Where(sq.Eq{"TABLE_SCHEMA": schemaName}).
		Where(sq.Eq{"TABLE_NAME": tableNames(tables)}).
		OrderBy("TABLE_NAME", "ORDINAL_POSITION")
	return selectAll[columnRow](ctx, db, span, query)
}

func (mysqlCatalog) foreignKeys(ctx context.Context, db *sqlx.DB, schemaName string, tables []tableRow) ([]foreignKeyRow, error) {
	ctx, span := startSpan(ctx, "introspection.get_foreign_keys",
		attribute.String("db.name", schemaName),
	)
	defer span.End()

	query := sq.Select(
		"TABLE_NAME AS table_name",
		"COLUMN_NAME AS column_name",
		"REFERENCED_TABLE_NAME AS referenced_table",
		"REFERENCED_COLUMN_NAME AS referenced_column",
		"CONSTRAINT_NAME AS constraint_name",
		"ORDINAL_POSITION AS ordinal_position",
	).
		From("INFORMATION_SCHEMA.KEY_COLUMN_USAGE").
		Where(sq.Eq{"TABLE_SCHEMA": schemaName}).
		Where(sq.Eq{"REFERENCED_TABLE_SCHEMA": schemaName}).
		Where(sq.NotEq{"REFERENCED_TABLE_NAME": nil}).
		OrderBy("TABLE_NAME", "CONSTRAINT_NAME", "ORDINAL_POSITION")
	return selectAll[foreignKeyRow](ctx, db, span, query)
}
