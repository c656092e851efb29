package introspection

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
)

// postgresCatalog reads pg_catalog for names and comments and information_schema for
// foreign keys, pairing composite key columns by position.
type postgresCatalog struct{}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func (postgresCatalog) tables(ctx context.Context, db *sqlx.DB, schemaName string) ([]tableRow, error) {
	ctx, span := startSpan(ctx, "introspection.get_tables",
		attribute.String("db.name", schemaName),
	)
	defer span.End()

	query := psql.Select(
		"c.relname AS table_name",
		"COALESCE(obj_description(c.oid, 'pg_class'), '') AS table_comment",
	).
		From("pg_catalog.pg_class c").
		Join("pg_catalog.pg_namespace n ON n.oid = c.relnamespace").
		Where(sq.Eq{"n.nspname": schemaName}).
		Where(sq.Eq{"c.relkind": []string{"r", "p"}}).
		OrderBy("c.relname")
	return selectAll[tableRow](ctx, db, span, query)
}

func (postgresCatalog) columns(ctx context.Context, db *sqlx.DB, schemaName string, tables []tableRow) ([]columnRow, error) {
	ctx, span := startSpan(ctx, "introspection.get_columns",
		attribute.String("db.name", schemaName),
		attribute.Int("db.tables", len(tables)),
	)
	defer span.End()

	query := psql.Select(
		"c.relname AS table_name",
		"a.attname AS column_name",
		"COALESCE(col_description(a.attrelid, a.attnum), '') AS column_comment",
	).
		From("pg_catalog.pg_attribute a").
		Join("pg_catalog.pg_class c ON c.oid = a.attrelid").
		Join("pg_catalog.pg_namespace n ON n.oid = c.relnamespace").
		Where(sq.Eq{"n.nspname": schemaName}).
		Where(sq.Eq{"c.relname": tableNames(tables)}).
		Where("a.attnum > 0").
		Where("NOT a.attisdropped").
		OrderBy("c.relname", "a.attnum")
	return selectAll[columnRow](ctx, db, span, query)
}

func (postgresCatalog) foreignKeys(ctx context.Context, db *sqlx.DB, schemaName string, tables []tableRow) ([]foreignKeyRow, error) {
	ctx, span := startSpan(ctx, "introspection.get_foreign_keys",
		attribute.String("db.name", schemaName),
	)
	defer span.End()

	query := psql.Select(
		"kcu.table_name AS table_name",
		"kcu.column_name AS column_name",
		"ref.table_name AS referenced_table",
		"ref.column_name AS referenced_column",
		"kcu.constraint_name AS constraint_name",
		"kcu.ordinal_position AS ordinal_position",
	).
		From("information_schema.referential_constraints rc").
		Join("information_schema.key_column_usage kcu ON kcu.constraint_schema = rc.constraint_schema AND kcu.constraint_name = rc.constraint_name").
		Join("information_schema.key_column_usage ref ON ref.constraint_schema = rc.unique_constraint_schema AND ref.constraint_name = rc.unique_constraint_name AND ref.ordinal_position = kcu.position_in_unique_constraint").
		Where(sq.Eq{"kcu.table_schema": schemaName}).
		Where(sq.Eq{"ref.table_schema": schemaName}).
		OrderBy("kcu.table_name", "kcu.constraint_name", "kcu.ordinal_position")
	return selectAll[foreignKeyRow](ctx, db, span, query)
}
