package introspection

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
)

// sqliteCatalog reads sqlite_master and the table_info / foreign_key_list pragmas.
// SQLite has no schema comments, so descriptions stay empty.
type sqliteCatalog struct{}

// pragmaColumnRow holds a row from PRAGMA table_info().
type pragmaColumnRow struct {
	CID     int            `db:"cid"`
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull int            `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
}

// pragmaForeignKeyRow holds a row from PRAGMA foreign_key_list().
type pragmaForeignKeyRow struct {
	ID       int            `db:"id"`
	Seq      int            `db:"seq"`
	Table    string         `db:"table"`
	From     string         `db:"from"`
	To       sql.NullString `db:"to"`
	OnUpdate string         `db:"on_update"`
	OnDelete string         `db:"on_delete"`
	Match    string         `db:"match"`
}

func (sqliteCatalog) tables(ctx context.Context, db *sqlx.DB, schemaName string) ([]tableRow, error) {
	ctx, span := startSpan(ctx, "introspection.get_tables",
		attribute.String("db.name", schemaName),
	)
	defer span.End()

	query := sq.Select("name AS table_name", "'' AS table_comment").
		From("sqlite_master").
		Where(sq.Eq{"type": "table"}).
		Where(sq.NotLike{"name": "sqlite_%"}).
		OrderBy("name")
	return selectAll[tableRow](ctx, db, span, query)
}

func (sqliteCatalog) columns(ctx context.Context, db *sqlx.DB, schemaName string, tables []tableRow) ([]columnRow, error) {
	ctx, span := startSpan(ctx, "introspection.get_columns",
		attribute.String("db.name", schemaName),
		attribute.Int("db.tables", len(tables)),
	)
	defer span.End()

	var columns []columnRow
	for _, table := range tables {
		rows, err := tableInfo(ctx, db, table.Name)
		if err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		for _, row := range rows {
			columns = append(columns, columnRow{Table: table.Name, Name: row.Name})
		}
	}
	return columns, nil
}

func (sqliteCatalog) foreignKeys(ctx context.Context, db *sqlx.DB, schemaName string, tables []tableRow) ([]foreignKeyRow, error) {
	ctx, span := startSpan(ctx, "introspection.get_foreign_keys",
		attribute.String("db.name", schemaName),
	)
	defer span.End()

	var foreignKeys []foreignKeyRow
	primaryKeys := make(map[string][]string)
	for _, table := range tables {
		var rows []pragmaForeignKeyRow
		query := fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteIdentifier(table.Name))
		if err := db.SelectContext(ctx, &rows, query); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("foreign_key_list for %q: %w", table.Name, err)
		}

		for _, row := range rows {
			referenced := row.To.String
			if !row.To.Valid || referenced == "" {
				// The key targets the referenced table's primary key implicitly.
				pk, ok := primaryKeys[row.Table]
				if !ok {
					var err error
					if pk, err = primaryKeyColumns(ctx, db, row.Table); err != nil {
						recordSpanError(span, err)
						return nil, err
					}
					primaryKeys[row.Table] = pk
				}
				if row.Seq >= len(pk) {
					continue
				}
				referenced = pk[row.Seq]
			}
			foreignKeys = append(foreignKeys, foreignKeyRow{
				Table:            table.Name,
				Column:           row.From,
				ReferencedTable:  row.Table,
				ReferencedColumn: referenced,
				ConstraintName:   fmt.Sprintf("fk_%s_%d", table.Name, row.ID),
				OrdinalPosition:  row.Seq + 1,
			})
		}
	}
	return foreignKeys, nil
}

func tableInfo(ctx context.Context, db *sqlx.DB, table string) ([]pragmaColumnRow, error) {
	var rows []pragmaColumnRow
	query := fmt.Sprintf("PRAGMA table_info(%s)", quoteIdentifier(table))
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("table_info for %q: %w", table, err)
	}
	return rows, nil
}

func primaryKeyColumns(ctx context.Context, db *sqlx.DB, table string) ([]string, error) {
	rows, err := tableInfo(ctx, db, table)
	if err != nil {
		return nil, err
	}
	var pkRows []pragmaColumnRow
	for _, row := range rows {
		if row.PK > 0 {
			pkRows = append(pkRows, row)
		}
	}
	sort.Slice(pkRows, func(i, j int) bool { return pkRows[i].PK < pkRows[j].PK })
	names := make([]string, len(pkRows))
	for i, row := range pkRows {
		names[i] = row.Name
	}
	return names, nil
}
