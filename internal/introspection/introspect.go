// Package introspection reads table, column and foreign key metadata from a live
// database catalog and turns it into a schema document.
package introspection

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"talk2data/internal/logging"
	"talk2data/internal/schemamodel"
)

// Options controls what Introspect emits.
type Options struct {
	// Name is written as the document name. Defaults to the schema name.
	Name string
	// Include and Exclude are table name globs (path.Match syntax). Exclude wins.
	Include []string
	Exclude []string
	// FactPrefixes mark tables as facts. Defaults to fact_.
	FactPrefixes []string
	Logger       *logging.Logger
}

type tableRow struct {
	Name    string `db:"table_name"`
	Comment string `db:"table_comment"`
}

type columnRow struct {
	Table   string `db:"table_name"`
	Name    string `db:"column_name"`
	Comment string `db:"column_comment"`
}

type foreignKeyRow struct {
	Table            string `db:"table_name"`
	Column           string `db:"column_name"`
	ReferencedTable  string `db:"referenced_table"`
	ReferencedColumn string `db:"referenced_column"`
	ConstraintName   string `db:"constraint_name"`
	OrdinalPosition  int    `db:"ordinal_position"`
}

// catalog is the per-dialect query surface.
type catalog interface {
	tables(ctx context.Context, db *sqlx.DB, schemaName string) ([]tableRow, error)
	columns(ctx context.Context, db *sqlx.DB, schemaName string, tables []tableRow) ([]columnRow, error)
	foreignKeys(ctx context.Context, db *sqlx.DB, schemaName string, tables []tableRow) ([]foreignKeyRow, error)
}

// Introspect reads the catalog of schemaName and returns a schema spec. Every foreign
// key column pair between two included tables becomes one LEFT JOIN relationship.
func Introspect(ctx context.Context, db *sqlx.DB, dialect Dialect, schemaName string, opts Options) (schemamodel.Spec, error) {
	ctx, span := startSpan(ctx, "introspection.build_schema",
		attribute.String("db.system", string(dialect)),
		attribute.String("db.name", schemaName),
	)
	defer span.End()

	logger := opts.Logger
	if logger == nil {
		logger = &logging.Logger{Logger: slog.Default()}
	}
	cat := dialect.catalog()

	tables, err := cat.tables(ctx, db, schemaName)
	if err != nil {
		recordSpanError(span, err)
		return schemamodel.Spec{}, fmt.Errorf("failed to get tables: %w", err)
	}
	tables = filterTables(tables, opts.Include, opts.Exclude)
	if len(tables) == 0 {
		err := fmt.Errorf("no tables found in %s schema %q", dialect, schemaName)
		recordSpanError(span, err)
		return schemamodel.Spec{}, err
	}

	columns, err := cat.columns(ctx, db, schemaName, tables)
	if err != nil {
		recordSpanError(span, err)
		return schemamodel.Spec{}, fmt.Errorf("failed to get columns: %w", err)
	}

	foreignKeys, err := cat.foreignKeys(ctx, db, schemaName, tables)
	if err != nil {
		recordSpanError(span, err)
		return schemamodel.Spec{}, fmt.Errorf("failed to get foreign keys: %w", err)
	}

	spec := buildSpec(tables, columns, foreignKeys, opts, logger)
	if spec.Name == "" {
		spec.Name = schemaName
	}
	span.SetAttributes(
		attribute.Int("introspection.tables", len(spec.Tables)),
		attribute.Int("introspection.relationships", len(spec.Relationships)),
	)
	logger.Info("schema introspected",
		slog.String("dialect", string(dialect)),
		slog.String("schema", schemaName),
		slog.Int("tables", len(spec.Tables)),
		slog.Int("relationships", len(spec.Relationships)),
	)
	return spec, nil
}

func buildSpec(tables []tableRow, columns []columnRow, foreignKeys []foreignKeyRow, opts Options, logger *logging.Logger) schemamodel.Spec {
	prefixes := opts.FactPrefixes
	if len(prefixes) == 0 {
		prefixes = []string{schemamodel.DefaultFactPrefix}
	}

	byTable := make(map[string][]schemamodel.ColumnSpec, len(tables))
	for _, col := range columns {
		byTable[col.Table] = append(byTable[col.Table], schemamodel.ColumnSpec{
			Name:        col.Name,
			Description: strings.TrimSpace(col.Comment),
		})
	}

	spec := schemamodel.Spec{Name: opts.Name}
	position := make(map[string]int, len(tables))
	for i, table := range tables {
		position[table.Name] = i
		role := schemamodel.RoleDimension
		for _, prefix := range prefixes {
			if strings.HasPrefix(table.Name, prefix) {
				role = schemamodel.RoleFact
				break
			}
		}
		cols := byTable[table.Name]
		if cols == nil {
			cols = []schemamodel.ColumnSpec{}
		}
		spec.Tables = append(spec.Tables, schemamodel.TableSpec{
			Name:        table.Name,
			Role:        string(role),
			Description: strings.TrimSpace(table.Comment),
			Columns:     cols,
		})
	}

	for _, fk := range sortForeignKeys(foreignKeys, position) {
		if _, ok := position[fk.Table]; !ok {
			continue
		}
		if _, ok := position[fk.ReferencedTable]; !ok {
			logger.Debug("skipping foreign key to table outside the document",
				slog.String("table", fk.Table),
				slog.String("constraint", fk.ConstraintName),
				slog.String("referenced_table", fk.ReferencedTable),
			)
			continue
		}
		spec.Relationships = append(spec.Relationships, schemamodel.RelationshipSpec{
			FromTable:   fk.Table,
			FromColumn:  fk.Column,
			ToTable:     fk.ReferencedTable,
			ToColumn:    fk.ReferencedColumn,
			JoinType:    schemamodel.DefaultJoinKind,
			Description: fk.ConstraintName,
		})
	}
	return spec
}

// sortForeignKeys orders rows by table position, constraint name and ordinal position.
// Rows without an ordinal sort after numbered ones in the same constraint.
func sortForeignKeys(rows []foreignKeyRow, position map[string]int) []foreignKeyRow {
	sorted := append([]foreignKeyRow(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Table != b.Table {
			pa, okA := position[a.Table]
			pb, okB := position[b.Table]
			if okA != okB {
				return okA
			}
			if pa != pb {
				return pa < pb
			}
			return a.Table < b.Table
		}
		if a.ConstraintName != b.ConstraintName {
			return a.ConstraintName < b.ConstraintName
		}
		if a.OrdinalPosition != b.OrdinalPosition {
			if a.OrdinalPosition == 0 {
				return false
			}
			if b.OrdinalPosition == 0 {
				return true
			}
			return a.OrdinalPosition < b.OrdinalPosition
		}
		return a.Column < b.Column
	})
	return sorted
}

func filterTables(tables []tableRow, include, exclude []string) []tableRow {
	if len(include) == 0 && len(exclude) == 0 {
		return tables
	}
	filtered := make([]tableRow, 0, len(tables))
	for _, table := range tables {
		if len(include) > 0 && !matchesAny(table.Name, include) {
			continue
		}
		if matchesAny(table.Name, exclude) {
			continue
		}
		filtered = append(filtered, table)
	}
	return filtered
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func tableNames(tables []tableRow) []string {
	names := make([]string, len(tables))
	for i, table := range tables {
		names[i] = table.Name
	}
	return names
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("talk2data/introspection")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
