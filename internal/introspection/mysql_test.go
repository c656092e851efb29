package introspection

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talk2data/internal/logging"
	"talk2data/internal/schemamodel"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestIntrospect_MySQL(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT TABLE_NAME AS table_name, COALESCE\(TABLE_COMMENT, ''\) AS table_comment FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = \? AND TABLE_TYPE = \? ORDER BY TABLE_NAME`).
		WithArgs("shop", "BASE TABLE").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "table_comment"}).
			AddRow("dim_product", "products sold").
			AddRow("dim_store", "").
			AddRow("fact_sales", "sale lines"))

	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = \? AND TABLE_NAME IN \(\?,\?,\?\) ORDER BY TABLE_NAME, ORDINAL_POSITION`).
		WithArgs("shop", "dim_product", "dim_store", "fact_sales").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "column_comment"}).
			AddRow("dim_product", "product_id", "").
			AddRow("dim_product", "variant", "").
			AddRow("dim_product", "category", "top level category").
			AddRow("dim_store", "store_id", "").
			AddRow("fact_sales", "sale_id", "").
			AddRow("fact_sales", "store_id", "").
			AddRow("fact_sales", "product_id", "").
			AddRow("fact_sales", "variant", ""))

	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE WHERE TABLE_SCHEMA = \? AND REFERENCED_TABLE_SCHEMA = \? AND REFERENCED_TABLE_NAME IS NOT NULL`).
		WithArgs("shop", "shop").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "referenced_table", "referenced_column", "constraint_name", "ordinal_position"}).
			AddRow("fact_sales", "variant", "dim_product", "variant", "fk_product", 2).
			AddRow("fact_sales", "product_id", "dim_product", "product_id", "fk_product", 1).
			AddRow("fact_sales", "store_id", "dim_store", "store_id", "fk_store", 1))

	spec, err := Introspect(context.Background(), db, DialectMySQL, "shop", Options{Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "shop", spec.Name)
	require.Len(t, spec.Tables, 3)
	assert.Equal(t, schemamodel.TableSpec{
		Name:        "dim_product",
		Role:        "dimension",
		Description: "products sold",
		Columns: []schemamodel.ColumnSpec{
			{Name: "product_id"},
			{Name: "variant"},
			{Name: "category", Description: "top level category"},
		},
	}, spec.Tables[0])
	assert.Equal(t, "fact", spec.Tables[2].Role)

	assert.Equal(t, []schemamodel.RelationshipSpec{
		{FromTable: "fact_sales", FromColumn: "product_id", ToTable: "dim_product", ToColumn: "product_id", JoinType: "LEFT JOIN", Description: "fk_product"},
		{FromTable: "fact_sales", FromColumn: "variant", ToTable: "dim_product", ToColumn: "variant", JoinType: "LEFT JOIN", Description: "fk_product"},
		{FromTable: "fact_sales", FromColumn: "store_id", ToTable: "dim_store", ToColumn: "store_id", JoinType: "LEFT JOIN", Description: "fk_store"},
	}, spec.Relationships)

	doc, err := spec.Document()
	require.NoError(t, err)
	model, err := schemamodel.Parse(doc, schemamodel.WithLogger(logging.Discard()))
	require.NoError(t, err)
	assert.Len(t, model.Relationships, 3)
}

func TestIntrospect_FiltersTablesAndDanglingKeys(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES`).
		WithArgs("shop", "BASE TABLE").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "table_comment"}).
			AddRow("audit_log", "").
			AddRow("dim_store", "").
			AddRow("fact_sales", ""))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.COLUMNS`).
		WithArgs("shop", "dim_store", "fact_sales").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "column_comment"}).
			AddRow("fact_sales", "store_id", ""))
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE`).
		WithArgs("shop", "shop").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "referenced_table", "referenced_column", "constraint_name", "ordinal_position"}).
			AddRow("audit_log", "store_id", "dim_store", "store_id", "fk_audit", 1).
			AddRow("fact_sales", "store_id", "dim_store", "store_id", "fk_store", 1))

	spec, err := Introspect(context.Background(), db, DialectMySQL, "shop", Options{
		Name:    "retail",
		Exclude: []string{"audit_*"},
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "retail", spec.Name)
	assert.Equal(t, []schemamodel.ColumnSpec{}, spec.Tables[0].Columns)
	require.Len(t, spec.Relationships, 1)
	assert.Equal(t, "fk_store", spec.Relationships[0].Description)
}

func TestIntrospect_NoTables(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES`).
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "table_comment"}))

	_, err := Introspect(context.Background(), db, DialectMySQL, "empty", Options{Logger: logging.Discard()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no tables found in mysql schema "empty"`)
}

func TestIntrospect_QueryErrorIsWrapped(t *testing.T) {
	db, mock := newMockDB(t)
	boom := errors.New("access denied")
	mock.ExpectQuery(`FROM INFORMATION_SCHEMA.TABLES`).WillReturnError(boom)

	_, err := Introspect(context.Background(), db, DialectMySQL, "shop", Options{Logger: logging.Discard()})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to get tables")
}

func TestParseDialect(t *testing.T) {
	cases := map[string]Dialect{
		"mysql":      DialectMySQL,
		"TiDB":       DialectMySQL,
		"postgresql": DialectPostgres,
		"pgx":        DialectPostgres,
		"sqlite3":    DialectSQLite,
	}
	for name, want := range cases {
		got, err := ParseDialect(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseDialect("oracle")
	assert.Error(t, err)

	assert.Equal(t, "pgx", DialectPostgres.DriverName())
	assert.Equal(t, "sqlite", DialectSQLite.DriverName())
	assert.Equal(t, "mysql", DialectMySQL.DriverName())
}

func TestFilterTables(t *testing.T) {
	tables := []tableRow{{Name: "fact_sales"}, {Name: "dim_store"}, {Name: "tmp_load"}}

	assert.Equal(t, tables, filterTables(tables, nil, nil))
	assert.Equal(t, []string{"fact_sales", "dim_store"}, tableNames(filterTables(tables, []string{"fact_*", "dim_*"}, nil)))
	assert.Equal(t, []string{"fact_sales"}, tableNames(filterTables(tables, []string{"fact_*", "dim_*"}, []string{"dim_*"})))
}
