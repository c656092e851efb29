package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talk2data/internal/introspection"
)

const retailDoc = `
name: retail
tables:
  - name: fact_sales
    grain: one row per sale line
    columns: [sale_id, store_id, date_id, amount]
  - name: dim_store
    columns: [store_id, region]
  - name: dim_date
    columns: [date_id, month]
relationships:
  - {from: fact_sales.store_id, to: dim_store.store_id}
  - {from: fact_sales.date_id, to: dim_date.date_id}
kpis:
  revenue: SUM(fact_sales.amount)
notes:
  - amounts exclude tax
`

const islandDoc = `
name: islands
tables:
  - name: fact_sales
    columns: [sale_id, store_id]
  - name: dim_store
    columns: [store_id]
  - name: dim_weather
    columns: [day]
relationships:
  - {from: fact_sales.store_id, to: dim_store.store_id}
`

type cliResult struct {
	stdout string
	stderr string
	err    error
}

// runCLI executes the command tree against an isolated HOME so no stray config file
// is picked up.
func runCLI(t *testing.T, ctx context.Context, args ...string) cliResult {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var stdout, stderr bytes.Buffer
	err := execute(ctx, args, &stdout, &stderr, buildInfo{version: "1.2.3", commit: "abc123", date: "2026-01-01"})
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	res := runCLI(t, context.Background(), "version")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "talk2data 1.2.3")
	assert.Contains(t, res.stdout, "commit:  abc123")

	res = runCLI(t, context.Background(), "version", "--json")
	require.NoError(t, res.err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &info))
	assert.Equal(t, "abc123", info["commit"])
	assert.Equal(t, "1.2.3", info["version"])
}

func TestJoins_FromSchemaFile(t *testing.T) {
	schema := writeFile(t, filepath.Join(t.TempDir(), "retail.yaml"), retailDoc)

	res := runCLI(t, context.Background(), "joins", "--schema", schema, "dim_store", "fact_sales", "dim_date")
	require.NoError(t, res.err)
	assert.Equal(t, "anchor: fact_sales\n"+
		"LEFT JOIN dim_store ON fact_sales.store_id = dim_store.store_id\n"+
		"LEFT JOIN dim_date ON fact_sales.date_id = dim_date.date_id\n", res.stdout)
}

func TestJoins_SingleTable(t *testing.T) {
	schema := writeFile(t, filepath.Join(t.TempDir(), "retail.yaml"), retailDoc)

	res := runCLI(t, context.Background(), "joins", "-s", schema, "dim_store")
	require.NoError(t, res.err)
	assert.Equal(t, "anchor: dim_store\n", res.stdout)
}

func TestJoins_JSONFromStore(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acme", "retail.yaml"), retailDoc)

	res := runCLI(t, context.Background(), "joins",
		"--schema.dir", dir, "--tenant", "acme", "--schema-id", "retail", "--json",
		"fact_sales,dim_store")
	require.NoError(t, res.err)

	var out joinsOutput
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.Equal(t, joinsOutput{
		Schema:  "retail",
		Anchor:  "fact_sales",
		Clauses: []string{"LEFT JOIN dim_store ON fact_sales.store_id = dim_store.store_id"},
	}, out)
}

func TestJoins_DefaultSchemaFromConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "retail.json"), `{
  "tables": [{"name": "fact_orders"}, {"name": "dim_customer"}],
  "relationships": [{"from": "fact_orders.customer_id", "to": "dim_customer.customer_id"}]
}`)
	cfgFile := writeFile(t, filepath.Join(t.TempDir(), "talk2data.yaml"),
		"schema:\n  dir: "+dir+"\n  default_id: retail\n")

	res := runCLI(t, context.Background(), "joins", "--config", cfgFile, "dim_customer", "fact_orders")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "LEFT JOIN dim_customer ON fact_orders.customer_id = dim_customer.customer_id")
}

func TestJoins_Errors(t *testing.T) {
	schema := writeFile(t, filepath.Join(t.TempDir(), "retail.yaml"), retailDoc)
	islands := writeFile(t, filepath.Join(t.TempDir(), "islands.yaml"), islandDoc)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no tables", []string{"joins", "--schema", schema}, "no tables requested"},
		{"unknown table", []string{"joins", "--schema", schema, "fact_sales", "dim_stores"}, "unknown table dim_stores (did you mean dim_store?)"},
		{"unreachable", []string{"joins", "--schema", islands, "fact_sales", "dim_weather"}, "unable to connect tables dim_weather"},
		{"missing schema file", []string{"joins", "--schema", filepath.Join(t.TempDir(), "absent.yaml"), "fact_sales"}, "absent.yaml"},
		{"no schema selected", []string{"joins", "fact_sales"}, "no schema selected"},
		{"schema not in store", []string{"joins", "--schema.dir", t.TempDir(), "--schema-id", "nope", "fact_sales"}, "schema not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, context.Background(), tt.args...)
			require.Error(t, res.err)
			assert.Contains(t, res.err.Error(), tt.want)
			assert.Empty(t, res.stdout)
		})
	}
}

func TestSummary(t *testing.T) {
	schema := writeFile(t, filepath.Join(t.TempDir(), "retail.yaml"), retailDoc)

	res := runCLI(t, context.Background(), "summary", "--schema", schema)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Table: fact_sales (fact)\n- Grain: one row per sale line\n- Columns: sale_id, store_id, date_id, amount\n")
	assert.Contains(t, res.stdout, "Table: dim_store (dimension)")
	assert.NotContains(t, res.stdout, "revenue")

	res = runCLI(t, context.Background(), "summary", "--schema", schema, "--enrich")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "revenue")
	assert.Contains(t, res.stdout, "amounts exclude tax")
}

func TestValidate(t *testing.T) {
	schema := writeFile(t, filepath.Join(t.TempDir(), "retail.yaml"), retailDoc)

	res := runCLI(t, context.Background(), "validate", "--schema", schema)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "schema: retail\n")
	assert.Contains(t, res.stdout, "tables: 3 (1 fact, 2 dimension)\n")
	assert.Contains(t, res.stdout, "relationships: 2\n")
	assert.Contains(t, res.stdout, "kpis: 1 (kpis)\n")
	assert.Contains(t, res.stdout, "anchor: fact_sales\n")
}

func TestValidate_DisconnectedTables(t *testing.T) {
	islands := writeFile(t, filepath.Join(t.TempDir(), "islands.yaml"), islandDoc)

	res := runCLI(t, context.Background(), "validate", "--schema", islands)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "kpis: 0\n")
	assert.Contains(t, res.stdout, "warning: not connected to the anchor: dim_weather\n")

	res = runCLI(t, context.Background(), "validate", "--schema", islands, "--strict")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "1 disconnected table(s)")
}

func TestValidate_RejectsInvalidDocument(t *testing.T) {
	schema := writeFile(t, filepath.Join(t.TempDir(), "broken.yaml"), "tables: 42\n")

	res := runCLI(t, context.Background(), "validate", "--schema", schema)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "tables")
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acme", "retail.yaml"), retailDoc)
	writeFile(t, filepath.Join(dir, "acme", "inventory.json"), `{"tables": [{"name": "fact_stock"}]}`)
	writeFile(t, filepath.Join(dir, "acme", "README.md"), "not a schema")

	res := runCLI(t, context.Background(), "list", "--schema.dir", dir, "--tenant", "acme")
	require.NoError(t, res.err)
	assert.Equal(t, "inventory\nretail\n", res.stdout)

	res = runCLI(t, context.Background(), "list", "--schema.dir", dir, "--tenant", "globex", "--json")
	require.NoError(t, res.err)
	assert.JSONEq(t, "[]", res.stdout)
}

func TestConfigValidationFailure(t *testing.T) {
	res := runCLI(t, context.Background(), "list", "--observability.logging.level", "trace")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "configuration validation failed")
	assert.Contains(t, res.stderr, "observability.logging.level")
}

func TestMetricsReportedOnExit(t *testing.T) {
	schema := writeFile(t, filepath.Join(t.TempDir(), "retail.yaml"), retailDoc)

	res := runCLI(t, context.Background(), "joins", "--schema", schema,
		"--observability.metrics_enabled", "fact_sales", "dim_store")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "name=registry.lookups.total")
	assert.Contains(t, res.stderr, "run_id=")
}

const sqliteStar = `
CREATE TABLE dim_store (
	store_id INTEGER PRIMARY KEY,
	region TEXT
);
CREATE TABLE fact_sales (
	sale_id INTEGER PRIMARY KEY,
	store_id INTEGER REFERENCES dim_store (store_id),
	amount REAL
);
CREATE TABLE audit_log (id INTEGER);
`

func createSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "star.db")
	ctx := context.Background()
	db, err := introspection.Open(ctx, introspection.ConnConfig{Dialect: introspection.DialectSQLite, DSN: path})
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, sqliteStar)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return path
}

func TestIntrospect_SQLiteToJoins(t *testing.T) {
	dbPath := createSQLite(t)
	out := filepath.Join(t.TempDir(), "star.yaml")

	res := runCLI(t, context.Background(), "introspect",
		"--driver", "sqlite", "--database", dbPath, "--name", "star", "--exclude", "audit_*", "-o", out)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "(2 tables, 1 relationships)")

	res = runCLI(t, context.Background(), "joins", "--schema", out, "dim_store", "fact_sales")
	require.NoError(t, res.err)
	assert.Equal(t, "anchor: fact_sales\nLEFT JOIN dim_store ON fact_sales.store_id = dim_store.store_id\n", res.stdout)
}

func TestIntrospect_JSONToStdout(t *testing.T) {
	dbPath := createSQLite(t)

	res := runCLI(t, context.Background(), "introspect", "--driver", "sqlite", "--dsn", dbPath, "--format", "json")
	require.NoError(t, res.err)

	var doc struct {
		Name   string `json:"name"`
		Tables []struct {
			Name string `json:"name"`
		} `json:"tables"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &doc))
	assert.Equal(t, "main", doc.Name)
	assert.Len(t, doc.Tables, 3)
}

func TestIntrospect_Errors(t *testing.T) {
	res := runCLI(t, context.Background(), "introspect", "--driver", "oracle", "--dsn", "x")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "unsupported database driver")

	res = runCLI(t, context.Background(), "introspect", "--driver", "sqlite")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "sqlite file")

	res = runCLI(t, context.Background(), "introspect", "--driver", "sqlite", "--database", "x.db", "--format", "toml")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "unsupported format")
}

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		format, output, want string
	}{
		{"", "", "yaml"},
		{"", "out.JSON", "json"},
		{"", "out.yml", "yaml"},
		{"yml", "out.json", "yaml"},
		{"JSON", "", "json"},
	}
	for _, tt := range tests {
		got, err := resolveFormat(tt.format, tt.output)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "format=%q output=%q", tt.format, tt.output)
	}
}

func TestSplitTables(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitTables([]string{"a,b", " c ", ","}))
	assert.Nil(t, splitTables(nil))
}

func TestWatch_Once(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acme", "retail.yaml"), retailDoc)

	res := runCLI(t, context.Background(), "watch", "--schema.dir", dir, "--tenant", "acme", "--once")
	require.NoError(t, res.err)
	assert.Equal(t, "checked 1 schema(s), 0 changed\n", res.stdout)

	res = runCLI(t, context.Background(), "watch", "--schema.dir", t.TempDir(), "--once")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "no schemas to watch")
}

func TestWatch_PicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "retail.yaml"), retailDoc)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = os.WriteFile(path, []byte(islandDoc), 0o600)
	}()

	res := runCLI(t, ctx, "watch", "--schema.dir", dir,
		"--registry.refresh_min_interval", "10ms", "--registry.refresh_max_interval", "20ms")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "watching 1 schema(s)\n")
	assert.Contains(t, res.stdout, "changed retail ")
}
