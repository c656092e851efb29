package schemamodel

import (
	"bytes"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talk2data/internal/logging"
)

const retailJSON = `{
  "name": "retail",
  "schema": {
    "tables": [
      {"name": "fact_sales", "role": "fact", "grain": "one row per sale line",
       "columns": {"sale_id": "primary key", "store_id": "", "product_id": "", "amount": "net amount"}},
      {"name": "dim_store", "grain": "one row per store", "columns": ["store_id", "store_name", "region"]},
      {"name": "dim_product", "columns": [{"name": "product_id"}, {"name": "category", "description": "product category"}]}
    ],
    "relationships": [
      {"from": "fact_sales.store_id", "to": "dim_store.store_id"},
      {"from": "fact_sales.product_id", "to": "dim_product.product_id", "join_type": "inner   join", "description": "sold product"}
    ],
    "notes": ["amounts are net of tax"],
    "metrics": {
      "revenue": {"formula": "SUM(fact_sales.amount)", "tables": ["fact_sales"], "keywords": ["sales", "turnover"]}
    }
  },
  "synonyms": {"shop": ["store", "outlet"], "item": "product"},
  "glossary": {"net": "after tax"},
  "examples": [{"question": "revenue by region", "sql": "SELECT 1"}]
}`

func testLogger(buf io.Writer) *logging.Logger {
	if buf == nil {
		buf = io.Discard
	}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &logging.Logger{Logger: slog.New(handler)}
}

func mustParse(t *testing.T, data string, opts ...ParseOption) *Model {
	t.Helper()
	doc, err := DecodeDocument([]byte(data))
	require.NoError(t, err)
	opts = append([]ParseOption{WithLogger(testLogger(nil))}, opts...)
	model, err := Parse(doc, opts...)
	require.NoError(t, err)
	return model
}

func TestParse_NestedSchemaLayout(t *testing.T) {
	model := mustParse(t, retailJSON)

	assert.Equal(t, "retail", model.Name)
	assert.Equal(t, []string{"fact_sales", "dim_store", "dim_product"}, model.TableNames())

	sales, ok := model.Table("fact_sales")
	require.True(t, ok)
	assert.Equal(t, RoleFact, sales.Role)
	assert.True(t, sales.RoleDeclared)
	assert.Equal(t, "one row per sale line", sales.Grain)
	assert.Equal(t, []string{"sale_id", "store_id", "product_id", "amount"}, sales.ColumnNames())
	assert.Equal(t, "net amount", sales.Columns[3].Description)

	store, ok := model.Table("dim_store")
	require.True(t, ok)
	assert.Equal(t, RoleDimension, store.Role)
	assert.False(t, store.RoleDeclared)
	assert.Equal(t, []string{"store_id", "store_name", "region"}, store.ColumnNames())

	product, _ := model.Table("dim_product")
	assert.Equal(t, "product category", product.Columns[1].Description)

	require.Len(t, model.Relationships, 2)
	assert.Equal(t, Relationship{
		FromTable: "fact_sales", FromColumn: "store_id",
		ToTable: "dim_store", ToColumn: "store_id",
		JoinKind: "LEFT JOIN",
	}, model.Relationships[0])
	assert.Equal(t, "INNER JOIN", model.Relationships[1].JoinKind)
	assert.Equal(t, "sold product", model.Relationships[1].Description)

	assert.Equal(t, []string{"amounts are net of tax"}, model.Notes)
	assert.Equal(t, []string{"store", "outlet"}, model.Synonyms["shop"])
	assert.Equal(t, []string{"product"}, model.Synonyms["item"])
	assert.Equal(t, "after tax", model.Glossary["net"])
	assert.Equal(t, []Example{{Question: "revenue by region", SQL: "SELECT 1"}}, model.Examples)
}

func TestParse_LegacyKPIFallback(t *testing.T) {
	var logs bytes.Buffer
	doc, err := DecodeDocument([]byte(retailJSON))
	require.NoError(t, err)

	model, err := Parse(doc, WithLogger(testLogger(&logs)))
	require.NoError(t, err)

	kpi, ok := model.KPI("revenue")
	require.True(t, ok)
	assert.Equal(t, "SUM(fact_sales.amount)", kpi.Formula)
	assert.Equal(t, []string{"fact_sales"}, kpi.Tables)
	assert.Equal(t, []string{"sales", "turnover"}, kpi.Keywords)
	assert.Equal(t, "schema.metrics", model.KPISource)
	assert.Equal(t, 1, strings.Count(logs.String(), "kpis read from legacy location"))
}

func TestParse_TopLevelKPIsWin(t *testing.T) {
	model := mustParse(t, `
tables:
  - name: fact_orders
kpis:
  - name: orders
    formula: COUNT(*)
schema:
  metrics:
    ignored: SUM(x)
`)
	require.Len(t, model.KPIs, 1)
	assert.Equal(t, "orders", model.KPIs[0].Name)
	assert.Equal(t, "kpis", model.KPISource)
}

func TestParse_MissingKPIsIsNotAnError(t *testing.T) {
	model := mustParse(t, "tables:\n  - name: dim_date\n")
	assert.Empty(t, model.KPIs)
	assert.Empty(t, model.KPISource)
}

func TestParse_ExplicitRelationshipEndpoints(t *testing.T) {
	model := mustParse(t, `
tables:
  - {name: orders, role: fact}
  - {name: customers}
relationships:
  - from_table: orders
    from_column: customer_id
    to_table: customers
    to_column: id
    join_kind: inner join
`)
	require.Len(t, model.Relationships, 1)
	rel := model.Relationships[0]
	assert.Equal(t, "INNER JOIN customers ON orders.customer_id = customers.id", rel.JoinClause())

	orders, _ := model.Table("orders")
	assert.Equal(t, RoleFact, orders.Role)
}

func TestParse_TablesAsMapping(t *testing.T) {
	model := mustParse(t, `
tables:
  fact_visits:
    grain: one row per visit
  dim_page:
`)
	assert.Equal(t, []string{"fact_visits", "dim_page"}, model.TableNames())
	visits, _ := model.Table("fact_visits")
	assert.Equal(t, RoleFact, visits.Role)
}

func TestParse_FactPrefixes(t *testing.T) {
	model := mustParse(t, "tables:\n  - name: f_sales\n  - name: fact_other\n", WithFactPrefixes("f_"))
	sales, _ := model.Table("f_sales")
	other, _ := model.Table("fact_other")
	assert.Equal(t, RoleFact, sales.Role)
	assert.Equal(t, RoleDimension, other.Role)
}

func TestParse_NameOption(t *testing.T) {
	model := mustParse(t, "tables:\n  - name: a\n", WithName("fallback"))
	assert.Equal(t, "fallback", model.Name)
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name    string
		doc     string
		section string
		reason  string
	}{
		{"missing tables", `{"relationships": []}`, "tables", "missing tables section"},
		{"duplicate table", "tables:\n  - name: a\n  - name: a\n", "tables", `duplicate table "a"`},
		{"empty table name", "tables:\n  - grain: x\n", "tables", "table name is required"},
		{"unknown role", "tables:\n  - name: a\n    role: bridge\n", "tables", `unknown role "bridge"`},
		{"undeclared table", "tables:\n  - name: a\nrelationships:\n  - {from: a.id, to: b.id}\n", "relationships", `undeclared table "b"`},
		{"malformed endpoint", "tables:\n  - name: a\nrelationships:\n  - {from: a, to: a.id}\n", "relationships", "malformed from endpoint"},
		{"missing explicit field", "tables:\n  - name: a\nrelationships:\n  - {from_table: a, from_column: id, to_table: a}\n", "relationships", "missing to_column"},
		{"tables scalar", "tables: nope\n", "tables", "expected a list or mapping"},
		{"duplicate column", "tables:\n  - name: a\n    columns: [id, id]\n", "tables", `duplicate column "id"`},
		{"top level list", "[1, 2]", "document", "expected a mapping"},
		{"relationships mapping", "tables:\n  - name: a\nrelationships: {x: 1}\n", "relationships", "expected a list"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := DecodeDocument([]byte(tc.doc))
			require.NoError(t, err)

			model, err := Parse(doc, WithLogger(testLogger(nil)))
			require.Error(t, err)
			assert.Nil(t, model)
			assert.True(t, IsParseErr(err))

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.section, pe.Section)
			assert.Contains(t, pe.Reason, tc.reason)
		})
	}
}

func TestDecodeDocument_Invalid(t *testing.T) {
	_, err := DecodeDocument([]byte("   "))
	assert.True(t, IsParseErr(err))

	_, err = DecodeDocument([]byte(`{"tables": [`))
	assert.True(t, IsParseErr(err))

	_, err = DecodeDocument([]byte(`{"a": 1} {"b": 2}`))
	assert.True(t, IsParseErr(err))

	_, err = DecodeDocument([]byte("tables: [a\n"))
	assert.True(t, IsParseErr(err))
}

func TestDecodeDocument_FlowStyleYAML(t *testing.T) {
	model := mustParse(t, "{tables: [{name: fact_sales}, {name: dim_store}], relationships: [{from: fact_sales.store_id, to: dim_store.store_id}]}")
	assert.Equal(t, []string{"fact_sales", "dim_store"}, model.TableNames())
	require.Len(t, model.Relationships, 1)
	assert.Equal(t, "LEFT JOIN dim_store ON fact_sales.store_id = dim_store.store_id", model.Relationships[0].JoinClause())
}

func TestDecodeDocument_BadJSONReportsJSONError(t *testing.T) {
	_, err := DecodeDocument([]byte(`{"tables": [`))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "invalid JSON", pe.Reason)
}

func TestDecodeDocument_JSONWithTabsKeepsOrder(t *testing.T) {
	data := "{\n\t\"tables\": [\n\t\t{\"name\": \"z\"},\n\t\t{\"name\": \"a\"},\n\t\t{\"name\": \"m\"}\n\t]\n}"
	model := mustParse(t, data)
	assert.Equal(t, []string{"z", "a", "m"}, model.TableNames())
}

func TestLoaders(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "retail.json")
	require.NoError(t, os.WriteFile(path, []byte(retailJSON), 0o600))

	fromFile, err := Load(FileLoader(path), WithLogger(testLogger(nil)))
	require.NoError(t, err)

	fromBytes, err := Load(BytesLoader([]byte(retailJSON)), WithLogger(testLogger(nil)))
	require.NoError(t, err)
	assert.Equal(t, fromFile.Fingerprint(), fromBytes.Fingerprint())

	spec := SpecFromModel(fromFile)
	fromValue, err := Load(ValueLoader(spec), WithLogger(testLogger(nil)))
	require.NoError(t, err)
	assert.Equal(t, fromFile.TableNames(), fromValue.TableNames())
	assert.Equal(t, fromFile.Relationships, fromValue.Relationships)
	assert.Equal(t, fromFile.Fingerprint(), fromValue.Fingerprint())

	_, err = Load(FileLoader(filepath.Join(dir, "missing.json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.False(t, IsParseErr(err))
}

func TestFingerprint_ChangesWithRelationships(t *testing.T) {
	base := mustParse(t, "tables:\n  - name: a\n  - name: b\n")
	joined := mustParse(t, "tables:\n  - name: a\n  - name: b\nrelationships:\n  - {from: a.b_id, to: b.id}\n")
	assert.NotEqual(t, base.Fingerprint(), joined.Fingerprint())
	assert.Len(t, base.Fingerprint(), 64)
}

func TestModelClone_IsIndependent(t *testing.T) {
	model := mustParse(t, retailJSON)
	fingerprint := model.Fingerprint()

	clone := model.Clone()
	assert.Equal(t, model, clone)

	clone.Tables[0].Columns[0].Name = "changed"
	clone.Tables = append(clone.Tables, Table{Name: "dim_extra"})
	clone.Relationships[0].ToTable = "changed"
	clone.Synonyms["shop"][0] = "changed"
	clone.Glossary["net"] = "changed"
	clone.KPIs[0].Tables[0] = "changed"
	clone.Notes[0] = "changed"

	assert.Equal(t, "sale_id", model.Tables[0].Columns[0].Name)
	assert.Len(t, model.Tables, 3)
	assert.Equal(t, "dim_store", model.Relationships[0].ToTable)
	assert.Equal(t, "store", model.Synonyms["shop"][0])
	assert.Equal(t, "after tax", model.Glossary["net"])
	assert.Equal(t, "fact_sales", model.KPIs[0].Tables[0])
	assert.Equal(t, "amounts are net of tax", model.Notes[0])
	assert.Equal(t, fingerprint, model.Fingerprint())
}

func TestRelationshipReverse(t *testing.T) {
	rel := Relationship{FromTable: "fact_sales", FromColumn: "store_id", ToTable: "dim_store", ToColumn: "store_id", JoinKind: "LEFT JOIN"}
	assert.Equal(t, "LEFT JOIN dim_store ON fact_sales.store_id = dim_store.store_id", rel.JoinClause())
	assert.Equal(t, "LEFT JOIN fact_sales ON dim_store.store_id = fact_sales.store_id", rel.Reverse().JoinClause())
	assert.Equal(t, rel, rel.Reverse().Reverse())
}

func TestDocumentEncodeRoundTrip(t *testing.T) {
	spec := Spec{
		Name: "s",
		Tables: []TableSpec{
			{Name: "fact_a", Columns: []ColumnSpec{{Name: "b_id"}}},
			{Name: "dim_b", Columns: []ColumnSpec{{Name: "id", Description: "key"}}},
		},
		Relationships: []RelationshipSpec{{FromTable: "fact_a", FromColumn: "b_id", ToTable: "dim_b", ToColumn: "id"}},
	}
	doc, err := spec.Document()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, doc.Encode(&buf))
	model := mustParse(t, buf.String())
	assert.Equal(t, []string{"fact_a", "dim_b"}, model.TableNames())
	assert.Equal(t, "LEFT JOIN", model.Relationships[0].JoinKind)
}
