// Package schemamodel parses star-schema documents into an immutable model of tables,
// relationships and the enrichment sections used when drafting SQL.
package schemamodel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Role classifies a table within a star schema.
type Role string

const (
	RoleFact      Role = "fact"
	RoleDimension Role = "dimension"
)

// DefaultJoinKind is used when a relationship does not declare one.
const DefaultJoinKind = "LEFT JOIN"

// DefaultFactPrefix marks fact tables that do not declare a role.
const DefaultFactPrefix = "fact_"

// Column is a named column with an optional description.
type Column struct {
	Name        string
	Description string
}

// Table is a declared schema table.
type Table struct {
	Name string
	Role Role
	// RoleDeclared is true when the role came from the document rather than the name prefix.
	RoleDeclared bool
	Grain        string
	Description  string
	Columns      []Column
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// IsFact reports whether the table has the fact role.
func (t Table) IsFact() bool {
	return t.Role == RoleFact
}

// Relationship is a declared join between two tables.
// It renders from FromTable towards ToTable but may be traversed either way.
type Relationship struct {
	FromTable   string
	FromColumn  string
	ToTable     string
	ToColumn    string
	JoinKind    string
	Description string
}

// Reverse returns the relationship with its endpoints swapped.
func (r Relationship) Reverse() Relationship {
	return Relationship{
		FromTable:   r.ToTable,
		FromColumn:  r.ToColumn,
		ToTable:     r.FromTable,
		ToColumn:    r.FromColumn,
		JoinKind:    r.JoinKind,
		Description: r.Description,
	}
}

// Touches reports whether table is one of the relationship endpoints.
func (r Relationship) Touches(table string) bool {
	return r.FromTable == table || r.ToTable == table
}

// JoinClause renders "{kind} {to} ON {from}.{fromCol} = {to}.{toCol}".
func (r Relationship) JoinClause() string {
	kind := r.JoinKind
	if kind == "" {
		kind = DefaultJoinKind
	}
	return fmt.Sprintf("%s %s ON %s.%s = %s.%s", kind, r.ToTable, r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
}

func (r Relationship) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
}

// KPI is a named business metric. Tables is informational and not validated.
type KPI struct {
	Name        string
	Formula     string
	Description string
	Tables      []string
	Keywords    []string
}

// Example pairs a sample question with the SQL that answers it.
type Example struct {
	Question string
	SQL      string
}

// Model is the parsed schema. It is never mutated after Parse returns.
//
// A Model is shared by every caller that gets it from a registry, and its slices and
// maps are not copied on the way out. Callers must treat all fields as read-only; use
// Clone to get a copy that can be edited.
type Model struct {
	Name          string
	Tables        []Table
	Relationships []Relationship
	Synonyms      map[string][]string
	KPIs          []KPI
	Notes         []string
	Examples      []Example
	Glossary      map[string]string
	// KPISource names the document location the KPIs were read from, empty when absent.
	KPISource string

	tableIndex  map[string]int
	fingerprint string
}

// Table returns the named table. Names are case-sensitive.
func (m *Model) Table(name string) (Table, bool) {
	if m.tableIndex != nil {
		idx, ok := m.tableIndex[name]
		if !ok {
			return Table{}, false
		}
		return m.Tables[idx], true
	}
	for _, table := range m.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}

// HasTable reports whether name is a declared table.
func (m *Model) HasTable(name string) bool {
	_, ok := m.Table(name)
	return ok
}

// TableNames returns table names in document order.
func (m *Model) TableNames() []string {
	names := make([]string, len(m.Tables))
	for i, table := range m.Tables {
		names[i] = table.Name
	}
	return names
}

// KPI returns the named KPI.
func (m *Model) KPI(name string) (KPI, bool) {
	for _, kpi := range m.KPIs {
		if kpi.Name == name {
			return kpi, true
		}
	}
	return KPI{}, false
}

// Clone returns a deep copy of the model. Edits to the copy do not reach m or any
// snapshot holding it.
func (m *Model) Clone() *Model {
	out := *m
	out.Tables = make([]Table, len(m.Tables))
	for i, table := range m.Tables {
		table.Columns = slices.Clone(table.Columns)
		out.Tables[i] = table
	}
	out.Relationships = slices.Clone(m.Relationships)
	out.KPIs = make([]KPI, len(m.KPIs))
	for i, kpi := range m.KPIs {
		kpi.Tables = slices.Clone(kpi.Tables)
		kpi.Keywords = slices.Clone(kpi.Keywords)
		out.KPIs[i] = kpi
	}
	out.Notes = slices.Clone(m.Notes)
	out.Examples = slices.Clone(m.Examples)
	out.Glossary = maps.Clone(m.Glossary)
	if m.Synonyms != nil {
		out.Synonyms = make(map[string][]string, len(m.Synonyms))
		for term, words := range m.Synonyms {
			out.Synonyms[term] = slices.Clone(words)
		}
	}
	out.tableIndex = maps.Clone(m.tableIndex)
	return &out
}

// Fingerprint returns a stable hash of the tables, columns and relationships.
func (m *Model) Fingerprint() string {
	if m.fingerprint != "" {
		return m.fingerprint
	}
	return computeFingerprint(m.Tables, m.Relationships)
}

func computeFingerprint(tables []Table, relationships []Relationship) string {
	hash := sha256.New()
	for _, table := range tables {
		fmt.Fprintf(hash, "table|%s|%s|%s\n", table.Name, table.Role, table.Grain)
		for _, col := range table.Columns {
			fmt.Fprintf(hash, "column|%s|%s\n", table.Name, col.Name)
		}
	}
	for _, rel := range relationships {
		fmt.Fprintf(hash, "rel|%s|%s|%s|%s|%s\n", rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn, rel.JoinKind)
	}
	return hex.EncodeToString(hash.Sum(nil))
}

func normalizeJoinKind(kind string) string {
	normalized := strings.Join(strings.Fields(strings.ToUpper(kind)), " ")
	if normalized == "" {
		return DefaultJoinKind
	}
	return normalized
}
