package schemamodel

// Spec is the typed form of a schema document. It is what introspection produces and
// what Go callers build when they do not start from a file.
type Spec struct {
	Name          string             `yaml:"name,omitempty" json:"name,omitempty"`
	Tables        []TableSpec        `yaml:"tables" json:"tables"`
	Relationships []RelationshipSpec `yaml:"relationships,omitempty" json:"relationships,omitempty"`
	Notes         []string           `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// TableSpec describes one table in a Spec.
type TableSpec struct {
	Name        string       `yaml:"name" json:"name"`
	Role        string       `yaml:"role,omitempty" json:"role,omitempty"`
	Grain       string       `yaml:"grain,omitempty" json:"grain,omitempty"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Columns     []ColumnSpec `yaml:"columns" json:"columns"`
}

// ColumnSpec describes one column in a TableSpec.
type ColumnSpec struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// RelationshipSpec uses the explicit endpoint form.
type RelationshipSpec struct {
	FromTable   string `yaml:"from_table" json:"from_table"`
	FromColumn  string `yaml:"from_column" json:"from_column"`
	ToTable     string `yaml:"to_table" json:"to_table"`
	ToColumn    string `yaml:"to_column" json:"to_column"`
	JoinType    string `yaml:"join_type,omitempty" json:"join_type,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Document encodes the spec into a Document.
func (s Spec) Document() (Document, error) {
	return DocumentFromValue(s)
}

// SpecFromModel converts a parsed model back into its typed form.
func SpecFromModel(m *Model) Spec {
	spec := Spec{Name: m.Name, Notes: append([]string(nil), m.Notes...)}
	for _, table := range m.Tables {
		ts := TableSpec{
			Name:        table.Name,
			Grain:       table.Grain,
			Description: table.Description,
			Columns:     make([]ColumnSpec, 0, len(table.Columns)),
		}
		if table.RoleDeclared {
			ts.Role = string(table.Role)
		}
		for _, col := range table.Columns {
			ts.Columns = append(ts.Columns, ColumnSpec{Name: col.Name, Description: col.Description})
		}
		spec.Tables = append(spec.Tables, ts)
	}
	for _, rel := range m.Relationships {
		spec.Relationships = append(spec.Relationships, RelationshipSpec{
			FromTable:   rel.FromTable,
			FromColumn:  rel.FromColumn,
			ToTable:     rel.ToTable,
			ToColumn:    rel.ToColumn,
			JoinType:    rel.JoinKind,
			Description: rel.Description,
		})
	}
	return spec
}
