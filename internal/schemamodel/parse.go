package schemamodel

import (
	"log/slog"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"talk2data/internal/logging"
)

// ParseOption configures Parse.
type ParseOption func(*parseOptions)

type parseOptions struct {
	name         string
	logger       *logging.Logger
	factPrefixes []string
}

// WithName sets the model name used when the document does not carry one.
func WithName(name string) ParseOption {
	return func(o *parseOptions) {
		o.name = name
	}
}

// WithLogger sets the logger used for parse diagnostics.
func WithLogger(logger *logging.Logger) ParseOption {
	return func(o *parseOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFactPrefixes replaces the name prefixes that mark undeclared tables as facts.
func WithFactPrefixes(prefixes ...string) ParseOption {
	return func(o *parseOptions) {
		cleaned := make([]string, 0, len(prefixes))
		for _, prefix := range prefixes {
			if prefix = strings.TrimSpace(prefix); prefix != "" {
				cleaned = append(cleaned, prefix)
			}
		}
		if len(cleaned) > 0 {
			o.factPrefixes = cleaned
		}
	}
}

// sectionLookup is one place a section may live in a document.
type sectionLookup struct {
	path []string
}

func (l sectionLookup) String() string {
	return strings.Join(l.path, ".")
}

func (l sectionLookup) find(root *yaml.Node) (*yaml.Node, bool) {
	node := root
	for _, key := range l.path {
		next, ok := mappingValue(node, key)
		if !ok {
			return nil, false
		}
		node = next
	}
	if isNull(node) {
		return nil, false
	}
	return node, true
}

// sectionLookups returns the top-level location followed by the nested "schema" one.
func sectionLookups(key string) []sectionLookup {
	return []sectionLookup{
		{path: []string{key}},
		{path: []string{"schema", key}},
	}
}

var kpiLookups = []sectionLookup{
	{path: []string{"kpis"}},
	{path: []string{"schema", "kpis"}},
	{path: []string{"schema", "metrics"}},
}

// lookupSection tries each strategy in order and reports which one matched.
func lookupSection(root *yaml.Node, lookups []sectionLookup) (*yaml.Node, int) {
	for i, lookup := range lookups {
		if node, ok := lookup.find(root); ok {
			return node, i
		}
	}
	return nil, -1
}

// Parse builds a Model from doc. No partial model is returned on error.
func Parse(doc Document, opts ...ParseOption) (*Model, error) {
	options := parseOptions{
		logger:       &logging.Logger{Logger: slog.Default()},
		factPrefixes: []string{DefaultFactPrefix},
	}
	for _, opt := range opts {
		opt(&options)
	}

	root := resolve(doc.Node())
	if root == nil {
		return nil, parseErrorf("document", "document is empty")
	}
	if root.Kind != yaml.MappingNode {
		return nil, parseErrorf("document", "expected a mapping at the top level, got %s", kindName(root))
	}

	p := &parser{options: options}
	model := &Model{Name: options.name}

	if nameNode, idx := lookupSection(root, sectionLookups("name")); idx >= 0 {
		name, err := scalarString(nameNode, "name")
		if err != nil {
			return nil, err
		}
		if name != "" {
			model.Name = name
		}
	}

	tablesNode, idx := lookupSection(root, sectionLookups("tables"))
	if idx < 0 {
		return nil, parseErrorf("tables", "missing tables section")
	}
	tables, err := p.parseTables(tablesNode)
	if err != nil {
		return nil, err
	}
	model.Tables = tables
	model.tableIndex = make(map[string]int, len(tables))
	for i, table := range tables {
		model.tableIndex[table.Name] = i
	}

	if relNode, idx := lookupSection(root, sectionLookups("relationships")); idx >= 0 {
		rels, err := parseRelationships(relNode, model.tableIndex)
		if err != nil {
			return nil, err
		}
		model.Relationships = rels
	}

	if synNode, idx := lookupSection(root, sectionLookups("synonyms")); idx >= 0 {
		synonyms, err := parseSynonyms(synNode)
		if err != nil {
			return nil, err
		}
		model.Synonyms = synonyms
	}

	if kpiNode, idx := lookupSection(root, kpiLookups); idx >= 0 {
		kpis, err := parseKPIs(kpiNode)
		if err != nil {
			return nil, err
		}
		model.KPIs = kpis
		model.KPISource = kpiLookups[idx].String()
		if idx > 0 {
			options.logger.Info("kpis read from legacy location",
				slog.String("schema", model.Name),
				slog.String("location", model.KPISource),
				slog.Int("kpis", len(kpis)),
			)
		}
	}

	if notesNode, idx := lookupSection(root, sectionLookups("notes")); idx >= 0 {
		notes, err := stringList(notesNode, "notes")
		if err != nil {
			return nil, err
		}
		model.Notes = notes
	}

	if exNode, idx := lookupSection(root, sectionLookups("examples")); idx >= 0 {
		examples, err := parseExamples(exNode)
		if err != nil {
			return nil, err
		}
		model.Examples = examples
	}

	if glossaryNode, idx := lookupSection(root, sectionLookups("glossary")); idx >= 0 {
		glossary, err := parseGlossary(glossaryNode)
		if err != nil {
			return nil, err
		}
		model.Glossary = glossary
	}

	model.fingerprint = computeFingerprint(model.Tables, model.Relationships)
	return model, nil
}

type parser struct {
	options parseOptions
}

func (p *parser) inferRole(name string) Role {
	for _, prefix := range p.options.factPrefixes {
		if strings.HasPrefix(name, prefix) {
			return RoleFact
		}
	}
	return RoleDimension
}

func (p *parser) parseTables(node *yaml.Node) ([]Table, error) {
	var tables []Table
	seen := make(map[string]struct{})
	add := func(table Table) error {
		if _, dup := seen[table.Name]; dup {
			return parseErrorf("tables", "duplicate table %q", table.Name)
		}
		seen[table.Name] = struct{}{}
		tables = append(tables, table)
		return nil
	}

	switch node.Kind {
	case yaml.SequenceNode:
		for i, item := range node.Content {
			table, err := p.parseTable(resolve(item), "")
			if err != nil {
				return nil, withIndex(err, i)
			}
			if err := add(table); err != nil {
				return nil, err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			table, err := p.parseTable(resolve(node.Content[i+1]), key)
			if err != nil {
				return nil, err
			}
			if err := add(table); err != nil {
				return nil, err
			}
		}
	default:
		return nil, parseErrorf("tables", "expected a list or mapping, got %s", kindName(node))
	}
	return tables, nil
}

func (p *parser) parseTable(node *yaml.Node, key string) (Table, error) {
	if node == nil || (node.Kind != yaml.MappingNode && !isNull(node)) {
		return Table{}, parseErrorf("tables", "table definition must be a mapping, got %s", kindName(node))
	}
	fields := map[string]string{}
	for _, field := range []string{"name", "role", "grain", "description"} {
		value, ok := mappingValue(node, field)
		if !ok {
			continue
		}
		s, err := scalarString(value, "tables")
		if err != nil {
			return Table{}, err
		}
		fields[field] = strings.TrimSpace(s)
	}

	table := Table{
		Name:        fields["name"],
		Grain:       fields["grain"],
		Description: fields["description"],
	}
	if table.Name == "" {
		table.Name = strings.TrimSpace(key)
	}
	if table.Name == "" {
		return Table{}, parseErrorf("tables", "table name is required")
	}

	switch Role(strings.ToLower(fields["role"])) {
	case "":
		table.Role = p.inferRole(table.Name)
	case RoleFact:
		table.Role = RoleFact
		table.RoleDeclared = true
	case RoleDimension:
		table.Role = RoleDimension
		table.RoleDeclared = true
	default:
		return Table{}, parseErrorf("tables", "table %q has unknown role %q", table.Name, fields["role"])
	}

	if colNode, ok := mappingValue(node, "columns"); ok && !isNull(colNode) {
		cols, err := parseColumns(table.Name, colNode)
		if err != nil {
			return Table{}, err
		}
		table.Columns = cols
	}
	return table, nil
}

func parseColumns(table string, node *yaml.Node) ([]Column, error) {
	var cols []Column
	seen := make(map[string]struct{})
	add := func(col Column) error {
		if col.Name == "" {
			return parseErrorf("tables", "table %q has a column without a name", table)
		}
		if _, dup := seen[col.Name]; dup {
			return parseErrorf("tables", "table %q has duplicate column %q", table, col.Name)
		}
		seen[col.Name] = struct{}{}
		cols = append(cols, col)
		return nil
	}

	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			col := Column{Name: strings.TrimSpace(node.Content[i].Value)}
			value := resolve(node.Content[i+1])
			switch {
			case isNull(value):
			case value.Kind == yaml.ScalarNode:
				col.Description = value.Value
			case value.Kind == yaml.MappingNode:
				desc, err := optionalString(value, "description", "tables")
				if err != nil {
					return nil, err
				}
				col.Description = desc
			default:
				return nil, parseErrorf("tables", "table %q column %q has an invalid definition", table, col.Name)
			}
			if err := add(col); err != nil {
				return nil, err
			}
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			item = resolve(item)
			var col Column
			switch item.Kind {
			case yaml.ScalarNode:
				col.Name = strings.TrimSpace(item.Value)
			case yaml.MappingNode:
				name, err := optionalString(item, "name", "tables")
				if err != nil {
					return nil, err
				}
				desc, err := optionalString(item, "description", "tables")
				if err != nil {
					return nil, err
				}
				col = Column{Name: strings.TrimSpace(name), Description: desc}
			default:
				return nil, parseErrorf("tables", "table %q has an invalid column entry", table)
			}
			if err := add(col); err != nil {
				return nil, err
			}
		}
	default:
		return nil, parseErrorf("tables", "table %q columns must be a list or mapping, got %s", table, kindName(node))
	}
	return cols, nil
}

func parseRelationships(node *yaml.Node, tables map[string]int) ([]Relationship, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, parseErrorf("relationships", "expected a list, got %s", kindName(node))
	}
	rels := make([]Relationship, 0, len(node.Content))
	for i, item := range node.Content {
		rel, err := parseRelationship(resolve(item), i)
		if err != nil {
			return nil, err
		}
		for _, name := range []string{rel.FromTable, rel.ToTable} {
			if _, ok := tables[name]; !ok {
				return nil, parseErrorf("relationships", "relationship %d (%s) references undeclared table %q", i, rel, name)
			}
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

func parseRelationship(node *yaml.Node, i int) (Relationship, error) {
	if node.Kind != yaml.MappingNode {
		return Relationship{}, parseErrorf("relationships", "relationship %d must be a mapping, got %s", i, kindName(node))
	}
	get := func(key string) (string, error) {
		s, err := optionalString(node, key, "relationships")
		return strings.TrimSpace(s), err
	}

	var rel Relationship
	from, err := get("from")
	if err != nil {
		return Relationship{}, err
	}
	to, err := get("to")
	if err != nil {
		return Relationship{}, err
	}
	if from != "" || to != "" {
		var ok bool
		if rel.FromTable, rel.FromColumn, ok = splitEndpoint(from); !ok {
			return Relationship{}, parseErrorf("relationships", "relationship %d has malformed from endpoint %q, expected table.column", i, from)
		}
		if rel.ToTable, rel.ToColumn, ok = splitEndpoint(to); !ok {
			return Relationship{}, parseErrorf("relationships", "relationship %d has malformed to endpoint %q, expected table.column", i, to)
		}
	} else {
		parts := []*string{&rel.FromTable, &rel.FromColumn, &rel.ToTable, &rel.ToColumn}
		for j, key := range []string{"from_table", "from_column", "to_table", "to_column"} {
			value, err := get(key)
			if err != nil {
				return Relationship{}, err
			}
			if value == "" {
				return Relationship{}, parseErrorf("relationships", "relationship %d is missing %s", i, key)
			}
			*parts[j] = value
		}
	}

	kind, err := get("join_type")
	if err != nil {
		return Relationship{}, err
	}
	if kind == "" {
		if kind, err = get("join_kind"); err != nil {
			return Relationship{}, err
		}
	}
	rel.JoinKind = normalizeJoinKind(kind)

	if rel.Description, err = get("description"); err != nil {
		return Relationship{}, err
	}
	return rel, nil
}

func splitEndpoint(endpoint string) (string, string, bool) {
	idx := strings.LastIndex(endpoint, ".")
	if idx <= 0 || idx == len(endpoint)-1 {
		return "", "", false
	}
	return endpoint[:idx], endpoint[idx+1:], true
}

func parseSynonyms(node *yaml.Node) (map[string][]string, error) {
	if node.Kind != yaml.MappingNode {
		return nil, parseErrorf("synonyms", "expected a mapping, got %s", kindName(node))
	}
	synonyms := make(map[string][]string, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		values, err := stringList(resolve(node.Content[i+1]), "synonyms")
		if err != nil {
			return nil, err
		}
		synonyms[node.Content[i].Value] = values
	}
	return synonyms, nil
}

func parseKPIs(node *yaml.Node) ([]KPI, error) {
	var kpis []KPI
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			kpi, err := parseKPI(resolve(node.Content[i+1]), node.Content[i].Value)
			if err != nil {
				return nil, err
			}
			kpis = append(kpis, kpi)
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			kpi, err := parseKPI(resolve(item), "")
			if err != nil {
				return nil, err
			}
			kpis = append(kpis, kpi)
		}
	default:
		return nil, parseErrorf("kpis", "expected a list or mapping, got %s", kindName(node))
	}
	return kpis, nil
}

func parseKPI(node *yaml.Node, key string) (KPI, error) {
	kpi := KPI{Name: key}
	switch {
	case isNull(node):
	case node.Kind == yaml.ScalarNode:
		kpi.Formula = node.Value
	case node.Kind == yaml.MappingNode:
		var err error
		if name, err := optionalString(node, "name", "kpis"); err != nil {
			return KPI{}, err
		} else if name != "" {
			kpi.Name = name
		}
		if kpi.Formula, err = optionalString(node, "formula", "kpis"); err != nil {
			return KPI{}, err
		}
		if kpi.Description, err = optionalString(node, "description", "kpis"); err != nil {
			return KPI{}, err
		}
		if tables, ok := mappingValue(node, "tables"); ok {
			if kpi.Tables, err = stringList(tables, "kpis"); err != nil {
				return KPI{}, err
			}
		}
		if keywords, ok := mappingValue(node, "keywords"); ok {
			if kpi.Keywords, err = stringList(keywords, "kpis"); err != nil {
				return KPI{}, err
			}
		}
	default:
		return KPI{}, parseErrorf("kpis", "kpi %q has an invalid definition", key)
	}
	kpi.Name = strings.TrimSpace(kpi.Name)
	if kpi.Name == "" {
		return KPI{}, parseErrorf("kpis", "kpi name is required")
	}
	return kpi, nil
}

func parseExamples(node *yaml.Node) ([]Example, error) {
	var examples []Example
	switch node.Kind {
	case yaml.SequenceNode:
		for _, item := range node.Content {
			item = resolve(item)
			if item.Kind != yaml.MappingNode {
				return nil, parseErrorf("examples", "example must be a mapping, got %s", kindName(item))
			}
			question, err := optionalString(item, "question", "examples")
			if err != nil {
				return nil, err
			}
			sql, err := optionalString(item, "sql", "examples")
			if err != nil {
				return nil, err
			}
			examples = append(examples, Example{Question: question, SQL: sql})
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			sql, err := scalarString(resolve(node.Content[i+1]), "examples")
			if err != nil {
				return nil, err
			}
			examples = append(examples, Example{Question: node.Content[i].Value, SQL: sql})
		}
	default:
		return nil, parseErrorf("examples", "expected a list or mapping, got %s", kindName(node))
	}
	return examples, nil
}

func parseGlossary(node *yaml.Node) (map[string]string, error) {
	if node.Kind != yaml.MappingNode {
		return nil, parseErrorf("glossary", "expected a mapping, got %s", kindName(node))
	}
	glossary := make(map[string]string, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		value, err := scalarString(resolve(node.Content[i+1]), "glossary")
		if err != nil {
			return nil, err
		}
		glossary[node.Content[i].Value] = value
	}
	return glossary, nil
}

func resolve(node *yaml.Node) *yaml.Node {
	for node != nil && node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	return node
}

func isNull(node *yaml.Node) bool {
	return node == nil || (node.Kind == yaml.ScalarNode && node.Tag == "!!null")
}

func mappingValue(node *yaml.Node, key string) (*yaml.Node, bool) {
	node = resolve(node)
	if node == nil || node.Kind != yaml.MappingNode {
		return nil, false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return resolve(node.Content[i+1]), true
		}
	}
	return nil, false
}

func scalarString(node *yaml.Node, section string) (string, error) {
	if isNull(node) {
		return "", nil
	}
	if node.Kind != yaml.ScalarNode {
		return "", parseErrorf(section, "expected a scalar value, got %s", kindName(node))
	}
	return node.Value, nil
}

func optionalString(node *yaml.Node, key, section string) (string, error) {
	value, ok := mappingValue(node, key)
	if !ok {
		return "", nil
	}
	s, err := scalarString(value, section)
	if err != nil {
		return "", parseErrorf(section, "field %q: %s", key, err.(*ParseError).Reason)
	}
	return s, nil
}

// stringList accepts a sequence of scalars or a single scalar.
func stringList(node *yaml.Node, section string) ([]string, error) {
	switch {
	case isNull(node):
		return nil, nil
	case node.Kind == yaml.ScalarNode:
		return []string{node.Value}, nil
	case node.Kind == yaml.SequenceNode:
		values := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			s, err := scalarString(resolve(item), section)
			if err != nil {
				return nil, err
			}
			values = append(values, s)
		}
		return values, nil
	}
	return nil, parseErrorf(section, "expected a list of strings, got %s", kindName(node))
}

func withIndex(err error, i int) error {
	if pe, ok := err.(*ParseError); ok {
		return &ParseError{Section: pe.Section, Reason: "entry " + strconv.Itoa(i) + ": " + pe.Reason, Err: pe.Err}
	}
	return err
}

func kindName(node *yaml.Node) string {
	if node == nil {
		return "nothing"
	}
	switch node.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "list"
	case yaml.ScalarNode:
		if isNull(node) {
			return "null"
		}
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	}
	return "unknown"
}
