// Package joinpath builds deterministic join paths across a star schema.
package joinpath

import (
	"context"
	"strings"

	"github.com/jinzhu/inflection"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"talk2data/internal/relindex"
	"talk2data/internal/schemamodel"
)

// Path is an ordered join plan. Tables[0] is the anchor and every later table is
// attached by the relationship at the same position minus one.
type Path struct {
	Tables        []string
	Relationships []schemamodel.Relationship
	Cost          int
}

// Anchor returns the table every other table is joined to.
func (p *Path) Anchor() string {
	if len(p.Tables) == 0 {
		return ""
	}
	return p.Tables[0]
}

// Clauses returns one JOIN clause per relationship in attachment order.
func (p *Path) Clauses() []string {
	clauses := make([]string, len(p.Relationships))
	for i, rel := range p.Relationships {
		clauses[i] = rel.JoinClause()
	}
	return clauses
}

// SQL renders the JOIN clauses separated by newlines.
func (p *Path) SQL() string {
	return strings.Join(p.Clauses(), "\n")
}

// Option configures synthesis.
type Option func(*options)

type options struct {
	ctx          context.Context
	factPrefixes []string
}

// WithFactPrefixes sets the name prefixes used to pick an anchor when no table has the fact role.
func WithFactPrefixes(prefixes ...string) Option {
	return func(o *options) {
		if len(prefixes) > 0 {
			o.factPrefixes = prefixes
		}
	}
}

// WithContext sets the parent context for the synthesis span.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// Synthesize builds a join path connecting every required table.
func Synthesize(model *schemamodel.Model, required []string, opts ...Option) (*Path, error) {
	return SynthesizeWithIndex(model, relindex.New(model), required, opts...)
}

// SynthesizeWithIndex is Synthesize with a prebuilt relationship index.
func SynthesizeWithIndex(model *schemamodel.Model, idx *relindex.Index, required []string, opts ...Option) (*Path, error) {
	o := options{
		ctx:          context.Background(),
		factPrefixes: []string{schemamodel.DefaultFactPrefix},
	}
	for _, opt := range opts {
		opt(&o)
	}

	_, span := otel.Tracer("talk2data/joinpath").Start(o.ctx, "joinpath.synthesize",
		trace.WithAttributes(
			attribute.String("schema.name", model.Name),
			attribute.Int("joinpath.required", len(required)),
		),
	)
	defer span.End()

	path, err := synthesize(model, idx, required, o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("joinpath.anchor", path.Anchor()),
		attribute.Int("joinpath.cost", path.Cost),
	)
	return path, nil
}

func synthesize(model *schemamodel.Model, idx *relindex.Index, required []string, o options) (*Path, error) {
	if len(required) == 0 {
		return nil, &SynthesisError{Kind: ErrNoTables}
	}

	tables := dedupe(required)

	var unknown []string
	for _, name := range tables {
		if !model.HasTable(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, &SynthesisError{Kind: ErrUnknownTable, Tables: unknown, Hints: suggestTables(model, unknown, o.factPrefixes)}
	}

	anchor := chooseAnchor(model, tables, o.factPrefixes)
	path := &Path{Tables: []string{anchor}}
	connected := relindex.NewTableSet(anchor)

	worklist := make([]string, 0, len(tables)-1)
	for _, name := range tables {
		if name != anchor {
			worklist = append(worklist, name)
		}
	}

	for len(worklist) > 0 {
		attached := false
		for i, target := range worklist {
			rel, ok := idx.FindRelationship(connected, target)
			if !ok {
				continue
			}
			path.Tables = append(path.Tables, target)
			path.Relationships = append(path.Relationships, rel)
			connected.Add(target)
			worklist = append(worklist[:i], worklist[i+1:]...)
			attached = true
			break
		}
		if !attached {
			return nil, &SynthesisError{Kind: ErrUnreachable, Tables: worklist}
		}
	}

	path.Cost = len(path.Relationships)
	return path, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// chooseAnchor prefers a fact-role table, then a fact-prefixed name, then the first table.
func chooseAnchor(model *schemamodel.Model, tables []string, factPrefixes []string) string {
	for _, name := range tables {
		if table, ok := model.Table(name); ok && table.IsFact() {
			return name
		}
	}
	for _, name := range tables {
		if hasAnyPrefix(name, factPrefixes) {
			return name
		}
	}
	return tables[0]
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// suggestTables finds schema tables that differ from each unknown name only by case,
// plural form or a role prefix.
func suggestTables(model *schemamodel.Model, unknown []string, factPrefixes []string) map[string]string {
	byLower := make(map[string]string, len(model.Tables))
	for _, table := range model.Tables {
		lower := strings.ToLower(table.Name)
		if _, ok := byLower[lower]; !ok {
			byLower[lower] = table.Name
		}
	}

	prefixes := append([]string{""}, factPrefixes...)
	prefixes = append(prefixes, "dim_")

	hints := make(map[string]string)
	for _, name := range unknown {
		lower := strings.ToLower(name)
		forms := []string{lower, inflection.Singular(lower), inflection.Plural(lower)}
	search:
		for _, prefix := range prefixes {
			for _, form := range forms {
				if match, ok := byLower[strings.ToLower(prefix)+form]; ok && match != name {
					hints[name] = match
					break search
				}
			}
		}
	}
	if len(hints) == 0 {
		return nil
	}
	return hints
}
