// Package summary renders schema models as compact text for SQL-drafting prompts.
package summary

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"talk2data/internal/schemamodel"
)

// Formatter writes schema text to a writer.
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a formatter writing to w.
func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{writer: w}
}

// Summarize returns one block per table, in model order, separated by blank lines.
func Summarize(model *schemamodel.Model) string {
	var b strings.Builder
	_ = NewFormatter(&b).Format(model)
	return b.String()
}

// Enrichment returns the KPI, synonym, glossary, note and example sections.
// Sections without content are left out.
func Enrichment(model *schemamodel.Model) string {
	var b strings.Builder
	_ = NewFormatter(&b).FormatEnrichment(model)
	return b.String()
}

// Format writes the table summary.
func (f *Formatter) Format(model *schemamodel.Model) error {
	for i, table := range model.Tables {
		if i > 0 {
			if _, err := fmt.Fprintln(f.writer); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(f.writer, "Table: %s (%s)\n- Grain: %s\n- Columns: %s\n",
			table.Name, table.Role, table.Grain, strings.Join(table.ColumnNames(), ", ")); err != nil {
			return err
		}
	}
	return nil
}

// FormatEnrichment writes the enrichment sections.
func (f *Formatter) FormatEnrichment(model *schemamodel.Model) error {
	sections := [][]string{
		kpiLines(model.KPIs),
		mapLines("Synonyms", model.Synonyms, func(v []string) string { return strings.Join(v, ", ") }),
		mapLines("Glossary", model.Glossary, func(v string) string { return v }),
		listLines("Notes", model.Notes),
		exampleLines(model.Examples),
	}

	written := 0
	for _, lines := range sections {
		if len(lines) == 0 {
			continue
		}
		if written > 0 {
			if _, err := fmt.Fprintln(f.writer); err != nil {
				return err
			}
		}
		for _, line := range lines {
			if _, err := fmt.Fprintln(f.writer, line); err != nil {
				return err
			}
		}
		written++
	}
	return nil
}

func kpiLines(kpis []schemamodel.KPI) []string {
	if len(kpis) == 0 {
		return nil
	}
	lines := []string{"KPIs:"}
	for _, kpi := range kpis {
		line := "- " + kpi.Name
		if kpi.Formula != "" {
			line += ": " + kpi.Formula
		}
		if len(kpi.Tables) > 0 {
			line += " (tables: " + strings.Join(kpi.Tables, ", ") + ")"
		}
		lines = append(lines, line)
		if kpi.Description != "" {
			lines = append(lines, "  Description: "+kpi.Description)
		}
		if len(kpi.Keywords) > 0 {
			lines = append(lines, "  Keywords: "+strings.Join(kpi.Keywords, ", "))
		}
	}
	return lines
}

func mapLines[V any](title string, values map[string]V, render func(V) string) []string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := []string{title + ":"}
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %s", key, render(values[key])))
	}
	return lines
}

func listLines(title string, values []string) []string {
	if len(values) == 0 {
		return nil
	}
	lines := []string{title + ":"}
	for _, value := range values {
		lines = append(lines, "- "+value)
	}
	return lines
}

func exampleLines(examples []schemamodel.Example) []string {
	if len(examples) == 0 {
		return nil
	}
	lines := []string{"Examples:"}
	for _, ex := range examples {
		lines = append(lines, "Q: "+ex.Question, "SQL: "+ex.SQL)
	}
	return lines
}
