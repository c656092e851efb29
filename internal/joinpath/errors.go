package joinpath

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoTables is returned when synthesis is asked for zero tables.
	ErrNoTables = errors.New("no tables requested")
	// ErrUnknownTable is returned when a requested table is not in the schema.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnreachable is returned when requested tables cannot be joined to the anchor.
	ErrUnreachable = errors.New("unable to connect tables")
)

// SynthesisError reports why a join path could not be built.
type SynthesisError struct {
	Kind   error
	Tables []string
	// Hints maps an unknown table to a close schema table name.
	Hints map[string]string
}

func (e *SynthesisError) Error() string {
	if len(e.Tables) == 0 {
		return e.Kind.Error()
	}
	msg := fmt.Sprintf("%s %s", e.Kind.Error(), strings.Join(e.Tables, ", "))
	if hint := e.hint(); hint != "" {
		msg += " (did you mean " + hint + "?)"
	}
	return msg
}

func (e *SynthesisError) hint() string {
	if len(e.Hints) == 0 {
		return ""
	}
	if len(e.Tables) == 1 {
		return e.Hints[e.Tables[0]]
	}
	var parts []string
	for _, table := range e.Tables {
		if suggestion, ok := e.Hints[table]; ok {
			parts = append(parts, suggestion+" for "+table)
		}
	}
	return strings.Join(parts, ", ")
}

func (e *SynthesisError) Unwrap() error {
	return e.Kind
}

// IsNoTablesErr reports whether err is an empty request.
func IsNoTablesErr(err error) bool {
	return errors.Is(err, ErrNoTables)
}

// IsUnknownTableErr reports whether err names tables missing from the schema.
func IsUnknownTableErr(err error) bool {
	return errors.Is(err, ErrUnknownTable)
}

// IsUnreachableErr reports whether err names tables with no join path.
func IsUnreachableErr(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
