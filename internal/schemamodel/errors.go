package schemamodel

import (
	"errors"
	"fmt"
)

// ErrParse is matched by every error produced while decoding or parsing a schema document.
var ErrParse = errors.New("schema parse error")

// ParseError describes why a schema document was rejected.
type ParseError struct {
	Section string // tables, relationships, kpis, document, ...
	Reason  string
	Err     error
}

func (e *ParseError) Error() string {
	msg := "parse schema"
	if e.Section != "" {
		msg += " " + e.Section
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports a match against ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseErr reports whether err was produced while parsing a schema document.
func IsParseErr(err error) bool {
	return errors.Is(err, ErrParse)
}

func parseErrorf(section, format string, args ...any) *ParseError {
	return &ParseError{Section: section, Reason: fmt.Sprintf(format, args...)}
}
