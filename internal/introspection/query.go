package introspection

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/trace"
)

// selectAll runs a built query and scans every row into T by db tag.
func selectAll[T any](ctx context.Context, db *sqlx.DB, span trace.Span, query sq.Sqlizer) ([]T, error) {
	text, args, err := query.ToSql()
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("build catalog query: %w", err)
	}
	var rows []T
	if err := db.SelectContext(ctx, &rows, text, args...); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return rows, nil
}

// quoteIdentifier wraps a name in double quotes, doubling embedded quotes.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
