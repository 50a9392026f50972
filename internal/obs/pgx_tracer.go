package obs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementAttr = 300

type queryTraceKey struct{}

type queryTrace struct {
	span      trace.Span
	start     time.Time
	operation string
	table     string
}

// PGXTracer implements pgx.QueryTracer. Each statement gets a client span
// named after its verb and table ("SELECT orders") and a DBQueryDuration
// observation with the same labels.
type PGXTracer struct{}

// TraceQueryStart opens the span for data.SQL.
func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op, table := describeSQL(data.SQL)
	name := op
	if table != "" {
		name = op + " " + table
	}
	ctx, span := otel.Tracer("db.pgx").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", op),
		attribute.String("db.statement", truncateSQL(data.SQL)),
	)
	if table != "" {
		span.SetAttributes(attribute.String("db.sql.table", table))
	}
	return context.WithValue(ctx, queryTraceKey{}, &queryTrace{span: span, start: time.Now(), operation: op, table: table})
}

// TraceQueryEnd closes the span. pgx.ErrNoRows is a lookup miss, not a fault.
func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qt, ok := ctx.Value(queryTraceKey{}).(*queryTrace)
	if !ok {
		return
	}
	ObserveVec(DBQueryDuration, DurationMillis(time.Since(qt.start)), qt.operation, qt.table)
	qt.span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	if data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows) {
		qt.span.RecordError(data.Err)
		qt.span.SetStatus(codes.Error, "query failed")
	}
	qt.span.End()
}

// describeSQL pulls the verb and primary table out of a statement. Leading
// CTEs are reported as "WITH" with no table.
func describeSQL(sql string) (operation, table string) {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "QUERY", ""
	}
	operation = strings.ToUpper(fields[0])
	var marker string
	switch operation {
	case "SELECT", "DELETE":
		marker = "FROM"
	case "INSERT":
		marker = "INTO"
	case "UPDATE":
		if len(fields) > 1 {
			return operation, cleanTable(fields[1])
		}
		return operation, ""
	default:
		return operation, ""
	}
	for i := 1; i < len(fields)-1; i++ {
		if strings.EqualFold(fields[i], marker) {
			return operation, cleanTable(fields[i+1])
		}
	}
	return operation, ""
}

func cleanTable(tok string) string {
	if strings.HasPrefix(tok, "(") {
		return ""
	}
	tok = strings.Trim(tok, `"),;`)
	if i := strings.IndexByte(tok, '('); i >= 0 {
		tok = tok[:i]
	}
	return strings.ToLower(tok)
}

func truncateSQL(sql string) string {
	trimmed := strings.Join(strings.Fields(sql), " ")
	if len(trimmed) > maxStatementAttr {
		return trimmed[:maxStatementAttr] + "..."
	}
	return trimmed
}
