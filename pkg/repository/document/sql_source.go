package document

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/observability/tracing"
)

// SQLSchema creates the JSONB table backing SQLSource.
const SQLSchema = `CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
)`

// sqlTimeLayout is fixed-width so that stored timestamps order correctly as JSON strings.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLExecutor is the subset of the PostgreSQL adapter SQLSource needs.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLSource stores documents as JSONB rows in PostgreSQL and pages them with
// keyset row comparisons. It has no change feed of its own; pair it with a
// changefeed.Store to get subscriptions.
type SQLSource struct {
	db     SQLExecutor
	logger logger.Logger
}

func NewSQLSource(db SQLExecutor, log logger.Logger) *SQLSource {
	return &SQLSource{db: db, logger: log}
}

// EnsureSchema creates the documents table when missing.
func (s *SQLSource) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, SQLSchema); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

type sqlArgs struct {
	values []any
}

func (a *sqlArgs) add(v any) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}

func (a *sqlArgs) field(field string) string {
	if field == IDField {
		return "id"
	}
	return "(data #> " + a.add(pq.Array(strings.Split(field, "."))) + "::text[])"
}

func (a *sqlArgs) value(field string, v any) (string, error) {
	if field == IDField {
		return a.add(fmt.Sprint(v)), nil
	}
	b, err := json.Marshal(toJSONValue(v))
	if err != nil {
		return "", documentError(ErrInvalidQuery, fmt.Sprintf("value for %s: %v", field, err))
	}
	return a.add(string(b)) + "::jsonb", nil
}

var sqlOps = map[Op]string{
	OpEqual:        "=",
	OpNotEqual:     "<>",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
}

// buildFindSQL renders q as one SELECT statement.
func buildFindSQL(q Query) (string, []any, error) {
	args := &sqlArgs{}
	var sb strings.Builder
	sb.WriteString("SELECT id, data FROM documents WHERE collection = ")
	sb.WriteString(args.add(q.Collection))

	sortField := q.SortField()
	if sortField != IDField {
		sb.WriteString(" AND " + args.field(sortField) + " IS NOT NULL")
	}
	for _, c := range q.Filters {
		op, ok := sqlOps[c.Op]
		if !ok {
			return "", nil, documentError(ErrInvalidQuery, "unknown operator "+string(c.Op))
		}
		lhs := args.field(c.Field)
		rhs, err := args.value(c.Field, c.Value)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" AND " + lhs + " " + op + " " + rhs)
	}

	dir := "ASC"
	if q.Descending() {
		dir = "DESC"
	}
	if q.Start != nil {
		op := ">"
		if q.Descending() {
			op = "<"
		}
		if q.Start.Inclusive {
			op += "="
		}
		if sortField == IDField {
			sb.WriteString(" AND id " + op + " " + args.add(q.Start.Cursor.ID))
		} else {
			lhs := args.field(sortField)
			rhs, err := args.value(sortField, q.Start.Cursor.Value)
			if err != nil {
				return "", nil, err
			}
			sb.WriteString(" AND (" + lhs + ", id) " + op + " (" + rhs + ", " + args.add(q.Start.Cursor.ID) + ")")
		}
	}

	if sortField == IDField {
		sb.WriteString(" ORDER BY id " + dir)
	} else {
		sb.WriteString(" ORDER BY " + args.field(sortField) + " " + dir + ", id " + dir)
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + args.add(q.Limit))
	}
	return sb.String(), args.values, nil
}

// Find implements Source.
func (s *SQLSource) Find(ctx context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	stmt, args, err := buildFindSQL(q)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBQuery,
		tracing.WithDBSystem("postgresql"), tracing.WithDBTable(q.Collection), tracing.WithDBStatement(stmt))
	defer span.End()

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("find %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			tracing.RecordError(span, err)
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		data, err := decodeJSONData(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", q.Collection, id, err)
		}
		out = append(out, Document{Collection: q.Collection, ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("find %s: %w", q.Collection, err)
	}
	tracing.RecordSuccess(span)
	return out, nil
}

// Get implements Getter.
func (s *SQLSource) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE collection = $1 AND id = $2", collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, documentError(ErrNotFound, collection+"/"+id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	data, err := decodeJSONData(raw)
	if err != nil {
		return Document{}, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return Document{Collection: collection, ID: id, Data: data}, nil
}

// Commit implements Batcher in one SQL transaction.
func (s *SQLSource) Commit(ctx context.Context, writes []Write) error {
	if err := ValidateWrites(writes); err != nil {
		return err
	}
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBTx, tracing.WithDBSystem("postgresql"))
	defer span.End()

	err := s.db.WithTransaction(ctx, func(tx context.Context) error {
		for _, w := range writes {
			if err := s.apply(tx, w); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	tracing.RecordSuccess(span)
	return nil
}

func (s *SQLSource) apply(ctx context.Context, w Write) error {
	switch w.Kind {
	case WriteDelete:
		_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = $1 AND id = $2", w.Collection, w.ID)
		return err
	case WriteSet:
		data, err := ApplyFields(nil, w.Data)
		if err != nil {
			return err
		}
		return s.upsert(ctx, w, data)
	case WriteUpdate:
		var raw []byte
		err := s.db.QueryRowContext(ctx,
			"SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE", w.Collection, w.ID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return documentError(ErrNotFound, w.Path())
		}
		if err != nil {
			return err
		}
		current, err := decodeJSONData(raw)
		if err != nil {
			return err
		}
		data, err := ApplyFields(current, w.Data)
		if err != nil {
			return err
		}
		return s.upsert(ctx, w, data)
	}
	return documentError(ErrInvalidWrite, "unknown write kind "+string(w.Kind))
}

func (s *SQLSource) upsert(ctx context.Context, w Write, data map[string]any) error {
	payload, err := json.Marshal(toJSONValue(data))
	if err != nil {
		return documentError(ErrInvalidWrite, fmt.Sprintf("encode %s: %v", w.Path(), err))
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, updated_at) VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		w.Collection, w.ID, string(payload))
	return err
}

func toJSONValue(v any) any {
	switch t := normalizeValue(v).(type) {
	case time.Time:
		return t.UTC().Format(sqlTimeLayout)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = toJSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = toJSONValue(item)
		}
		return out
	default:
		return t
	}
}

func decodeJSONData(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return fromJSONValue(data).(map[string]any), nil
}

func fromJSONValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		return normalizeValue(t)
	case map[string]any:
		for k, item := range t {
			t[k] = fromJSONValue(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = fromJSONValue(item)
		}
		return t
	default:
		return v
	}
}
