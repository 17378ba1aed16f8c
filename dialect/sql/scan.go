package sql

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/dynacrud"
	"github.com/syssam/dynacrud/dialect"
	"github.com/syssam/dynacrud/schema"
)

// sqliteTime is the fixed-width text layout times are stored in on SQLite,
// so that lexical and chronological order agree.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// timeLayouts are tried in order when a time arrives as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

func parseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// encode converts a record value of field f into a statement argument.
func encode(dialectName string, m *schema.Model, f *schema.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case schema.TypeTime:
		var t time.Time
		switch v := v.(type) {
		case time.Time:
			t = v
		case string:
			parsed, err := parseTime(v)
			if err != nil {
				return nil, dynacrud.Validationf(m.Name, f.Name, "invalid time %q", v)
			}
			t = parsed
		default:
			return nil, dynacrud.Validationf(m.Name, f.Name, "expects a time, got %T", v)
		}
		t = t.UTC()
		if dialectName == dialect.SQLite {
			return t.Format(sqliteTime), nil
		}
		return t, nil
	case schema.TypeJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, dynacrud.NewValidationError(m.Name, f.Name, err)
		}
		return string(b), nil
	case schema.TypeInt:
		if x, ok := v.(float64); ok && x == float64(int64(x)) {
			return int64(x), nil
		}
	}
	return v, nil
}

// decode converts a scanned column value of field f into a record value.
func decode(f *schema.Field, v any) any {
	if b, ok := v.([]byte); ok {
		if f.Type == schema.TypeJSON {
			return decodeJSON(b)
		}
		v = string(b)
	}
	if v == nil {
		return nil
	}
	switch f.Type {
	case schema.TypeInt:
		switch x := v.(type) {
		case int64:
			return x
		case int32:
			return int64(x)
		case int:
			return int64(x)
		case uint64:
			return int64(x)
		case float64:
			return int64(x)
		case string:
			if n, err := strconv.ParseInt(x, 10, 64); err == nil {
				return n
			}
		}
	case schema.TypeFloat:
		switch x := v.(type) {
		case float64:
			return x
		case float32:
			return float64(x)
		case int64:
			return float64(x)
		case string:
			if n, err := strconv.ParseFloat(x, 64); err == nil {
				return n
			}
		}
	case schema.TypeBool:
		switch x := v.(type) {
		case bool:
			return x
		case int64:
			return x != 0
		case string:
			if b, err := strconv.ParseBool(x); err == nil {
				return b
			}
		}
	case schema.TypeTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC()
		case string:
			if t, err := parseTime(x); err == nil {
				return t.UTC()
			}
		}
	case schema.TypeJSON:
		if s, ok := v.(string); ok {
			return decodeJSON([]byte(s))
		}
	default:
		switch x := v.(type) {
		case [16]byte:
			return uuid.UUID(x).String()
		case string:
			return x
		}
	}
	return v
}

func decodeJSON(b []byte) any {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return string(b)
	}
	return v
}

// scanRecords reads every row into a record keyed by the given field names.
func scanRecords(rows *Rows, m *schema.Model, names []string) ([]dynacrud.Record, error) {
	defer rows.Close()
	fields := make([]*schema.Field, len(names))
	for i, name := range names {
		f, ok := m.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("dialect/sql: unknown field %s.%s", m.Name, name)
		}
		fields[i] = f
	}
	recs := []dynacrud.Record{}
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("dialect/sql: scan %s: %w", m.Name, err)
		}
		rec := make(dynacrud.Record, len(names))
		for i, name := range names {
			rec[name] = decode(fields[i], values[i])
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// scanValues reads rows of n untyped values, as returned by aggregate
// statements.
func scanValues(rows *Rows, n int) ([][]any, error) {
	defer rows.Close()
	var out [][]any
	for rows.Next() {
		values := make([]any, n)
		ptrs := make([]any, n)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("dialect/sql: scan: %w", err)
		}
		out = append(out, values)
	}
	return out, rows.Err()
}
