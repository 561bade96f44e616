package store

import (
	"context"
	"errors"
	"strings"
)

const countCol = "COUNT(*) AS count"

// GetLong runs the query and returns the first column of the first row as int64.
// ok is false if no row returned, the value is NULL or storage is exhausted.
func (w *Wrapper) GetLong(ctx context.Context, p QueryParams) (val int64, ok bool, err error) {
	cur, err := w.Query(ctx, p)
	return firstLong(cur, err)
}

// GetLongRaw is GetLong for sql query
func (w *Wrapper) GetLongRaw(ctx context.Context, query string, args ...any) (val int64, ok bool, err error) {
	cur, err := w.RawQuery(ctx, query, args...)
	return firstLong(cur, err)
}

// GetString runs the query and returns the first column of the first row as string.
// ok is false if no row returned, the value is NULL or storage is exhausted.
func (w *Wrapper) GetString(ctx context.Context, p QueryParams) (val string, ok bool, err error) {
	cur, err := w.Query(ctx, p)
	return firstString(cur, err)
}

// GetStringRaw is GetString for sql query
func (w *Wrapper) GetStringRaw(ctx context.Context, query string, args ...any) (val string, ok bool, err error) {
	cur, err := w.RawQuery(ctx, query, args...)
	return firstString(cur, err)
}

// GetStringByRowID returns value of the column in the row with the given id
func (w *Wrapper) GetStringByRowID(ctx context.Context, table, col, rowIDCol string, rowID int64) (val string, ok bool, err error) {
	return w.GetString(ctx, QueryParams{Table: table, Columns: []string{col}, Where: rowIDCol + " = ?", Args: []any{rowID}})
}

// GetCount returns number of rows matching where clause, 0 if the count can't be read
func (w *Wrapper) GetCount(ctx context.Context, table, where string, args ...any) (int64, error) {
	count, _, err := w.GetLong(ctx, QueryParams{Table: table, Columns: []string{countCol}, Where: where, Args: args})
	if err != nil {
		return 0, err
	}
	if w.debug {
		w.log.Logf("[DEBUG] get count: table = %s, where = <%s>, args = %s, count = %d", table, where, formatArgs(args), count)
	}
	return count, nil
}

// GetMax returns max value of the column, 0 if there are no rows
func (w *Wrapper) GetMax(ctx context.Context, table, col, where string, args ...any) (int64, error) {
	return w.aggregate(ctx, "MAX", table, col, where, args)
}

// GetMin returns min value of the column, 0 if there are no rows
func (w *Wrapper) GetMin(ctx context.Context, table, col, where string, args ...any) (int64, error) {
	return w.aggregate(ctx, "MIN", table, col, where, args)
}

func (w *Wrapper) aggregate(ctx context.Context, fn, table, col, where string, args []any) (int64, error) {
	if strings.TrimSpace(col) == "" {
		return 0, errors.New("column name is empty")
	}
	val, _, err := w.GetLong(ctx, QueryParams{Table: table, Columns: []string{fn + "(" + col + ")"}, Where: where, Args: args})
	if err != nil {
		return 0, err
	}
	return val, nil
}

// GetChanges returns number of rows changed by the last insert, update or delete on the connection
func (w *Wrapper) GetChanges(ctx context.Context) (int64, error) {
	cur, err := w.RawQuery(ctx, "SELECT changes()")
	if err != nil {
		return 0, err
	}
	if cur == nil || !cur.MoveToFirst() {
		state := "empty"
		if cur == nil {
			state = "null"
		}
		w.log.Logf("[ERROR] get changes: %s cursor", state)
		return 0, nil
	}
	return cur.GetLong(0)
}

// Dump logs all rows of the table, ordered by orderBy if not empty
func (w *Wrapper) Dump(ctx context.Context, table, orderBy string) error {
	cur, err := w.Query(ctx, QueryParams{Table: table, OrderBy: orderBy})
	if err != nil {
		return err
	}
	if cur == nil {
		return nil
	}
	defer cur.Close()

	w.log.Logf("[INFO] table %s, rows %d", table, cur.Count())
	for cur.MoveToNext() {
		w.log.Logf("[INFO] %s", DumpRow(cur))
	}
	return nil
}

// DumpRow formats the current row of the cursor as {col = value, ...}
func DumpRow(cur *Cursor) string {
	if cur == nil {
		return "<null cursor>"
	}
	var sb strings.Builder
	sb.WriteString("{")
	for i, col := range cur.ColumnNames() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(col + " = ")
		if cur.IsNull(i) {
			sb.WriteString("<null>")
			continue
		}
		s, err := cur.GetString(i)
		if err != nil {
			sb.WriteString("<error>")
			continue
		}
		sb.WriteString(s)
	}
	sb.WriteString("}")
	return sb.String()
}

func firstLong(cur *Cursor, err error) (int64, bool, error) {
	if err != nil || cur == nil {
		return 0, false, err
	}
	defer cur.Close()
	if !cur.MoveToFirst() || cur.IsNull(0) {
		return 0, false, nil
	}
	v, err := cur.GetLong(0)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func firstString(cur *Cursor, err error) (string, bool, error) {
	if err != nil || cur == nil {
		return "", false, err
	}
	defer cur.Close()
	if !cur.MoveToFirst() || cur.IsNull(0) {
		return "", false, nil
	}
	v, err := cur.GetString(0)
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
