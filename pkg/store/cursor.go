package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNoRow returned by cursor getters when the cursor is not positioned on a row
var ErrNoRow = errors.New("cursor is not positioned on a row")

// Cursor is a fully materialized result set. Rows are read from the engine when the cursor is
// made, so the cursor holds no engine resources and Close never fails.
// Position starts before the first row, like a fresh sql.Rows.
type Cursor struct {
	cols []string
	rows [][]any
	pos  int
}

// newCursor reads all rows and closes them
func newCursor(rows *sql.Rows) (*Cursor, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &Cursor{cols: cols, pos: -1}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		res.rows = append(res.rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Count returns number of rows
func (c *Cursor) Count() int { return len(c.rows) }

// ColumnNames returns names of result columns
func (c *Cursor) ColumnNames() []string { return c.cols }

// ColumnCount returns number of result columns
func (c *Cursor) ColumnCount() int { return len(c.cols) }

// ColumnIndex returns index of the column with given name, or -1 if not found
func (c *Cursor) ColumnIndex(name string) int {
	for i, col := range c.cols {
		if strings.EqualFold(col, name) {
			return i
		}
	}
	return -1
}

// Position returns current row index, -1 before the first row and Count() after the last one
func (c *Cursor) Position() int { return c.pos }

// MoveToFirst moves to the first row, returns false if the cursor is empty
func (c *Cursor) MoveToFirst() bool { return c.MoveToPosition(0) }

// MoveToNext moves to the next row, returns false if already past the last row
func (c *Cursor) MoveToNext() bool {
	if c.pos >= len(c.rows) {
		return false
	}
	c.pos++
	return c.pos < len(c.rows)
}

// MoveToPosition moves to the given row, returns false if the position is out of range.
// Out of range positions are clamped to before-first or after-last.
func (c *Cursor) MoveToPosition(pos int) bool {
	switch {
	case pos < 0:
		c.pos = -1
		return false
	case pos >= len(c.rows):
		c.pos = len(c.rows)
		return false
	}
	c.pos = pos
	return true
}

// IsNull reports whether the column value of the current row is NULL.
// Returns true if there is no current row or no such column.
func (c *Cursor) IsNull(col int) bool {
	v, err := c.value(col)
	return err != nil || v == nil
}

// GetLong returns column value as int64, NULL is 0
func (c *Cursor) GetLong(col int) (int64, error) {
	v, err := c.value(col)
	if err != nil {
		return 0, err
	}
	switch vv := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return vv, nil
	case float64:
		return floatToLong(col, vv)
	case bool:
		if vv {
			return 1, nil
		}
		return 0, nil
	case time.Time:
		return vv.Unix(), nil
	case string:
		return parseLong(col, vv)
	case []byte:
		return parseLong(col, string(vv))
	}
	return 0, fmt.Errorf("column %d: unsupported type %T", col, v)
}

// GetFloat returns column value as float64, NULL is 0
func (c *Cursor) GetFloat(col int) (float64, error) {
	v, err := c.value(col)
	if err != nil {
		return 0, err
	}
	switch vv := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return float64(vv), nil
	case float64:
		return vv, nil
	case bool:
		if vv {
			return 1, nil
		}
		return 0, nil
	case string:
		return parseFloat(col, vv)
	case []byte:
		return parseFloat(col, string(vv))
	}
	return 0, fmt.Errorf("column %d: unsupported type %T", col, v)
}

// GetString returns column value as string, NULL is an empty string
func (c *Cursor) GetString(col int) (string, error) {
	v, err := c.value(col)
	if err != nil {
		return "", err
	}
	return asString(v), nil
}

// GetBlob returns column value as bytes, NULL is nil
func (c *Cursor) GetBlob(col int) ([]byte, error) {
	v, err := c.value(col)
	if err != nil {
		return nil, err
	}
	switch vv := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return vv, nil
	}
	return []byte(asString(v)), nil
}

// Close releases rows. Cursor can't be used after close.
func (c *Cursor) Close() error {
	c.rows = nil
	c.pos = -1
	return nil
}

func (c *Cursor) value(col int) (any, error) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return nil, ErrNoRow
	}
	if col < 0 || col >= len(c.cols) {
		return nil, fmt.Errorf("column index %d out of range [0, %d)", col, len(c.cols))
	}
	return c.rows[c.pos][col], nil
}

func asString(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case []byte:
		return string(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	case float64:
		return strconv.FormatFloat(vv, 'g', -1, 64)
	case time.Time:
		return vv.Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%v", v)
}

func parseLong(col int, s string) (int64, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("column %d: can't convert %q to int64", col, s)
	}
	return floatToLong(col, f)
}

// floatToLong truncates f to int64, values out of int64 range are errors
func floatToLong(col int, f float64) (int64, error) {
	if math.IsNaN(f) || f < -(1<<63) || f >= 1<<63 {
		return 0, fmt.Errorf("column %d: %v is out of int64 range", col, f)
	}
	return int64(f), nil
}

func parseFloat(col int, s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("column %d: can't convert %q to float64", col, s)
	}
	return f, nil
}
