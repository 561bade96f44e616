package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetters_EmptyTable(t *testing.T) {
	ctx := context.Background()
	w, _ := prepWrapper(t, Opts{})

	v, ok, err := w.GetLong(ctx, QueryParams{Table: "msg", Columns: []string{"id"}})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), v)

	s, ok, err := w.GetString(ctx, QueryParams{Table: "msg", Columns: []string{"body"}})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s)

	s, ok, err = w.GetStringByRowID(ctx, "msg", "body", "id", 100)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s)

	count, err := w.GetCount(ctx, "msg", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// MAX over no rows is NULL
	v, ok, err = w.GetLongRaw(ctx, "SELECT MAX(id) FROM msg")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), v)

	mx, err := w.GetMax(ctx, "msg", "id", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), mx)
	mn, err := w.GetMin(ctx, "msg", "id", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), mn)

	_, err = w.GetMax(ctx, "msg", " ", "")
	assert.Error(t, err)
}

func TestGetters_WithRows(t *testing.T) {
	ctx := context.Background()
	w, logs := prepWrapper(t, Opts{Debug: true})

	for i, body := range []string{"one", "two", "three"} {
		_, err := w.Insert(ctx, "msg", Values{"body": body, "kind": (i + 1) * 10})
		require.NoError(t, err)
	}

	count, err := w.GetCount(ctx, "msg", "kind > ?", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.True(t, logs.contains("[DEBUG] get count: table = msg, where = <kind > ?>, args = [10], count = 2"))

	mx, err := w.GetMax(ctx, "msg", "kind", "")
	require.NoError(t, err)
	assert.Equal(t, int64(30), mx)
	mn, err := w.GetMin(ctx, "msg", "kind", "id > ?", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(20), mn)

	s, ok, err := w.GetStringByRowID(ctx, "msg", "body", "id", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", s)

	s, ok, err = w.GetStringRaw(ctx, "SELECT body FROM msg WHERE kind = ?", 30)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "three", s)

	v, ok, err := w.GetLongRaw(ctx, "SELECT kind FROM msg WHERE body = ?", "one")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(10), v)

	_, _, err = w.GetLongRaw(ctx, "SELECT nope FROM msg")
	assert.Error(t, err)
}

func TestDump(t *testing.T) {
	ctx := context.Background()
	w, logs := prepWrapper(t, Opts{})

	_, err := w.Insert(ctx, "msg", Values{"body": "b"})
	require.NoError(t, err)
	_, err = w.Insert(ctx, "msg", Values{"body": "a", "kind": 2})
	require.NoError(t, err)

	require.NoError(t, w.Dump(ctx, "msg", "body"))
	assert.True(t, logs.contains("[INFO] table msg, rows 2"))
	assert.True(t, logs.contains("[INFO] {id = 2, body = a, kind = 2}"))
	assert.True(t, logs.contains("[INFO] {id = 1, body = b, kind = 0}"))

	assert.Error(t, w.Dump(ctx, "nope", ""))
}

func TestDumpRow(t *testing.T) {
	ctx := context.Background()
	w, _ := prepWrapper(t, Opts{})

	assert.Equal(t, "<null cursor>", DumpRow(nil))

	cur, err := w.RawQuery(ctx, "SELECT 1 AS a, NULL AS b, 'x' AS c")
	require.NoError(t, err)
	require.True(t, cur.MoveToFirst())
	assert.Equal(t, "{a = 1, b = <null>, c = x}", DumpRow(cur))
}
