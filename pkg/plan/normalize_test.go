package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tbl := []struct {
		name     string
		query    string
		want     string
		embedded bool
	}{
		{name: "no where", query: "SELECT  *\n\tFROM msg", want: "SELECT * FROM msg"},
		{name: "bound param", query: "SELECT * FROM msg WHERE id = ?", want: "SELECT * FROM msg WHERE id = ?"},
		{name: "number", query: "SELECT * FROM msg WHERE x = 5", want: "SELECT * FROM msg WHERE x = ?", embedded: true},
		{name: "number no spaces", query: "SELECT * FROM msg WHERE x=5", want: "SELECT * FROM msg WHERE x = ?", embedded: true},
		{name: "string", query: "SELECT * FROM msg WHERE status = 'active'", want: "SELECT * FROM msg WHERE status = ?",
			embedded: true},
		{name: "double equal", query: "SELECT * FROM msg WHERE x == 7", want: "SELECT * FROM msg WHERE x = ?", embedded: true},
		{name: "ranges", query: "select a from t where a >= 1 and b< 2", want: "select a from t where a = ? and b = ?",
			embedded: true},
		{name: "in list", query: "SELECT * FROM t WHERE id IN (1, 2, 3)", want: "SELECT * FROM t WHERE id = ?", embedded: true},
		{name: "in placeholders", query: "SELECT * FROM t WHERE id IN (?,?,?)", want: "SELECT * FROM t WHERE id IN (?,?,?)"},
		{name: "not equal placeholder", query: "SELECT * FROM t WHERE status != ?", want: "SELECT * FROM t WHERE status != ?"},
		{name: "not equal literal", query: "SELECT * FROM t WHERE status != 'x'", want: "SELECT * FROM t WHERE status != ?"},
		{name: "not in literal", query: "SELECT * FROM t WHERE id NOT IN (1,2) AND a = ?",
			want: "SELECT * FROM t WHERE id != ? AND a = ?"},
		{name: "string with spaces", query: "SELECT * FROM t WHERE name = 'john smith' AND a = ?",
			want: "SELECT * FROM t WHERE name = ? AND a = ?", embedded: true},
		{name: "string with escaped quote", query: "SELECT * FROM t WHERE name = 'it''s here'",
			want: "SELECT * FROM t WHERE name = ?", embedded: true},
		{name: "not equal string with spaces", query: "SELECT * FROM t WHERE name != 'jane doe'",
			want: "SELECT * FROM t WHERE name != ?"},
		{name: "in strings with spaces", query: "SELECT * FROM t WHERE name IN ('a b', 'c, d')",
			want: "SELECT * FROM t WHERE name = ?", embedded: true},
		{name: "not in strings", query: "SELECT * FROM t WHERE name NOT IN ('a)b', 'c') AND a = ?",
			want: "SELECT * FROM t WHERE name != ? AND a = ?"},
		{name: "mixed", query: "SELECT * FROM t WHERE a = ? AND b = 'z'", want: "SELECT * FROM t WHERE a = ? AND b = ?",
			embedded: true},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			got, embedded := Normalize(tt.query)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.embedded, embedded)
		})
	}
}

func TestNormalize_WhitespaceInsensitive(t *testing.T) {
	a, _ := Normalize("SELECT * FROM t WHERE x = 5")
	b, _ := Normalize("SELECT *   FROM t\nWHERE x=5")
	assert.Equal(t, a, b)
}

func TestNormalize_QuotedStringsSameShape(t *testing.T) {
	a, _ := Normalize("SELECT * FROM t WHERE name = 'john smith'")
	b, _ := Normalize("SELECT * FROM t WHERE name = 'jane doe'")
	assert.Equal(t, "SELECT * FROM t WHERE name = ?", a)
	assert.Equal(t, a, b)
}

func TestSelectFromStatement(t *testing.T) {
	tbl := []struct {
		stmt string
		want string
		ok   bool
	}{
		{stmt: "DELETE FROM msg WHERE id = ?", want: "SELECT * FROM msg WHERE id = ?", ok: true},
		{stmt: "  delete from msg", want: "SELECT * FROM msg", ok: true},
		{stmt: "UPDATE msg SET body = ? WHERE id = ? AND kind = ?", want: "SELECT * FROM msg WHERE id = ? AND kind = ?", ok: true},
		{stmt: "UPDATE OR REPLACE msg SET body = ?", want: "SELECT * FROM msg", ok: true},
		{stmt: "UPDATE msg\nSET body = ?\nWHERE id = 1", want: "SELECT * FROM msg WHERE id = 1", ok: true},
		{stmt: "INSERT INTO msg (body) VALUES (?)", ok: false},
		{stmt: "garbage", ok: false},
	}
	for _, tt := range tbl {
		t.Run(tt.stmt, func(t *testing.T) {
			got, ok := SelectFromStatement(tt.stmt)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectFor(t *testing.T) {
	assert.Equal(t, "SELECT * FROM msg", SelectFor("msg", ""))
	assert.Equal(t, "SELECT * FROM msg WHERE a = ?", SelectFor("msg", "a = ?"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, 0, placeholders("SELECT * FROM msg"))
	assert.Equal(t, 2, placeholders("SELECT * FROM msg WHERE a = ? AND b IN (?)"))
	assert.Equal(t, 1, placeholders("SELECT * FROM msg WHERE a = 'what?' AND b = ?"))
}
