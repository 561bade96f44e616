package schema

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-pkgz/lgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type msgTable struct{}

func (m msgTable) TableName() string { return "msg" }
func (m msgTable) ColumnDefs() []ColumnDef {
	return []ColumnDef{Col("id", Integer, Autoincrement), Col("body", Text, NotNull)}
}
func (m msgTable) Indexes() []Index { return []Index{NewIndex(m, true, "body")} }

type plainTable struct {
	name string
	cols []ColumnDef
}

func (p plainTable) TableName() string       { return p.name }
func (p plainTable) ColumnDefs() []ColumnDef { return p.cols }

type fullTable struct{}

func (f fullTable) TableName() string { return "thread" }
func (f fullTable) ColumnDefs() []ColumnDef {
	return []ColumnDef{
		Col("_id", Integer, PrimaryKey),
		Col("recipient", Text, NotNullWithConflict(ConflictRollback), CollateNoCase),
		Col("count", Integer, DefaultZero),
		Col("kind", Integer),
	}
}
func (f fullTable) Constraints() []TableConstraint {
	return []TableConstraint{{Constraint: UniqueWithConflict(ConflictRollback), Columns: []string{"recipient", "kind"}}}
}
func (f fullTable) Indexes() []Index {
	return []Index{NewIndex(f, false, "recipient", "kind"), NewIndex(f, false, "count")}
}

type ftsTable struct{}

func (f ftsTable) TableName() string              { return "words" }
func (f ftsTable) ColumnDefs() []ColumnDef        { return []ColumnDef{Col("body", Text)} }
func (f ftsTable) VirtualModule() string          { return "fts4" }
func (f ftsTable) Indexes() []Index               { return nil }
func (f ftsTable) Constraints() []TableConstraint { return nil }

// recorder collects executed statements and fails on statements listed in fail
type recorder struct {
	stmts []string
	fail  map[string]error
}

func (r *recorder) ExecSQL(_ context.Context, sql string) error {
	r.stmts = append(r.stmts, sql)
	if err, ok := r.fail[sql]; ok {
		return err
	}
	return nil
}

func TestBuilder_CreateTable(t *testing.T) {
	tbl := []struct {
		name        string
		table       Table
		ifNotExists bool
		want        []string
	}{
		{
			name: "msg", table: msgTable{}, ifNotExists: true,
			want: []string{
				"CREATE TABLE IF NOT EXISTS 'msg' ('id' INTEGER PRIMARY KEY AUTOINCREMENT, 'body' TEXT NOT NULL)",
				"CREATE UNIQUE INDEX IF NOT EXISTS msg_body ON msg ('body')",
			},
		},
		{
			name: "plain, no constraints", table: plainTable{name: "kv", cols: []ColumnDef{Col("k", Text), Col("v", Blob)}},
			want: []string{"CREATE TABLE 'kv' ('k' TEXT, 'v' BLOB)"},
		},
		{
			name: "table constraints and multi-column index", table: fullTable{}, ifNotExists: false,
			want: []string{
				"CREATE TABLE 'thread' ('_id' INTEGER PRIMARY KEY, 'recipient' TEXT NOT NULL ON CONFLICT ROLLBACK COLLATE NOCASE, " +
					"'count' INTEGER DEFAULT 0, 'kind' INTEGER, UNIQUE ('recipient', 'kind') ON CONFLICT ROLLBACK)",
				"CREATE INDEX thread_recipient_kind ON thread ('recipient', 'kind')",
				"CREATE INDEX thread_count ON thread ('count')",
			},
		},
		{
			name: "virtual", table: ftsTable{}, ifNotExists: true,
			want: []string{"CREATE VIRTUAL TABLE IF NOT EXISTS 'words' USING fts4 ('body' TEXT)"},
		},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			err := NewBuilder(rec).CreateTable(context.Background(), tt.table, tt.ifNotExists)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.stmts)
		})
	}
}

func TestCreateTableSQL_Deterministic(t *testing.T) {
	first := CreateTableSQL(fullTable{}, "thread", true)
	for range 10 {
		assert.Equal(t, first, CreateTableSQL(fullTable{}, "thread", true))
	}
}

func TestBuilder_CreateTableInvalid(t *testing.T) {
	rec := &recorder{}
	b := NewBuilder(rec)
	assert.Panics(t, func() { _ = b.CreateTable(context.Background(), plainTable{name: "empty"}, true) })
	dup := plainTable{name: "dup", cols: []ColumnDef{Col("a", Text), Col("a", Integer)}}
	assert.Panics(t, func() { _ = b.CreateTable(context.Background(), dup, true) })
	assert.Empty(t, rec.stmts, "nothing executed for invalid descriptors")
}

func TestBuilder_CreateTableExecError(t *testing.T) {
	createSQL := "CREATE TABLE IF NOT EXISTS 'msg' ('id' INTEGER PRIMARY KEY AUTOINCREMENT, 'body' TEXT NOT NULL)"
	rec := &recorder{fail: map[string]error{createSQL: errors.New("disk on fire")}}
	err := NewBuilder(rec).CreateTable(context.Background(), msgTable{}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Len(t, rec.stmts, 1, "indexes not created after failure")
}

func TestBuilder_AddCols(t *testing.T) {
	rec := &recorder{}
	b := NewBuilder(rec)
	require.NoError(t, b.AddCols(context.Background(), fullTable{}, "count", "kind"))
	assert.Equal(t, []string{
		"ALTER TABLE thread ADD COLUMN 'count' INTEGER DEFAULT 0",
		"ALTER TABLE thread ADD COLUMN 'kind' INTEGER",
	}, rec.stmts)

	assert.PanicsWithValue(t, `schema: unable to find column "nope" in table thread`, func() {
		_ = b.AddCols(context.Background(), fullTable{}, "nope")
	})
}

func TestBuilder_AddIndexes(t *testing.T) {
	t.Run("matching index", func(t *testing.T) {
		rec := &recorder{}
		err := NewBuilder(rec).AddIndexes(context.Background(), fullTable{}, []string{"count"}, []string{"recipient", "kind"})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"CREATE INDEX IF NOT EXISTS thread_count ON thread ('count')",
			"CREATE INDEX IF NOT EXISTS thread_recipient_kind ON thread ('recipient', 'kind')",
		}, rec.stmts)
	})

	t.Run("column order matters", func(t *testing.T) {
		rec := &recorder{}
		assert.Panics(t, func() {
			_ = NewBuilder(rec).AddIndexes(context.Background(), fullTable{}, []string{"kind", "recipient"})
		})
		assert.Empty(t, rec.stmts)
	})

	t.Run("no declared indexes", func(t *testing.T) {
		rec := &recorder{}
		assert.PanicsWithValue(t, "schema: trying to add index for table kv with no indexes", func() {
			_ = NewBuilder(rec).AddIndexes(context.Background(), plainTable{name: "kv", cols: []ColumnDef{Col("k", Text)}},
				[]string{"k"})
		})
	})
}

func TestBuilder_DropIndexes(t *testing.T) {
	rec := &recorder{}
	err := NewBuilder(rec).DropIndexes(context.Background(), fullTable{}, []string{"recipient", "kind"}, []string{"gone"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"DROP INDEX IF EXISTS thread_recipient_kind",
		"DROP INDEX IF EXISTS thread_gone",
	}, rec.stmts)
}

func TestBuilder_Alter(t *testing.T) {
	rec := &recorder{}
	err := NewBuilder(rec).Alter(context.Background(), msgTable{}, "SET body = 'x' WHERE id = 1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CREATE TABLE 'new_msg' ('id' INTEGER PRIMARY KEY AUTOINCREMENT, 'body' TEXT NOT NULL)",
		"INSERT INTO new_msg SELECT id, body FROM msg",
		"UPDATE new_msg SET body = 'x' WHERE id = 1",
		"DROP TABLE IF EXISTS msg",
		"ALTER TABLE new_msg RENAME TO msg",
		"CREATE UNIQUE INDEX msg_body ON msg ('body')",
	}, rec.stmts)
}

func TestBuilder_AlterLogs(t *testing.T) {
	var lines []string
	logger := lgr.Func(func(format string, args ...any) { lines = append(lines, fmt.Sprintf(format, args...)) })

	rec := &recorder{}
	b := NewBuilder(rec).WithLogger(logger)
	require.NoError(t, b.Alter(context.Background(), msgTable{}, "SET body = trim(body)"))
	assert.Equal(t, []string{"[DEBUG] alter table msg, 1 updates"}, lines)

	assert.Same(t, b, b.WithLogger(nil))
	require.NoError(t, b.Alter(context.Background(), msgTable{}))
	assert.Len(t, lines, 2, "nil logger keeps the current one")
}

func TestBuilder_AlterStopsOnError(t *testing.T) {
	rec := &recorder{fail: map[string]error{"INSERT INTO new_msg SELECT id, body FROM msg": errors.New("no such table: msg")}}
	err := NewBuilder(rec).Alter(context.Background(), msgTable{})
	require.Error(t, err)
	assert.Len(t, rec.stmts, 2, "old table must not be dropped after failed copy")
}

func TestBuilder_Drop(t *testing.T) {
	rec := &recorder{}
	require.NoError(t, NewBuilder(rec).Drop(context.Background(), msgTable{}))
	assert.Equal(t, []string{"DROP TABLE IF EXISTS msg"}, rec.stmts)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(msgTable{}))
	assert.NoError(t, Validate(fullTable{}))

	bad := badTable{}
	err := Validate(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate column "a"`)
	assert.Contains(t, err.Error(), `unknown data type "VARCHAR"`)
	assert.Contains(t, err.Error(), `index bad_c refers to unknown column "c"`)
	assert.Contains(t, err.Error(), "has no columns")
}

type badTable struct{}

func (b badTable) TableName() string { return "bad" }
func (b badTable) ColumnDefs() []ColumnDef {
	return []ColumnDef{Col("a", Text), Col("a", Integer), Col("b", DataType("VARCHAR"))}
}
func (b badTable) Indexes() []Index { return []Index{NewIndex(b, false, "c")} }
func (b badTable) Constraints() []TableConstraint {
	return []TableConstraint{{Constraint: UniqueWithConflict(ConflictNone)}}
}
