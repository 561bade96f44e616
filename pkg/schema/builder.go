// Package schema describes tables declaratively and turns the descriptions into sqlite DDL.
// Builder executes the DDL and supports schema evolution: adding columns, adding and dropping
// indexes and full table rewrite for changes sqlite can't do with ALTER TABLE.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/stringutils"
	"github.com/hashicorp/go-multierror"
)

// Executor runs a single sql statement, store.Wrapper implements it
type Executor interface {
	ExecSQL(ctx context.Context, sql string) error
}

// Builder creates and migrates tables described by Table
type Builder struct {
	exec Executor
	log  lgr.L
}

// NewBuilder makes Builder executing statements with exec, logging to lgr.Std
func NewBuilder(exec Executor) *Builder {
	return &Builder{exec: exec, log: lgr.Std}
}

// WithLogger sets logger for the builder, nil keeps the current one
func (b *Builder) WithLogger(l lgr.L) *Builder {
	if l != nil {
		b.log = l
	}
	return b
}

// CreateTable creates the table and all its indexes
func (b *Builder) CreateTable(ctx context.Context, t Table, ifNotExists bool) error {
	mustValidate(t)
	if err := b.run(ctx, CreateTableSQL(t, t.TableName(), ifNotExists)); err != nil {
		return err
	}
	return b.createIndexes(ctx, t, ifNotExists)
}

// Drop drops the table
func (b *Builder) Drop(ctx context.Context, t Table) error {
	return b.run(ctx, DropTableSQL(t.TableName()))
}

// AddCols adds the given declared columns to existing table, one ALTER TABLE per column.
// Panics if a column is not declared by the table.
func (b *Builder) AddCols(ctx context.Context, t Table, names ...string) error {
	for _, name := range names {
		col, ok := findColumn(t, name)
		if !ok {
			panic(fmt.Sprintf("schema: unable to find column %q in table %s", name, t.TableName()))
		}
		if err := b.run(ctx, AddColumnSQL(t.TableName(), col)); err != nil {
			return err
		}
	}
	return nil
}

// AddIndexes creates declared indexes matching the given column lists.
// Panics if the table has no indexes or any list matches no declared index.
func (b *Builder) AddIndexes(ctx context.Context, t Table, colLists ...[]string) error {
	declared := indexes(t)
	if len(declared) == 0 {
		panic(fmt.Sprintf("schema: trying to add index for table %s with no indexes", t.TableName()))
	}
	for _, cols := range colLists {
		idx, ok := findIndex(declared, cols)
		if !ok {
			panic(fmt.Sprintf("schema: unable to find index %v in table %s", cols, t.TableName()))
		}
		if err := b.run(ctx, idx.SQL(true)); err != nil {
			return err
		}
	}
	return nil
}

// DropIndexes drops indexes defined by the given column lists, declared or not
func (b *Builder) DropIndexes(ctx context.Context, t Table, colLists ...[]string) error {
	for _, cols := range colLists {
		if err := b.run(ctx, DropIndexSQL(NewIndex(t, false, cols...))); err != nil {
			return err
		}
	}
	return nil
}

// Alter rewrites the table: copies data into new_<table> created from the current description,
// applies updates to the copy, drops the old table, renames the copy and recreates indexes.
// Each update is the part of UPDATE statement after the table name, i.e. "SET x = 0 WHERE y = 1".
// The sequence is not atomic, callers should run it inside a transaction.
func (b *Builder) Alter(ctx context.Context, t Table, updates ...string) error {
	mustValidate(t)
	name := t.TableName()
	shadow := ShadowName(name)

	stmts := []string{CreateTableSQL(t, shadow, false), CopySQL(t, shadow)}
	for _, upd := range updates {
		stmts = append(stmts, "UPDATE "+shadow+" "+upd)
	}
	stmts = append(stmts, DropTableSQL(name), RenameSQL(shadow, name))

	b.log.Logf("[DEBUG] alter table %s, %d updates", name, len(updates))
	for _, s := range stmts {
		if err := b.run(ctx, s); err != nil {
			return err
		}
	}
	return b.createIndexes(ctx, t, false)
}

func (b *Builder) createIndexes(ctx context.Context, t Table, ifNotExists bool) error {
	for _, idx := range indexes(t) {
		if err := b.run(ctx, idx.SQL(ifNotExists)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) run(ctx context.Context, sql string) error {
	if err := b.exec.ExecSQL(ctx, sql); err != nil {
		return fmt.Errorf("can't execute %q: %w", sql, err)
	}
	return nil
}

// ShadowName returns the name of the temporary copy used by Alter
func ShadowName(table string) string { return "new_" + table }

// CreateTableSQL returns CREATE TABLE statement for the table description, using name as the table name
func CreateTableSQL(t Table, name string, ifNotExists bool) string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	mod := virtualModule(t)
	if mod != "" {
		sb.WriteString("VIRTUAL ")
	}
	sb.WriteString("TABLE ")
	if ifNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(quoteIdent(name))
	if mod != "" {
		sb.WriteString(" USING ")
		sb.WriteString(mod)
	}

	sb.WriteString(" (")
	for i, col := range t.ColumnDefs() {
		if i > 0 {
			sb.WriteString(", ")
		}
		col.write(&sb)
	}
	for _, tc := range tableConstraints(t) {
		sb.WriteByte(',')
		tc.Constraint.write(&sb, tc.Columns)
	}
	sb.WriteByte(')')
	return sb.String()
}

// AddColumnSQL returns ALTER TABLE ... ADD COLUMN statement
func AddColumnSQL(table string, col ColumnDef) string {
	return "ALTER TABLE " + table + " ADD COLUMN " + col.SQL()
}

// CopySQL returns statement copying all declared columns of the table into dst
func CopySQL(t Table, dst string) string {
	cols := t.ColumnDefs()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return "INSERT INTO " + dst + " SELECT " + strings.Join(names, ", ") + " FROM " + t.TableName()
}

// DropTableSQL returns DROP TABLE IF EXISTS statement
func DropTableSQL(table string) string { return "DROP TABLE IF EXISTS " + table }

// DropIndexSQL returns DROP INDEX IF EXISTS statement for the index
func DropIndexSQL(idx Index) string { return "DROP INDEX IF EXISTS " + idx.Name() }

// RenameSQL returns ALTER TABLE ... RENAME TO statement
func RenameSQL(from, to string) string { return "ALTER TABLE " + from + " RENAME TO " + to }

// Validate checks the table description and returns all problems found
func Validate(t Table) error {
	errs := new(multierror.Error)
	name := t.TableName()
	if strings.TrimSpace(name) == "" {
		errs = multierror.Append(errs, fmt.Errorf("empty table name"))
	}

	cols := t.ColumnDefs()
	if len(cols) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("table %q has no columns", name))
	}
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		if strings.TrimSpace(c.Name) == "" {
			errs = multierror.Append(errs, fmt.Errorf("table %q has a column with empty name", name))
			continue
		}
		if stringutils.Contains(c.Name, names) {
			errs = multierror.Append(errs, fmt.Errorf("table %q has duplicate column %q", name, c.Name))
		}
		if _, err := ParseDataType(string(c.Type)); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("table %q, column %q: %w", name, c.Name, err))
		}
		names = append(names, c.Name)
	}

	checkCols := func(what string, cc []string) {
		if len(cc) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("table %q, %s has no columns", name, what))
		}
		for _, c := range cc {
			if !stringutils.Contains(c, names) {
				errs = multierror.Append(errs, fmt.Errorf("table %q, %s refers to unknown column %q", name, what, c))
			}
		}
	}
	for _, tc := range tableConstraints(t) {
		checkCols("constraint "+tc.Constraint.String(), tc.Columns)
	}
	for _, idx := range indexes(t) {
		checkCols("index "+idx.Name(), idx.Columns)
	}
	return errs.ErrorOrNil()
}

// mustValidate panics on invalid description, emitting broken DDL is a programming error
func mustValidate(t Table) {
	if err := Validate(t); err != nil {
		panic(fmt.Sprintf("schema: invalid table description: %v", err))
	}
}

func findColumn(t Table, name string) (ColumnDef, bool) {
	for _, c := range t.ColumnDefs() {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

func findIndex(declared []Index, cols []string) (Index, bool) {
	for _, idx := range declared {
		if idx.SameColumns(cols) {
			return idx, true
		}
	}
	return Index{}, false
}
