package schema

import (
	"fmt"
	"slices"
	"strings"
)

// DataType defines sqlite storage class of a column
type DataType string

// supported column types
const (
	Integer DataType = "INTEGER"
	Text    DataType = "TEXT"
	Real    DataType = "REAL"
	Blob    DataType = "BLOB"
)

// ParseDataType converts a type name, case-insensitive, to DataType
func ParseDataType(s string) (DataType, error) {
	switch dt := DataType(strings.ToUpper(strings.TrimSpace(s))); dt {
	case Integer, Text, Real, Blob:
		return dt, nil
	}
	return "", fmt.Errorf("unknown data type %q", s)
}

// Conflict defines ON CONFLICT resolution policy. Empty value means no conflict clause.
type Conflict string

// conflict resolution policies
const (
	ConflictNone     Conflict = ""
	ConflictRollback Conflict = "ROLLBACK"
	ConflictAbort    Conflict = "ABORT"
	ConflictFail     Conflict = "FAIL"
	ConflictIgnore   Conflict = "IGNORE"
	ConflictReplace  Conflict = "REPLACE"
)

// ParseConflict converts policy name, case-insensitive, to Conflict
func ParseConflict(s string) (Conflict, error) {
	switch c := Conflict(strings.ToUpper(strings.TrimSpace(s))); c {
	case ConflictNone, ConflictRollback, ConflictAbort, ConflictFail, ConflictIgnore, ConflictReplace:
		return c, nil
	}
	return ConflictNone, fmt.Errorf("unknown conflict policy %q", s)
}

// Constraint is a column or table constraint, rendered as sql fragment with optional conflict clause
type Constraint struct {
	kind     string
	sql      string
	conflict Conflict
}

// predefined constraints without conflict policy
var (
	PrimaryKey    = Constraint{kind: "primary_key", sql: "PRIMARY KEY"}
	Autoincrement = Constraint{kind: "autoincrement", sql: "PRIMARY KEY AUTOINCREMENT"}
	NotNull       = Constraint{kind: "not_null", sql: "NOT NULL"}
	DefaultZero   = Constraint{kind: "default_zero", sql: "DEFAULT 0"}
	CollateNoCase = Constraint{kind: "collate_nocase", sql: "COLLATE NOCASE"}
)

// UniqueWithConflict makes UNIQUE constraint with the given conflict policy
func UniqueWithConflict(c Conflict) Constraint {
	return Constraint{kind: "unique", sql: "UNIQUE", conflict: c}
}

// NotNullWithConflict makes NOT NULL constraint with the given conflict policy
func NotNullWithConflict(c Conflict) Constraint {
	return Constraint{kind: "not_null", sql: "NOT NULL", conflict: c}
}

// ParseConstraint converts constraint name as used in schema files to Constraint.
// Names are primary_key, autoincrement, unique, not_null, default_zero and collate_nocase;
// unique and not_null accept conflict policy after colon, i.e. "unique:rollback".
func ParseConstraint(s string) (Constraint, error) {
	name, policy, _ := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	conflict, err := ParseConflict(policy)
	if err != nil {
		return Constraint{}, fmt.Errorf("bad constraint %q: %w", s, err)
	}

	switch name {
	case "unique":
		return UniqueWithConflict(conflict), nil
	case "not_null":
		return NotNullWithConflict(conflict), nil
	}

	if conflict != ConflictNone {
		return Constraint{}, fmt.Errorf("constraint %q doesn't support conflict policy", name)
	}
	for _, c := range []Constraint{PrimaryKey, Autoincrement, DefaultZero, CollateNoCase} {
		if c.kind == name {
			return c, nil
		}
	}
	return Constraint{}, fmt.Errorf("unknown constraint %q", s)
}

// Conflict returns the conflict policy attached to the constraint
func (c Constraint) Conflict() Conflict { return c.conflict }

// String returns constraint fragment without leading space
func (c Constraint) String() string {
	var sb strings.Builder
	c.write(&sb, nil)
	return strings.TrimPrefix(sb.String(), " ")
}

// write appends " <sql>[ ('c1', 'c2')][ ON CONFLICT <policy>]"
func (c Constraint) write(sb *strings.Builder, cols []string) {
	sb.WriteByte(' ')
	sb.WriteString(c.sql)
	if cols != nil {
		sb.WriteString(" (")
		writeQuotedList(sb, cols)
		sb.WriteByte(')')
	}
	if c.conflict != ConflictNone {
		sb.WriteString(" ON CONFLICT ")
		sb.WriteString(string(c.conflict))
	}
}

// ColumnDef defines a column in a table
type ColumnDef struct {
	Name        string
	Type        DataType
	Constraints []Constraint
}

// Col makes ColumnDef
func Col(name string, dt DataType, constraints ...Constraint) ColumnDef {
	return ColumnDef{Name: name, Type: dt, Constraints: constraints}
}

// SQL returns column definition, i.e. 'body' TEXT NOT NULL
func (c ColumnDef) SQL() string {
	var sb strings.Builder
	c.write(&sb)
	return sb.String()
}

func (c ColumnDef) write(sb *strings.Builder) {
	sb.WriteString(quoteIdent(c.Name))
	sb.WriteByte(' ')
	sb.WriteString(string(c.Type))
	for _, cn := range c.Constraints {
		cn.write(sb, nil)
	}
}

// TableConstraint is a table-level constraint over one or more columns
type TableConstraint struct {
	Constraint Constraint
	Columns    []string
}

// SQL returns table constraint fragment, i.e. UNIQUE ('a', 'b') ON CONFLICT ROLLBACK
func (tc TableConstraint) SQL() string {
	var sb strings.Builder
	tc.Constraint.write(&sb, tc.Columns)
	return strings.TrimPrefix(sb.String(), " ")
}

// Index defines an index on the table columns. Indexes with the same ordered
// list of columns are the same index, regardless of the unique flag.
type Index struct {
	table   Table // back-reference, used for naming only
	Unique  bool
	Columns []string
}

// NewIndex makes an index on the given table columns
func NewIndex(t Table, unique bool, cols ...string) Index {
	return Index{table: t, Unique: unique, Columns: cols}
}

// Table returns name of the indexed table
func (i Index) Table() string {
	if i.table == nil {
		return ""
	}
	return i.table.TableName()
}

// Name returns index name derived from the table and columns, i.e. msg_body
func (i Index) Name() string {
	return strings.Join(append([]string{i.Table()}, i.Columns...), "_")
}

// SameColumns checks if the index is defined on exactly the given ordered columns
func (i Index) SameColumns(cols []string) bool {
	return slices.Equal(i.Columns, cols)
}

// SQL returns CREATE INDEX statement for the index
func (i Index) SQL(ifNotExists bool) string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if i.Unique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX ")
	if ifNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(i.Name())
	sb.WriteString(" ON ")
	sb.WriteString(i.Table())
	sb.WriteString(" (")
	writeQuotedList(&sb, i.Columns)
	sb.WriteByte(')')
	return sb.String()
}

// Table is a declarative description of a table. Implementations are pure metadata.
type Table interface {
	TableName() string
	ColumnDefs() []ColumnDef
}

// VirtualTable is implemented by tables created with CREATE VIRTUAL TABLE ... USING module
type VirtualTable interface {
	VirtualModule() string
}

// ConstrainedTable is implemented by tables with table-level constraints
type ConstrainedTable interface {
	Constraints() []TableConstraint
}

// IndexedTable is implemented by tables with indexes
type IndexedTable interface {
	Indexes() []Index
}

func virtualModule(t Table) string {
	if vt, ok := t.(VirtualTable); ok {
		return vt.VirtualModule()
	}
	return ""
}

func tableConstraints(t Table) []TableConstraint {
	if ct, ok := t.(ConstrainedTable); ok {
		return ct.Constraints()
	}
	return nil
}

func indexes(t Table) []Index {
	if it, ok := t.(IndexedTable); ok {
		return it.Indexes()
	}
	return nil
}

// quoteIdent is the only place identifiers get quoted
func quoteIdent(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func writeQuotedList(sb *strings.Builder, names []string) {
	for i, n := range names {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(n))
	}
}
