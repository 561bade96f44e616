// Package config loads table descriptions from yaml or toml schema files
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/umputun/sqlwrap/pkg/schema"
)

// File defines the top-level schema file
type File struct {
	Tables []TableDef `yaml:"tables" toml:"tables"`
}

// TableDef defines a table as written in the schema file
type TableDef struct {
	Name        string          `yaml:"name" toml:"name"`                         // table name, mandatory
	Virtual     string          `yaml:"virtual" toml:"virtual,omitempty"`         // module for virtual tables, i.e. fts4
	Columns     []ColumnDef     `yaml:"columns" toml:"columns"`                   // ordered list of columns
	Constraints []ConstraintDef `yaml:"constraints" toml:"constraints,omitempty"` // table-level constraints
	Indexes     []IndexDef      `yaml:"indexes" toml:"indexes,omitempty"`         // indexes, named by table and columns
	Updates     []string        `yaml:"updates" toml:"updates,omitempty"`         // UPDATE fragments applied on alter
}

// ColumnDef defines a column as written in the schema file
type ColumnDef struct {
	Name        string   `yaml:"name" toml:"name"`
	Type        string   `yaml:"type" toml:"type"`                         // integer, text, real or blob
	Constraints []string `yaml:"constraints" toml:"constraints,omitempty"` // i.e. not_null, unique:rollback
}

// ConstraintDef defines a table-level constraint
type ConstraintDef struct {
	Type    string   `yaml:"type" toml:"type"` // i.e. unique:replace
	Columns []string `yaml:"columns" toml:"columns"`
}

// IndexDef defines an index
type IndexDef struct {
	Columns []string `yaml:"columns" toml:"columns"`
	Unique  bool     `yaml:"unique" toml:"unique,omitempty"`
}

// Schema is a loaded and validated list of tables
type Schema struct {
	Tables []*Table
}

// Table is a table description made from the schema file, implements schema.Table
// and all optional table interfaces.
type Table struct {
	name        string
	module      string
	columns     []schema.ColumnDef
	constraints []schema.TableConstraint
	indexes     []schema.Index
	updates     []string
}

// TableName returns table name
func (t *Table) TableName() string { return t.name }

// ColumnDefs returns columns
func (t *Table) ColumnDefs() []schema.ColumnDef { return t.columns }

// VirtualModule returns module of virtual table, empty for regular tables
func (t *Table) VirtualModule() string { return t.module }

// Constraints returns table-level constraints
func (t *Table) Constraints() []schema.TableConstraint { return t.constraints }

// Indexes returns indexes
func (t *Table) Indexes() []schema.Index { return t.indexes }

// Updates returns UPDATE fragments for alter, i.e. "SET body = trim(body)"
func (t *Table) Updates() []string { return t.updates }

// Load reads schema file, yaml or toml by extension, and returns validated tables.
// All problems found in the file are reported together.
func Load(fname string) (*Schema, error) {
	lgr.Printf("[DEBUG] request to load schema %q", fname)
	data, err := os.ReadFile(fname) // nolint
	if err != nil {
		return nil, fmt.Errorf("can't read schema %s: %w", fname, err)
	}

	var f File
	if err = unmarshalSchemaFile(fname, data, &f); err != nil {
		return nil, err
	}
	res, err := f.Schema()
	if err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", fname, err)
	}
	lgr.Printf("[DEBUG] loaded schema %s, tables: %d", fname, len(res.Tables))
	return res, nil
}

// Table returns table by name
func (s *Schema) Table(name string) (*Table, error) {
	for _, t := range s.Tables {
		if t.name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("table %q not found in schema", name)
}

// Names returns names of all tables in order of declaration
func (s *Schema) Names() []string {
	res := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		res = append(res, t.name)
	}
	return res
}

// Schema converts file definitions to tables and validates them
func (f File) Schema() (*Schema, error) {
	errs := new(multierror.Error)
	if len(f.Tables) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("no tables defined"))
	}

	res := &Schema{}
	seen := make(map[string]bool)
	for i, td := range f.Tables {
		if td.Name != "" && seen[td.Name] {
			errs = multierror.Append(errs, fmt.Errorf("duplicate table %q", td.Name))
		}
		seen[td.Name] = true

		t, err := td.table()
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("table #%d %q: %w", i, td.Name, err))
			continue
		}
		if err := schema.Validate(t); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		res.Tables = append(res.Tables, t)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return res, nil
}

// table makes Table from definitions, types and constraints are parsed but not validated
func (td TableDef) table() (*Table, error) {
	errs := new(multierror.Error)
	res := &Table{name: td.Name, module: strings.TrimSpace(td.Virtual), updates: td.Updates}

	for _, c := range td.Columns {
		dt, err := schema.ParseDataType(c.Type)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("column %q: %w", c.Name, err))
			continue
		}
		cs := make([]schema.Constraint, 0, len(c.Constraints))
		for _, name := range c.Constraints {
			cn, err := schema.ParseConstraint(name)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("column %q: %w", c.Name, err))
				continue
			}
			cs = append(cs, cn)
		}
		res.columns = append(res.columns, schema.Col(c.Name, dt, cs...))
	}

	for _, tc := range td.Constraints {
		cn, err := schema.ParseConstraint(tc.Type)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		res.constraints = append(res.constraints, schema.TableConstraint{Constraint: cn, Columns: tc.Columns})
	}

	for _, idx := range td.Indexes {
		res.indexes = append(res.indexes, schema.NewIndex(res, idx.Unique, idx.Columns...))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return res, nil
}

// unmarshalSchemaFile parses data as yaml or toml, guessing format by file extension.
// Files without extension are treated as yaml.
func unmarshalSchemaFile(fname string, data []byte, f *File) error {
	switch {
	case strings.HasSuffix(fname, ".yml") || strings.HasSuffix(fname, ".yaml") || !strings.Contains(fname, "."):
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true) // strict mode, fail on unknown fields
		if err := dec.Decode(f); err != nil {
			return fmt.Errorf("can't unmarshal yaml schema %s: %w", fname, err)
		}
	case strings.HasSuffix(fname, ".toml"):
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(f); err != nil {
			return fmt.Errorf("can't unmarshal toml schema %s: %w", fname, err)
		}
	default:
		return fmt.Errorf("unknown schema format %s", fname)
	}
	return nil
}
