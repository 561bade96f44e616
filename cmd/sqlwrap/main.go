package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-pkgz/fileutils"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/stringutils"
	"github.com/jessevdk/go-flags"

	"github.com/umputun/sqlwrap/pkg/config"
	"github.com/umputun/sqlwrap/pkg/replay"
	"github.com/umputun/sqlwrap/pkg/schema"
	"github.com/umputun/sqlwrap/pkg/store"
)

type options struct {
	DB     string `short:"d" long:"db" env:"SQLWRAP_DB" default:"sqlwrap.db" description:"sqlite database file"`
	Schema string `short:"s" long:"schema" env:"SQLWRAP_SCHEMA" default:"schema.yml" description:"schema file, yaml or toml"`
	Dbg    bool   `long:"dbg" description:"debug mode, enables query plan checks"`

	CreateCmd struct {
		IfNotExists    bool `long:"if-not-exists" description:"skip existing tables and indexes"`
		PositionalArgs struct {
			Tables []string `positional-arg-name:"table" description:"tables to create, all if not set"`
		} `positional-args:"yes"`
	} `command:"create" description:"create tables with indexes"`

	DropCmd struct {
		PositionalArgs struct {
			Tables []string `positional-arg-name:"table" required:"1" description:"tables to drop"`
		} `positional-args:"yes" required:"yes"`
	} `command:"drop" description:"drop tables"`

	AddColsCmd struct {
		PositionalArgs struct {
			Table   string   `positional-arg-name:"table" description:"table name"`
			Columns []string `positional-arg-name:"column" required:"1" description:"declared columns to add"`
		} `positional-args:"yes" required:"yes"`
	} `command:"add-cols" description:"add declared columns to existing table"`

	AddIndexCmd struct {
		PositionalArgs struct {
			Table   string   `positional-arg-name:"table" description:"table name"`
			Indexes []string `positional-arg-name:"columns" required:"1" description:"comma-separated columns of declared index"`
		} `positional-args:"yes" required:"yes"`
	} `command:"add-index" description:"create declared indexes"`

	DropIndexCmd struct {
		PositionalArgs struct {
			Table   string   `positional-arg-name:"table" description:"table name"`
			Indexes []string `positional-arg-name:"columns" required:"1" description:"comma-separated columns of index"`
		} `positional-args:"yes" required:"yes"`
	} `command:"drop-index" description:"drop indexes"`

	AlterCmd struct {
		Backup         bool `long:"backup" description:"copy database file to <db>.bak before altering"`
		PositionalArgs struct {
			Tables []string `positional-arg-name:"table" description:"tables to alter, all if not set"`
		} `positional-args:"yes"`
	} `command:"alter" description:"rewrite tables to match schema and apply updates"`

	QueryCmd struct {
		PositionalArgs struct {
			Query string   `positional-arg-name:"query" description:"select statement"`
			Args  []string `positional-arg-name:"arg" description:"query arguments"`
		} `positional-args:"yes" required:"yes"`
	} `command:"query" description:"run query and print rows"`

	DumpCmd struct {
		OrderBy        string `long:"order" description:"order by clause"`
		PositionalArgs struct {
			Table string `positional-arg-name:"table" description:"table name"`
		} `positional-args:"yes" required:"yes"`
	} `command:"dump" description:"print all rows of the table"`

	ExecCmd struct {
		PositionalArgs struct {
			SQL string `positional-arg-name:"sql" description:"statement to execute"`
		} `positional-args:"yes" required:"yes"`
	} `command:"exec" description:"execute a single statement"`

	ReplayCmd struct {
		Concurrency    int `short:"c" long:"concurrency" default:"4" description:"concurrent statements"`
		Repeat         int `short:"r" long:"repeat" default:"1" description:"number of passes"`
		PositionalArgs struct {
			File string `positional-arg-name:"file" description:"file with statements separated by ';'"`
		} `positional-args:"yes" required:"yes"`
	} `command:"replay" description:"replay statements from file"`
}

var revision = "latest"

var exitFunc = os.Exit

func main() {
	fmt.Printf("sqlwrap %s\n", revision)

	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		exitFunc(1) // can be redefined in tests
		return
	}
	setupLog(opts.Dbg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, p, opts, os.Stdout); err != nil {
		if opts.Dbg {
			log.Printf("[ERROR] %v", err)
		}
		fmt.Printf("failed, %v\n", err)
		exitFunc(1)
	}
}

func run(ctx context.Context, p *flags.Parser, opts options, out io.Writer) error {
	if p.Active == nil {
		return fmt.Errorf("no command specified")
	}
	is := func(name string) bool { return p.Command.Find(name) == p.Active }

	if is("alter") && opts.AlterCmd.Backup {
		if err := backup(opts.DB); err != nil {
			return err
		}
	}

	w, err := store.Open(ctx, opts.DB, store.Opts{Debug: opts.Dbg, OnLowStorage: func(op string, err error) {
		fmt.Fprintf(out, "%s\n", color.New(color.FgHiRed).Sprintf("low storage on %s: %v", op, err))
	}})
	if err != nil {
		return err
	}
	defer w.Close()

	switch {
	case is("query"):
		return query(ctx, w, opts.QueryCmd.PositionalArgs.Query, opts.QueryCmd.PositionalArgs.Args, out)
	case is("dump"):
		return dump(ctx, w, opts.DumpCmd.PositionalArgs.Table, opts.DumpCmd.OrderBy, out)
	case is("exec"):
		log.Printf("[INFO] exec command, sql=%s", opts.ExecCmd.PositionalArgs.SQL)
		return w.ExecSQL(ctx, opts.ExecCmd.PositionalArgs.SQL)
	case is("replay"):
		return replayFile(ctx, w, opts, out)
	}

	sch, err := config.Load(opts.Schema)
	if err != nil {
		return fmt.Errorf("can't load schema: %w", err)
	}
	b := schema.NewBuilder(w)

	switch {
	case is("create"):
		tables, err := pickTables(sch, opts.CreateCmd.PositionalArgs.Tables)
		if err != nil {
			return err
		}
		for _, t := range tables {
			log.Printf("[INFO] create table %s", t.TableName())
			if err := b.CreateTable(ctx, t, opts.CreateCmd.IfNotExists); err != nil {
				return fmt.Errorf("can't create table %s: %w", t.TableName(), err)
			}
		}
		fmt.Fprintf(out, "created %s\n", strings.Join(tableNames(tables), ", "))

	case is("drop"):
		tables, err := pickTables(sch, opts.DropCmd.PositionalArgs.Tables)
		if err != nil {
			return err
		}
		for _, t := range tables {
			log.Printf("[INFO] drop table %s", t.TableName())
			if err := b.Drop(ctx, t); err != nil {
				return fmt.Errorf("can't drop table %s: %w", t.TableName(), err)
			}
		}
		fmt.Fprintf(out, "dropped %s\n", strings.Join(tableNames(tables), ", "))

	case is("add-cols"):
		args := opts.AddColsCmd.PositionalArgs
		t, err := sch.Table(args.Table)
		if err != nil {
			return err
		}
		if err := checkColumns(t, args.Columns); err != nil {
			return err
		}
		if err := b.AddCols(ctx, t, args.Columns...); err != nil {
			return fmt.Errorf("can't add columns to %s: %w", t.TableName(), err)
		}
		fmt.Fprintf(out, "added columns %s to %s\n", strings.Join(args.Columns, ", "), t.TableName())

	case is("add-index"):
		args := opts.AddIndexCmd.PositionalArgs
		t, err := sch.Table(args.Table)
		if err != nil {
			return err
		}
		colLists := parseIndexes(args.Indexes)
		if err := checkIndexes(t, colLists); err != nil {
			return err
		}
		if err := b.AddIndexes(ctx, t, colLists...); err != nil {
			return fmt.Errorf("can't add indexes to %s: %w", t.TableName(), err)
		}
		fmt.Fprintf(out, "added %d indexes to %s\n", len(colLists), t.TableName())

	case is("drop-index"):
		args := opts.DropIndexCmd.PositionalArgs
		t, err := sch.Table(args.Table)
		if err != nil {
			return err
		}
		colLists := parseIndexes(args.Indexes)
		if err := b.DropIndexes(ctx, t, colLists...); err != nil {
			return fmt.Errorf("can't drop indexes on %s: %w", t.TableName(), err)
		}
		fmt.Fprintf(out, "dropped %d indexes on %s\n", len(colLists), t.TableName())

	case is("alter"):
		tables, err := pickTables(sch, opts.AlterCmd.PositionalArgs.Tables)
		if err != nil {
			return err
		}
		err = w.Transact(ctx, func(tx *store.Wrapper) error {
			tb := schema.NewBuilder(tx)
			for _, t := range tables {
				log.Printf("[INFO] alter table %s, updates: %d", t.TableName(), len(t.Updates()))
				if err := tb.Alter(ctx, t, t.Updates()...); err != nil {
					return fmt.Errorf("can't alter table %s: %w", t.TableName(), err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "altered %s\n", strings.Join(tableNames(tables), ", "))

	default:
		return fmt.Errorf("unknown command %s", p.Active.Name)
	}
	return nil
}

// query runs the statement and prints rows separated by tabs, header first
func query(ctx context.Context, w *store.Wrapper, q string, args []string, out io.Writer) error {
	log.Printf("[INFO] query command, query=%s, args=%v", q, args)
	qargs := make([]any, len(args))
	for i, a := range args {
		qargs[i] = a
	}
	cur, err := w.RawQuery(ctx, q, qargs...)
	if err != nil {
		return fmt.Errorf("can't run query: %w", err)
	}
	if cur == nil {
		return fmt.Errorf("no result for %q", q)
	}
	defer cur.Close()

	fmt.Fprintln(out, color.New(color.FgCyan, color.Bold).Sprint(strings.Join(cur.ColumnNames(), "\t")))
	for cur.MoveToNext() {
		vals := make([]string, cur.ColumnCount())
		for i := range vals {
			if cur.IsNull(i) {
				vals[i] = "<null>"
				continue
			}
			if vals[i], err = cur.GetString(i); err != nil {
				return fmt.Errorf("can't read row %d: %w", cur.Position(), err)
			}
		}
		fmt.Fprintln(out, strings.Join(vals, "\t"))
	}
	fmt.Fprintf(out, "%s\n", color.New(color.FgGreen).Sprintf("rows: %d", cur.Count()))
	return nil
}

// dump prints all rows of the table as {col = value, ...}
func dump(ctx context.Context, w *store.Wrapper, table, orderBy string, out io.Writer) error {
	cur, err := w.Query(ctx, store.QueryParams{Table: table, OrderBy: orderBy})
	if err != nil {
		return fmt.Errorf("can't dump %s: %w", table, err)
	}
	if cur == nil {
		return fmt.Errorf("no result for %s", table)
	}
	defer cur.Close()

	fmt.Fprintln(out, color.New(color.FgCyan, color.Bold).Sprintf("table %s, rows %d", table, cur.Count()))
	for cur.MoveToNext() {
		fmt.Fprintln(out, store.DumpRow(cur))
	}
	return nil
}

func replayFile(ctx context.Context, w *store.Wrapper, opts options, out io.Writer) error {
	fname := opts.ReplayCmd.PositionalArgs.File
	log.Printf("[INFO] replay command, file=%s", fname)
	fh, err := os.Open(fname) // nolint
	if err != nil {
		return fmt.Errorf("can't open %s: %w", fname, err)
	}
	defer fh.Close()

	stmts, err := replay.Parse(fh)
	if err != nil {
		return err
	}
	p := replay.Process{Store: w, Concurrency: opts.ReplayCmd.Concurrency, Repeat: opts.ReplayCmd.Repeat}
	st, err := p.Run(ctx, stmts)
	fmt.Fprintln(out, st.String())
	if err != nil {
		return fmt.Errorf("replay %s: %w", fname, err)
	}
	if opts.Dbg {
		log.Printf("[DEBUG] distinct query shapes checked: %d", w.Cache().Len())
	}
	return nil
}

// backup copies database file to <db>.bak, missing database is not an error
func backup(db string) error {
	if !fileutils.IsFile(db) {
		log.Printf("[WARN] no database file %s to backup", db)
		return nil
	}
	dst := db + ".bak"
	if err := fileutils.CopyFile(db, dst); err != nil {
		return fmt.Errorf("can't backup %s: %w", db, err)
	}
	log.Printf("[INFO] database %s copied to %s", db, dst)
	return nil
}

// pickTables returns tables by names, or all tables if names are empty
func pickTables(sch *config.Schema, names []string) ([]*config.Table, error) {
	if len(names) == 0 {
		return sch.Tables, nil
	}
	res := make([]*config.Table, 0, len(names))
	for _, name := range stringutils.DeDup(names) {
		t, err := sch.Table(name)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

func tableNames(tables []*config.Table) []string {
	res := make([]string, 0, len(tables))
	for _, t := range tables {
		res = append(res, t.TableName())
	}
	return res
}

// parseIndexes splits "a,b" arguments to column lists
func parseIndexes(args []string) [][]string {
	res := make([][]string, 0, len(args))
	for _, a := range args {
		var cols []string
		for _, c := range strings.Split(a, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cols = append(cols, c)
			}
		}
		res = append(res, cols)
	}
	return res
}

// checkColumns verifies all names are declared columns, builder panics on unknown ones
func checkColumns(t *config.Table, names []string) error {
	for _, name := range names {
		found := false
		for _, c := range t.ColumnDefs() {
			if c.Name == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("column %q not declared in table %s", name, t.TableName())
		}
	}
	return nil
}

// checkIndexes verifies all column lists match declared indexes, builder panics otherwise
func checkIndexes(t *config.Table, colLists [][]string) error {
	for _, cols := range colLists {
		found := false
		for _, idx := range t.Indexes() {
			if idx.SameColumns(cols) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("index on %v not declared in table %s", cols, t.TableName())
		}
	}
	return nil
}

func setupLog(dbg bool) {
	logOpts := []lgr.Option{lgr.Out(io.Discard), lgr.Err(io.Discard)} // default to discard
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
