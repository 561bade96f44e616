// Package store is an instrumented access layer over sqlite. Every operation is logged with
// its parameters and timing when debug is on, reads and updates are passed to the query plan
// analyzer, and storage exhaustion errors are turned into sentinel results instead of errors.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/stringutils"
	"github.com/hashicorp/go-multierror"
	_ "modernc.org/sqlite" // register sqlite driver

	"github.com/umputun/sqlwrap/pkg/plan"
	"github.com/umputun/sqlwrap/pkg/schema"
)

const maxArgLen = 64

// Engine runs sql, implemented by *sql.DB, *sql.Conn and *sql.Tx
type Engine interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// txBeginner is an engine able to start transactions, *sql.DB and *sql.Conn
type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Opts defines wrapper options
type Opts struct {
	Logger       lgr.L                      // defaults to lgr.Std
	Debug        bool                       // enables timing, parameter logging and query plan checks
	Cache        *plan.Cache                // shared query plan cache, a new one made if nil
	OnLowStorage func(op string, err error) // called on storage exhaustion, before the sentinel is returned
}

// Wrapper is an instrumented access layer for the sqlite engine. Safe for concurrent use
// as far as the underlying engine is.
type Wrapper struct {
	eng      Engine
	db       *sql.DB // nil if the engine is not a *sql.DB, i.e. inside a transaction
	owned    bool    // db opened by Open and closed by Close
	log      lgr.L
	debug    bool
	analyzer *plan.Analyzer
	opts     Opts
}

// Values maps column names to values for insert and update
type Values map[string]any

// Columns returns sorted column names
func (v Values) Columns() []string {
	res := make([]string, 0, len(v))
	for k := range v {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// String returns values as "col=val" pairs sorted by column
func (v Values) String() string {
	cols := v.Columns()
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, c+"="+formatArg(v[c]))
	}
	return strings.Join(parts, " ")
}

// QueryParams defines structured select
type QueryParams struct {
	Table   string
	Columns []string // all columns if empty
	Where   string
	Args    []any
	GroupBy string
	Having  string
	OrderBy string
	Limit   int // no limit if 0
}

// SQL builds select statement
func (p QueryParams) SQL() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(p.Columns) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(p.Columns, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(p.Table)
	if p.Where != "" {
		sb.WriteString(" WHERE " + p.Where)
	}
	if p.GroupBy != "" {
		sb.WriteString(" GROUP BY " + p.GroupBy)
	}
	if p.Having != "" {
		sb.WriteString(" HAVING " + p.Having)
	}
	if p.OrderBy != "" {
		sb.WriteString(" ORDER BY " + p.OrderBy)
	}
	if p.Limit > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(p.Limit))
	}
	return sb.String()
}

func (p QueryParams) String() string {
	return fmt.Sprintf("table = %s, cols = %v, where = <%s>, args = %s, groupBy = %s, having = %s, sort = %s",
		p.Table, p.Columns, p.Where, formatArgs(p.Args), p.GroupBy, p.Having, p.OrderBy)
}

// New makes Wrapper for the engine, usually *sql.DB with sqlite driver
func New(eng Engine, opts Opts) *Wrapper {
	if opts.Logger == nil {
		opts.Logger = lgr.Std
	}
	res := &Wrapper{eng: eng, log: opts.Logger, debug: opts.Debug, opts: opts}
	if db, ok := eng.(*sql.DB); ok {
		res.db = db
	}
	res.analyzer = plan.NewAnalyzer(opts.Cache, opts.Logger)
	return res
}

// Open opens sqlite database with the given dsn (file name or "file:..." uri) and makes Wrapper for it.
// Single connection is used, so per-connection functions like changes() see the results of the last call.
func Open(ctx context.Context, dsn string, opts Opts) (*Wrapper, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("can't open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("can't connect to %s: %w", dsn, err)
	}
	res := New(db, opts)
	res.owned = true
	return res, nil
}

// Close closes the database if it was opened by Open
func (w *Wrapper) Close() error {
	if !w.owned || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Cache returns query plan cache used by the wrapper
func (w *Wrapper) Cache() *plan.Cache { return w.analyzer.Cache() }

// Query runs structured select and returns materialized cursor.
// Returns nil cursor and nil error on storage exhaustion.
func (w *Wrapper) Query(ctx context.Context, p QueryParams) (*Cursor, error) {
	var params string
	if w.debug {
		params = p.String()
	}
	return w.query(ctx, "query", p.SQL(), p.Args, params)
}

// RawQuery runs sql query and returns materialized cursor.
// Returns nil cursor and nil error on storage exhaustion.
func (w *Wrapper) RawQuery(ctx context.Context, query string, args ...any) (*Cursor, error) {
	var params string
	if w.debug {
		params = fmt.Sprintf("query = %s, args = %s", query, formatArgs(args))
	}
	return w.query(ctx, "raw query", query, args, params)
}

func (w *Wrapper) query(ctx context.Context, op, query string, args []any, params string) (*Cursor, error) {
	var start time.Time
	if w.debug {
		w.log.Logf("[DEBUG] %s: %s", op, params)
		start = time.Now()
	}

	rows, err := w.eng.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, w.failed(op, query, err)
	}
	var queryTime time.Duration
	if w.debug {
		queryTime = time.Since(start)
	}
	cur, err := newCursor(rows)
	if err != nil {
		return nil, w.failed(op, query, err)
	}

	if w.debug {
		fillTime := time.Since(start) - queryTime
		w.log.Logf("[DEBUG] %s: query time = %dms, fill time = %dms, %s, returning %d",
			op, queryTime.Milliseconds(), fillTime.Milliseconds(), params, cur.Count())
		w.analyzer.Check(ctx, w.explainer(), query)
	}
	return cur, nil
}

// Insert inserts row to the table and returns its rowid.
// Returns -1 and nil error on storage exhaustion.
func (w *Wrapper) Insert(ctx context.Context, table string, vals Values) (int64, error) {
	return w.InsertWithOnConflict(ctx, table, vals, schema.ConflictNone)
}

// InsertWithOnConflict inserts row with INSERT OR <conflict> and returns its rowid.
// Returns -1 if the row was ignored on conflict, and -1 with nil error on storage exhaustion.
func (w *Wrapper) InsertWithOnConflict(ctx context.Context, table string, vals Values, conflict schema.Conflict) (int64, error) {
	var start time.Time
	if w.debug {
		w.log.Logf("[DEBUG] insert: table = %s, values = %s, conflict = %s", table, vals, conflict)
		start = time.Now()
	}

	id, err := insert(ctx, w.eng, table, vals, conflict)
	if err != nil {
		if err = w.failed("insert", table, err); err != nil {
			return 0, err
		}
		return -1, nil
	}

	if w.debug {
		w.log.Logf("[DEBUG] insert: time = %dms, table = %s, values = %s, returning %d",
			time.Since(start).Milliseconds(), table, vals, id)
	}
	return id, nil
}

// Update updates rows matching where clause and returns number of affected rows.
// Returns -1 and nil error on storage exhaustion.
func (w *Wrapper) Update(ctx context.Context, table string, vals Values, where string, args ...any) (int64, error) {
	var start time.Time
	if w.debug {
		w.log.Logf("[DEBUG] update: table = %s, where = <%s>, args = %s, values = %s", table, where, formatArgs(args), vals)
		start = time.Now()
	}

	rows, err := update(ctx, w.eng, table, vals, where, args)
	if err != nil {
		if err = w.failed("update", table, err); err != nil {
			return 0, err
		}
		return -1, nil
	}

	if w.debug {
		w.log.Logf("[DEBUG] update: time = %dms, table = %s, where = <%s>, args = %s, values = %s, returning %d",
			time.Since(start).Milliseconds(), table, where, formatArgs(args), vals, rows)
		w.analyzer.Check(ctx, w.explainer(), plan.SelectFor(table, where))
	}
	return rows, nil
}

// Delete deletes rows matching where clause, all rows if where is empty, and returns number of deleted rows.
// Returns -1 and nil error on storage exhaustion.
func (w *Wrapper) Delete(ctx context.Context, table, where string, args ...any) (int64, error) {
	var start time.Time
	if w.debug {
		w.log.Logf("[DEBUG] delete: table = %s, where = <%s>, args = %s", table, where, formatArgs(args))
		start = time.Now()
	}

	rows, err := remove(ctx, w.eng, table, where, args)
	if err != nil {
		if err = w.failed("delete", table, err); err != nil {
			return 0, err
		}
		return -1, nil
	}

	if w.debug {
		w.log.Logf("[DEBUG] delete: time = %dms, table = %s, where = <%s>, args = %s, returning %d",
			time.Since(start).Milliseconds(), table, where, formatArgs(args), rows)
		w.analyzer.Check(ctx, w.explainer(), plan.SelectFor(table, where))
	}
	return rows, nil
}

// ExecSQL executes a single sql statement returning no rows, e.g. DDL.
// All errors are returned, storage exhaustion included.
func (w *Wrapper) ExecSQL(ctx context.Context, query string) error {
	var start time.Time
	if w.debug {
		w.log.Logf("[DEBUG] exec sql: sql = %s", query)
		start = time.Now()
	}

	if _, err := w.eng.ExecContext(ctx, query); err != nil {
		w.log.Logf("[WARN] exec sql failed, sql = %s: %v", query, err)
		return err
	}

	if w.debug {
		w.log.Logf("[DEBUG] exec sql: time = %dms, sql = %s", time.Since(start).Milliseconds(), query)
	}
	return nil
}

// Transact runs fn with wrapper bound to a new transaction. The transaction is committed if fn
// returns nil and rolled back otherwise. If the engine can't begin transactions, i.e. the wrapper is
// already inside one, fn is called with the wrapper itself and the outer transaction owns the rollback.
func (w *Wrapper) Transact(ctx context.Context, fn func(tx *Wrapper) error) (err error) {
	b, ok := w.eng.(txBeginner)
	if !ok {
		return fn(w)
	}

	tx, err := b.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("can't begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	txw := &Wrapper{eng: tx, log: w.log, debug: w.debug, analyzer: w.analyzer, opts: w.opts}
	if err = fn(txw); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return multierror.Append(err, fmt.Errorf("can't rollback: %w", rerr))
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("can't commit transaction: %w", err)
	}
	return nil
}

// Analyze runs ANALYZE to refresh query planner statistics
func (w *Wrapper) Analyze(ctx context.Context) error {
	return w.ExecSQL(ctx, "ANALYZE")
}

// failed logs the error and returns nil if it is a storage exhaustion error, otherwise err unchanged
func (w *Wrapper) failed(op, subject string, err error) error {
	if IsLowStorage(err) {
		w.log.Logf("[ERROR] %s on %s, low storage: %v", op, subject, err)
		if w.opts.OnLowStorage != nil {
			w.opts.OnLowStorage(op, err)
		}
		return nil
	}
	w.log.Logf("[WARN] %s failed on %s: %v", op, subject, err)
	return err
}

func (w *Wrapper) explainer() plan.Explainer {
	return plan.SQLExplainer{Q: w.eng}
}

func insert(ctx context.Context, eng Engine, table string, vals Values, conflict schema.Conflict) (int64, error) {
	var sb strings.Builder
	sb.WriteString("INSERT")
	if conflict != schema.ConflictNone {
		sb.WriteString(" OR " + string(conflict))
	}
	sb.WriteString(" INTO " + table)

	cols := vals.Columns()
	args := make([]any, 0, len(cols))
	if len(cols) == 0 {
		sb.WriteString(" DEFAULT VALUES")
	} else {
		sb.WriteString(" (" + strings.Join(cols, ", ") + ") VALUES (")
		for i, c := range cols {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, vals[c])
		}
		sb.WriteString(")")
	}

	res, err := eng.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	return insertedID(res)
}

// insertedID returns rowid of the inserted row, or -1 if nothing was inserted, i.e. ignored on conflict.
// last_insert_rowid() is left unchanged in this case and refers to some earlier row.
func insertedID(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return -1, nil
	}
	return res.LastInsertId()
}

func update(ctx context.Context, eng Engine, table string, vals Values, where string, whereArgs []any) (int64, error) {
	cols := vals.Columns()
	if len(cols) == 0 {
		return 0, fmt.Errorf("no values to update in %s", table)
	}
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+len(whereArgs))
	for _, c := range cols {
		sets = append(sets, c+" = ?")
		args = append(args, vals[c])
	}
	query := "UPDATE " + table + " SET " + strings.Join(sets, ", ")
	if where != "" {
		query += " WHERE " + where
	}
	args = append(args, whereArgs...)

	res, err := eng.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func remove(ctx context.Context, eng Engine, table, where string, args []any) (int64, error) {
	query := "DELETE FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	res, err := eng.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// formatArgs makes printable list of args, each value truncated
func formatArgs(args []any) string {
	if args == nil {
		return "null"
	}
	strs := make([]string, len(args))
	for i, a := range args {
		strs[i] = formatArg(a)
	}
	return "[" + strings.Join(strs, ", ") + "]"
}

func formatArg(v any) string {
	if v == nil {
		return "null"
	}
	return stringutils.Truncate(stringutils.SliceToString([]any{v})[0], maxArgLen)
}
