package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Statement is a prepared statement keeping its bound args, so they can be logged
type Statement struct {
	w    *Wrapper
	sql  string
	stmt *sql.Stmt
	args []any
}

// Prepare makes a reusable statement. Errors, storage exhaustion included, are returned.
func (w *Wrapper) Prepare(ctx context.Context, query string) (*Statement, error) {
	stmt, err := w.eng.PrepareContext(ctx, query)
	if err != nil {
		w.log.Logf("[WARN] prepare failed, sql = %s: %v", query, err)
		return nil, err
	}
	return &Statement{w: w, sql: query, stmt: stmt}, nil
}

// SQL returns statement text
func (s *Statement) SQL() string { return s.sql }

// Bind sets value of the parameter with the given 1-based index
func (s *Statement) Bind(idx int, v any) {
	if idx < 1 {
		panic(fmt.Sprintf("store: bind index %d, parameters are numbered from 1", idx))
	}
	for len(s.args) < idx {
		s.args = append(s.args, nil)
	}
	s.args[idx-1] = v
}

// BindAll replaces all bound values
func (s *Statement) BindAll(args ...any) {
	s.args = append(s.args[:0], args...)
}

// ClearBindings removes all bound values
func (s *Statement) ClearBindings() {
	s.args = nil
}

// Args returns bound values
func (s *Statement) Args() []any { return s.args }

func (s *Statement) String() string {
	return fmt.Sprintf("%s, args = %s", s.sql, formatArgs(s.args))
}

// ExecuteInsert runs the statement and returns rowid of the inserted row.
// Returns -1 if no row was inserted, and -1 with nil error on storage exhaustion.
func (s *Statement) ExecuteInsert(ctx context.Context) (int64, error) {
	var start time.Time
	var debug string
	if s.w.debug {
		debug = s.String()
		s.w.log.Logf("[DEBUG] execute insert: %s", debug)
		start = time.Now()
	}

	res, err := s.stmt.ExecContext(ctx, s.args...)
	var id int64
	if err == nil {
		id, err = insertedID(res)
	}
	if err != nil {
		if err = s.w.failed("execute insert", s.sql, err); err != nil {
			return 0, err
		}
		return -1, nil
	}

	if s.w.debug {
		s.w.log.Logf("[DEBUG] execute insert: time = %dms, stmt = %s, returning %d", time.Since(start).Milliseconds(), debug, id)
	}
	return id, nil
}

// ExecuteUpdateDelete runs UPDATE or DELETE statement and returns number of affected rows.
// Returns -1 and nil error on storage exhaustion.
func (s *Statement) ExecuteUpdateDelete(ctx context.Context) (int64, error) {
	var start time.Time
	var debug string
	if s.w.debug {
		debug = s.String()
		s.w.log.Logf("[DEBUG] execute update/delete: %s", debug)
		start = time.Now()
	}

	res, err := s.stmt.ExecContext(ctx, s.args...)
	var rows int64
	if err == nil {
		rows, err = res.RowsAffected()
	}
	if err != nil {
		if err = s.w.failed("execute update/delete", s.sql, err); err != nil {
			return 0, err
		}
		return -1, nil
	}

	if s.w.debug {
		s.w.log.Logf("[DEBUG] execute update/delete: time = %dms, stmt = %s, returning %d",
			time.Since(start).Milliseconds(), debug, rows)
		s.w.analyzer.CheckStatement(ctx, s.w.explainer(), s.sql)
	}
	return rows, nil
}

// Close releases the prepared statement
func (s *Statement) Close() error {
	return s.stmt.Close()
}
