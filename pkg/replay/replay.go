// Package replay runs a list of sql statements through the instrumented store with limited concurrency.
// It is used to warm up the query plan cache and to check how a workload behaves on a database.
package replay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"github.com/hashicorp/go-multierror"

	"github.com/umputun/sqlwrap/pkg/store"
)

// Store defines the subset of store.Wrapper used for replay
type Store interface {
	RawQuery(ctx context.Context, query string, args ...any) (*store.Cursor, error)
	Prepare(ctx context.Context, query string) (*store.Statement, error)
	ExecSQL(ctx context.Context, query string) error
}

// Process replays statements. Each statement runs in its own goroutine, Concurrency limits
// how many run at the same time.
type Process struct {
	Store       Store
	Concurrency int
	Repeat      int   // number of passes over statements, 1 if not set
	Logger      lgr.L // defaults to lgr.Std
}

// Stats holds counts of replayed statements by kind
type Stats struct {
	Queries  int           // SELECT and other row-returning statements
	Inserts  int           // INSERT and REPLACE
	Updates  int           // UPDATE and DELETE
	Execs    int           // everything else, i.e. DDL
	Rows     int64         // rows returned by queries plus rows inserted or affected by updates
	Failed   int           // number of failed statements
	Duration time.Duration // total time
}

func (s Stats) String() string {
	return fmt.Sprintf("queries: %d, inserts: %d, updates: %d, execs: %d, rows: %d, failed: %d, time: %v",
		s.Queries, s.Inserts, s.Updates, s.Execs, s.Rows, s.Failed, s.Duration)
}

// Kind is a kind of statement, defines how the statement is executed
type Kind int

// statement kinds
const (
	KindExec Kind = iota
	KindQuery
	KindInsert
	KindUpdate
)

// KindOf detects statement kind by its first keyword
func KindOf(stmt string) Kind {
	word, _, _ := strings.Cut(strings.TrimSpace(stmt), " ")
	switch strings.ToUpper(strings.TrimRight(word, "\n\t(")) {
	case "SELECT", "WITH", "VALUES", "EXPLAIN", "PRAGMA":
		return KindQuery
	case "INSERT", "REPLACE":
		return KindInsert
	case "UPDATE", "DELETE":
		return KindUpdate
	}
	return KindExec
}

// Run replays all statements Repeat times and returns stats. All failures are collected and
// returned together; a failed statement doesn't stop others.
func (p *Process) Run(ctx context.Context, stmts []string) (Stats, error) {
	log := p.Logger
	if log == nil {
		log = lgr.Std
	}
	repeat := p.Repeat
	if repeat < 1 {
		repeat = 1
	}
	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	log.Logf("[DEBUG] replay %d statements, repeat %d, concurrency %d", len(stmts), repeat, concurrency)

	st := time.Now()
	var queries, inserts, updates, execs, failed int32
	var rows int64
	errs := new(multierror.Error)
	lock := sync.Mutex{}

	wg := syncs.NewErrSizedGroup(concurrency, syncs.Context(ctx), syncs.Preemptive)
	for range repeat {
		for _, stmt := range stmts {
			wg.Go(func() error {
				kind := KindOf(stmt)
				n, err := p.exec(ctx, kind, stmt)
				if err != nil {
					atomic.AddInt32(&failed, 1)
					lock.Lock()
					errs = multierror.Append(errs, fmt.Errorf("statement %q: %w", stmt, err))
					lock.Unlock()
					return nil
				}
				atomic.AddInt64(&rows, n)
				switch kind {
				case KindQuery:
					atomic.AddInt32(&queries, 1)
				case KindInsert:
					atomic.AddInt32(&inserts, 1)
				case KindUpdate:
					atomic.AddInt32(&updates, 1)
				default:
					atomic.AddInt32(&execs, 1)
				}
				return nil
			})
		}
	}
	if err := wg.Wait(); err != nil {
		errs = multierror.Append(errs, err)
	}

	res := Stats{
		Queries:  int(atomic.LoadInt32(&queries)),
		Inserts:  int(atomic.LoadInt32(&inserts)),
		Updates:  int(atomic.LoadInt32(&updates)),
		Execs:    int(atomic.LoadInt32(&execs)),
		Rows:     atomic.LoadInt64(&rows),
		Failed:   int(atomic.LoadInt32(&failed)),
		Duration: time.Since(st),
	}
	log.Logf("[INFO] replay completed, %s", res)
	return res, errs.ErrorOrNil()
}

// exec runs a single statement and returns number of returned or affected rows
func (p *Process) exec(ctx context.Context, kind Kind, stmt string) (int64, error) {
	switch kind {
	case KindQuery:
		cur, err := p.Store.RawQuery(ctx, stmt)
		if err != nil {
			return 0, err
		}
		if cur == nil {
			return 0, fmt.Errorf("no result, storage unavailable")
		}
		defer cur.Close()
		return int64(cur.Count()), nil
	case KindInsert, KindUpdate:
		s, err := p.Store.Prepare(ctx, stmt)
		if err != nil {
			return 0, err
		}
		defer s.Close()
		var n int64
		if kind == KindInsert {
			n, err = s.ExecuteInsert(ctx)
		} else {
			n, err = s.ExecuteUpdateDelete(ctx)
		}
		if err != nil {
			return 0, err
		}
		if kind == KindInsert {
			if n < 0 {
				return 0, nil // ignored on conflict or storage unavailable, reported by the store
			}
			return 1, nil
		}
		if n < 0 {
			return 0, fmt.Errorf("no result, storage unavailable")
		}
		return n, nil
	}
	return 0, p.Store.ExecSQL(ctx, stmt)
}

// Parse reads statements separated by ";" at the end of a line. Empty lines and lines
// starting with "--" are skipped.
func Parse(r io.Reader) ([]string, error) {
	var res []string
	var sb strings.Builder
	flush := func() {
		if s := strings.TrimSpace(sb.String()); s != "" {
			res = append(res, s)
		}
		sb.Reset()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		if strings.HasSuffix(line, ";") {
			sb.WriteString(strings.TrimSuffix(line, ";"))
			flush()
			continue
		}
		sb.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("can't read statements: %w", err)
	}
	flush()
	return res, nil
}
