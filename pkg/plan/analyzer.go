// Package plan normalizes sql statements, detects literals embedded into WHERE clauses and
// logs sqlite query plan once per distinct statement shape.
package plan

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-pkgz/lgr"
)

// Explainer returns query plan rows for the query, each row as a list of column values
type Explainer interface {
	ExplainQueryPlan(ctx context.Context, query string) ([][]string, error)
}

// Querier runs a query, implemented by *sql.DB, *sql.Tx and *sql.Conn
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLExplainer runs EXPLAIN QUERY PLAN with the given Querier
type SQLExplainer struct {
	Q Querier
}

// ExplainQueryPlan runs "EXPLAIN QUERY PLAN <query>" and returns all result rows.
// Positional placeholders are bound to NULL.
func (e SQLExplainer) ExplainQueryPlan(ctx context.Context, query string) ([][]string, error) {
	args := make([]any, placeholders(query))
	rows, err := e.Q.QueryContext(ctx, "EXPLAIN QUERY PLAN "+query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var res [][]string
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]string, len(vals))
		for i, v := range vals {
			switch vv := v.(type) {
			case nil:
				row[i] = "NULL"
			case []byte:
				row[i] = string(vv)
			default:
				row[i] = fmt.Sprint(vv)
			}
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

// Analyzer checks query plans, once per normalized query
type Analyzer struct {
	cache *Cache
	log   lgr.L
}

// NewAnalyzer makes Analyzer sharing the given cache. Nil logger means lgr.Std.
func NewAnalyzer(cache *Cache, l lgr.L) *Analyzer {
	if l == nil {
		l = lgr.Std
	}
	if cache == nil {
		cache = NewCache()
	}
	return &Analyzer{cache: cache, log: l}
}

// Cache returns the cache used by analyzer
func (a *Analyzer) Cache() *Cache { return a.cache }

// Check normalizes the query and, if this shape wasn't seen before, warns about embedded
// literals and logs the query plan. Returns true if the plan was checked.
// Failures are logged and never returned, the check is diagnostic only.
func (a *Analyzer) Check(ctx context.Context, ex Explainer, query string) bool {
	normalized, embedded := Normalize(query)
	if !a.cache.Claim(normalized) {
		return false
	}

	if embedded {
		a.log.Logf("[WARN] query has embedded params: %s", query)
	}

	rows, err := ex.ExplainQueryPlan(ctx, normalized)
	if err != nil {
		a.log.Logf("[WARN] can't check query plan for %q: %v", query, err)
		return true
	}
	for _, r := range rows {
		a.log.Logf("[DEBUG] query plan: %s, query = %s", strings.Join(r, " "), query)
	}
	return true
}

// CheckStatement checks plan of UPDATE or DELETE statement by analyzing the equivalent SELECT
func (a *Analyzer) CheckStatement(ctx context.Context, ex Explainer, stmt string) bool {
	sel, ok := SelectFromStatement(stmt)
	if !ok {
		a.log.Logf("[WARN] unable to parse <%s> for query plan check", stmt)
		return false
	}
	return a.Check(ctx, ex, sel)
}
