package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/umputun/sqlwrap/pkg/plan"
	"github.com/umputun/sqlwrap/pkg/schema"
)

// OpKind is a kind of batch operation
type OpKind int

// enum of batch operation kinds
const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// BatchOp is a single write operation of ApplyBatch
type BatchOp struct {
	Kind     OpKind
	Table    string
	Values   Values
	Where    string
	Args     []any
	Conflict schema.Conflict // insert only
}

// NewInsertOp makes insert operation
func NewInsertOp(table string, vals Values) BatchOp {
	return BatchOp{Kind: OpInsert, Table: table, Values: vals}
}

// NewUpdateOp makes update operation
func NewUpdateOp(table string, vals Values, where string, args ...any) BatchOp {
	return BatchOp{Kind: OpUpdate, Table: table, Values: vals, Where: where, Args: args}
}

// NewDeleteOp makes delete operation
func NewDeleteOp(table, where string, args ...any) BatchOp {
	return BatchOp{Kind: OpDelete, Table: table, Where: where, Args: args}
}

func (o BatchOp) String() string {
	switch o.Kind {
	case OpInsert:
		return fmt.Sprintf("insert %s {%s}", o.Table, o.Values)
	case OpUpdate:
		return fmt.Sprintf("update %s {%s} where <%s> %s", o.Table, o.Values, o.Where, formatArgs(o.Args))
	default:
		return fmt.Sprintf("%s %s where <%s> %s", o.Kind, o.Table, o.Where, formatArgs(o.Args))
	}
}

// BatchResult is a result of a single batch operation
type BatchResult struct {
	ID    int64 // rowid of inserted row or -1 if ignored, insert only
	Count int64 // number of affected rows
}

// ApplyBatch runs all operations in a single transaction and returns results in the same order.
// Any failed operation rolls back the whole batch. Called on a wrapper made by Transact, the batch
// joins that transaction. Returns nil results and nil error on storage exhaustion.
func (w *Wrapper) ApplyBatch(ctx context.Context, ops ...BatchOp) ([]BatchResult, error) {
	batchID := uuid.NewString()
	var start time.Time
	var opsStr string
	if w.debug {
		opsStr = formatOps(ops)
		w.log.Logf("[DEBUG] apply batch %s: ops = %s", batchID, opsStr)
		start = time.Now()
	}

	res := make([]BatchResult, 0, len(ops))
	err := w.Transact(ctx, func(tx *Wrapper) error {
		for i, op := range ops {
			r, err := applyOp(ctx, tx.eng, op)
			if err != nil {
				return fmt.Errorf("op %d (%s): %w", i, op.Kind, err)
			}
			res = append(res, r)
		}
		return nil
	})
	if err != nil {
		return nil, w.failed("apply batch", batchID, err)
	}

	if w.debug {
		w.log.Logf("[DEBUG] apply batch %s: time = %dms, ops = %s, returning %d",
			batchID, time.Since(start).Milliseconds(), opsStr, len(res))
		for _, op := range ops {
			if op.Kind != OpInsert {
				w.analyzer.Check(ctx, w.explainer(), plan.SelectFor(op.Table, op.Where))
			}
		}
	}
	return res, nil
}

func applyOp(ctx context.Context, eng Engine, op BatchOp) (BatchResult, error) {
	switch op.Kind {
	case OpInsert:
		id, err := insert(ctx, eng, op.Table, op.Values, op.Conflict)
		if err != nil {
			return BatchResult{}, err
		}
		if id < 0 {
			return BatchResult{ID: -1}, nil // ignored on conflict
		}
		return BatchResult{ID: id, Count: 1}, nil
	case OpUpdate:
		n, err := update(ctx, eng, op.Table, op.Values, op.Where, op.Args)
		return BatchResult{Count: n}, err
	case OpDelete:
		n, err := remove(ctx, eng, op.Table, op.Where, op.Args)
		return BatchResult{Count: n}, err
	}
	return BatchResult{}, fmt.Errorf("unknown operation %s", op.Kind)
}

func formatOps(ops []BatchOp) string {
	strs := make([]string, len(ops))
	for i, op := range ops {
		strs[i] = op.String()
	}
	return "[" + strings.Join(strs, "; ") + "]"
}
