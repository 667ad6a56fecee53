package repository

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX Tx

// TransactionManager runs fn inside a database transaction and hands the
// transaction handle to fn as tx. Repositories accept that handle (or nil for
// the non-transactional path) and lock rows with SELECT ... FOR UPDATE when
// they see a real transaction.
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
//		ok, err := purchases.MarkPaidIfPending(ctx, tx, id, s)
//		...
//		return err
//	})
//
// If fn returns an error the transaction is rolled back.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}

type commitHooksKey struct{}

type commitHooks struct {
	mu  sync.Mutex
	fns []func(ctx context.Context)
}

// WithCommitHooks returns a context that collects AfterCommit callbacks and a
// func that runs them. Transaction managers call run only after a successful commit.
func WithCommitHooks(ctx context.Context) (hooked context.Context, run func(ctx context.Context)) {
	h := &commitHooks{}
	run = func(ctx context.Context) {
		h.mu.Lock()
		fns := h.fns
		h.fns = nil
		h.mu.Unlock()
		for _, fn := range fns {
			fn(ctx)
		}
	}
	return context.WithValue(ctx, commitHooksKey{}, h), run
}

// AfterCommit defers fn until the transaction carried by ctx commits. With no
// transaction in ctx, fn runs immediately. Rolled back transactions drop fn.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	h, ok := ctx.Value(commitHooksKey{}).(*commitHooks)
	if !ok {
		fn(ctx)
		return
	}
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}
