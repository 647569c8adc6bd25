package domain

import "context"

// TransactionManager runs fn in one database transaction. Repositories called
// with the ctx passed to fn join that transaction. Nested calls reuse the outer one.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
