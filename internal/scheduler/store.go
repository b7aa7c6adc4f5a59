package scheduler

import (
	"context"

	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// LedgerStore is the Universe-side surface the scheduler needs at
// transaction commit time: looking up a UTXO by durable id for
// loading, and writing back the post-transaction live/removed set. The
// scheduler never mutates a LedgerStore mid-transaction — only at the
// commit boundary, after the coordination instance has returned
// successfully.
type LedgerStore interface {
	GetUtxo(ctx context.Context, id types.UtxoID) (*types.Utxo, bool, error)
	PutUtxo(ctx context.Context, u *types.Utxo) error
	RemoveUtxo(ctx context.Context, id types.UtxoID) error
}
