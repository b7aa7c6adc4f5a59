// Package scheduler implements the transaction scheduler: it
// drives a coordination instance to completion, routes every UTXO/token
// import to the right activation through the handle table, enforces
// token-intermediate linearity, and owns the commit/rollback boundary.
package scheduler

import (
	"math/rand"

	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// handleSpaceMax is the default upper bound of the handle space
// ([1, 2^30]).
const handleSpaceMax = 1 << 30

// handleTable is the per-transaction mapping from ephemeral Handle to
// durable UtxoID: private to one coordination instance, discarded
// with it.
type handleTable struct {
	rng *rand.Rand
	max int

	byHandle map[types.Handle]types.UtxoID
	byUtxoID map[types.UtxoID]types.Handle
}

func newHandleTable(rng *rand.Rand, max uint32) *handleTable {
	bound := int(max)
	if bound == 0 {
		bound = handleSpaceMax
	}
	return &handleTable{
		rng:      rng,
		max:      bound,
		byHandle: make(map[types.Handle]types.UtxoID),
		byUtxoID: make(map[types.UtxoID]types.Handle),
	}
}

// allocate returns the existing handle for id if one was already minted
// this transaction (dedup), or mints and installs a fresh one.
func (ht *handleTable) allocate(id types.UtxoID) types.Handle {
	if h, ok := ht.byUtxoID[id]; ok {
		return h
	}
	var h types.Handle
	for {
		h = types.Handle(ht.rng.Intn(ht.max) + 1)
		if _, taken := ht.byHandle[h]; !taken {
			break
		}
	}
	ht.byHandle[h] = id
	ht.byUtxoID[id] = h
	return h
}

// resolve looks up the UtxoID a handle names; a miss covers both a
// never-minted handle and one minted by a foreign transaction.
func (ht *handleTable) resolve(h types.Handle) (types.UtxoID, bool) {
	id, ok := ht.byHandle[h]
	return id, ok
}

// live lists every UtxoID currently installed, for the commit pass.
func (ht *handleTable) live() []types.UtxoID {
	ids := make([]types.UtxoID, 0, len(ht.byHandle))
	for _, id := range ht.byHandle {
		ids = append(ids, id)
	}
	return ids
}
