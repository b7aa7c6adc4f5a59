package scheduler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

func newTestHandleTable() *handleTable {
	return newHandleTable(rand.New(rand.NewSource(1)), 0)
}

func TestHandleTable_AllocateDedups(t *testing.T) {
	ht := newTestHandleTable()
	id := types.NewUtxoID()

	h1 := ht.allocate(id)
	h2 := ht.allocate(id)
	assert.Equal(t, h1, h2, "allocating the same UTXO twice must return the same handle")
}

func TestHandleTable_AllocateDistinctPerUtxo(t *testing.T) {
	ht := newTestHandleTable()
	a := ht.allocate(types.NewUtxoID())
	b := ht.allocate(types.NewUtxoID())
	assert.NotEqual(t, a, b)
}

func TestHandleTable_Resolve(t *testing.T) {
	ht := newTestHandleTable()
	id := types.NewUtxoID()
	h := ht.allocate(id)

	got, ok := ht.resolve(h)
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

// TestHandleTable_ForeignHandleUnknown: a handle minted by one
// transaction's table is meaningless in another's.
func TestHandleTable_ForeignHandleUnknown(t *testing.T) {
	producer := newTestHandleTable()
	h := producer.allocate(types.NewUtxoID())

	consumer := newTestHandleTable()
	_, ok := consumer.resolve(h)
	assert.False(t, ok)
}

func TestHandleTable_Live(t *testing.T) {
	ht := newTestHandleTable()
	a := types.NewUtxoID()
	b := types.NewUtxoID()
	ht.allocate(a)
	ht.allocate(b)

	live := ht.live()
	assert.Len(t, live, 2)
	assert.Contains(t, live, a)
	assert.Contains(t, live, b)
}
