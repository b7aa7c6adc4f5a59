package scheduler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

func newTestTokenTx() *transaction {
	return &transaction{
		tokenSets: make(map[types.UtxoID]map[types.Handle]types.Token),
		tokenRNG:  rand.New(rand.NewSource(2)),
	}
}

func TestAllocateTokenHandle_ScopedPerUtxo(t *testing.T) {
	tx := newTestTokenTx()
	a := types.NewUtxoID()
	b := types.NewUtxoID()
	tok := types.Token{ID: 1, Amount: 10}

	ha := tx.allocateTokenHandle(a, tok)
	hb := tx.allocateTokenHandle(b, tok)

	_, ok := tx.resolveTokenHandle(a, hb)
	assert.False(t, ok, "a handle minted under UTXO b must not resolve under UTXO a's table")

	got, ok := tx.resolveTokenHandle(a, ha)
	assert.True(t, ok)
	assert.Equal(t, tok, got)
}

func TestRemoveTokenHandle(t *testing.T) {
	tx := newTestTokenTx()
	id := types.NewUtxoID()
	tok := types.Token{ID: 7, Amount: 1}
	h := tx.allocateTokenHandle(id, tok)

	tx.removeTokenHandle(id, h)

	_, ok := tx.resolveTokenHandle(id, h)
	assert.False(t, ok)
}

func TestFlattenTokens(t *testing.T) {
	tx := newTestTokenTx()
	id := types.NewUtxoID()
	t1 := types.Token{ID: 1, Amount: 1}
	t2 := types.Token{ID: 2, Amount: 2}
	tx.allocateTokenHandle(id, t1)
	tx.allocateTokenHandle(id, t2)

	flat := tx.flattenTokens(id)
	assert.ElementsMatch(t, []types.Token{t1, t2}, flat)
}

func TestFlattenTokens_EmptyReturnsNil(t *testing.T) {
	tx := newTestTokenTx()
	assert.Nil(t, tx.flattenTokens(types.NewUtxoID()))
}

func TestSeedTokenHandles(t *testing.T) {
	tx := newTestTokenTx()
	id := types.NewUtxoID()
	u := &types.Utxo{ID: id, Tokens: []types.Token{{ID: 1, Amount: 5}}}

	tx.seedTokenHandles(id, u)

	assert.Len(t, tx.flattenTokens(id), 1)
}
