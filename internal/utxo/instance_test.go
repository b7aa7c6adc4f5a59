package utxo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uint32(16), cfg.StackStart)
	assert.Equal(t, uint32(1024), cfg.StackEnd)
	assert.Greater(t, cfg.ArgsOffset, cfg.StackEnd)
}

func newGuardTestInstance(state types.UtxoState) *UtxoInstance {
	return &UtxoInstance{
		Utxo: &types.Utxo{State: state},
		cfg:  DefaultConfig(),
	}
}

func TestStart_RejectsWrongState(t *testing.T) {
	ui := newGuardTestInstance(types.StateYielded)
	_, err := ui.Start(context.Background(), "starstream_new_Thing", nil)
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.BadState, werr.Kind)
}

func TestResume_RejectsWrongState(t *testing.T) {
	ui := newGuardTestInstance(types.StateNotStarted)
	_, err := ui.Resume(context.Background(), []byte("x"))
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.BadState, werr.Kind)
}

func TestQuery_RejectsWrongState(t *testing.T) {
	ui := newGuardTestInstance(types.StateReturned)
	_, err := ui.Query(context.Background(), "starstream_query_balance", nil)
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.BadState, werr.Kind)
}

func TestMutate_RejectsWrongState(t *testing.T) {
	ui := newGuardTestInstance(types.StateConsumed)
	_, err := ui.Mutate(context.Background(), "starstream_mutate_set", nil)
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.BadState, werr.Kind)
}

func TestConsume_RejectsWrongState(t *testing.T) {
	ui := newGuardTestInstance(types.StateNotStarted)
	_, _, err := ui.Consume(context.Background(), "starstream_consume_main", nil)
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.BadState, werr.Kind)
}

func TestResume_RejectsSizeMismatch(t *testing.T) {
	ui := newGuardTestInstance(types.StateYielded)
	ui.yielded = &YieldedCall{ResumePtr: 100, ResumeLen: 4}

	_, err := ui.Resume(context.Background(), []byte("too long"))
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.SizeMismatch, werr.Kind)
}
