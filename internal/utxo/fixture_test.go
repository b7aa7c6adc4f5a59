package utxo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn-labs/ledgerhost/internal/contractcode"
	"github.com/weisyn-labs/ledgerhost/internal/obslog"
	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/internal/wasmtest"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// These tests drive UtxoInstance against hand-assembled WASM fixtures
// (internal/wasmtest) that export the real asyncify_* family and a real
// starstream_yield import, rather than the bare struct literals
// newGuardTestInstance builds for the lifecycle-guard tests in
// instance_test.go. They
// exercise the suspend/resume state machine itself (Start/Resume/
// settleAfterCall/yieldHostFunc) end to end through actual wazero calls.

func newFixtureRegistry(t *testing.T) *contractcode.Registry {
	t.Helper()
	reg, err := contractcode.NewRegistry(contractcode.DefaultConfig(), nil, nil, obslog.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg
}

func loadFixture(t *testing.T, reg *contractcode.Registry, wasmBytes []byte) *contractcode.ContractCode {
	t.Helper()
	cc, err := reg.Load(context.Background(), wasmBytes)
	require.NoError(t, err)
	return cc
}

func newFixtureUtxoInstance(t *testing.T, reg *contractcode.Registry, cc *contractcode.ContractCode, entryPoint, name string) (*UtxoInstance, *types.Utxo) {
	t.Helper()
	u := &types.Utxo{ID: types.NewUtxoID(), ProgramID: cc.ID, EntryPoint: entryPoint, State: types.StateNotStarted}
	ui, err := New(context.Background(), reg.Runtime(), cc, u, nil, name, DefaultConfig(), obslog.NewNop())
	require.NoError(t, err)
	return ui, u
}

// TestStartResume_AsyncifyParity: the bytes Resume writes into
// the resume-argument view are exactly the bytes the module observes
// there, and the yield's outbound data view is readable before resume.
func TestStartResume_AsyncifyParity(t *testing.T) {
	reg := newFixtureRegistry(t)
	cc := loadFixture(t, reg, wasmtest.BuildYieldingUtxoModule())
	ui, u := newFixtureUtxoInstance(t, reg, cc, wasmtest.YieldOnceEntry, "thing-parity")
	defer ui.Close(context.Background())

	out, err := ui.Start(context.Background(), u.EntryPoint, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateYielded, u.State)
	assert.Equal(t, wasmtest.YieldDataMarker[:], out, "the yield's outbound data view must carry the marker the module wrote before suspending")

	resumePayload := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	_, err = ui.Resume(context.Background(), resumePayload)
	require.NoError(t, err)
	assert.Equal(t, types.StateReturned, u.State, "the fixture yields exactly once, so resuming it runs to completion")

	got, ok := ui.inst.Memory().Read(56, 4) // yieldResumePtr, yieldResumeLen from wasmtest
	require.True(t, ok)
	assert.Equal(t, resumePayload, got, "the resume payload must land at the exact memory view the yield exposed")
}

// TestResume_SizeMismatch_RealYield works against a real yielded
// instance rather than the bare-struct guard test in instance_test.go: Resume with
// the wrong length fails SizeMismatch and leaves the UTXO's state and
// captured suspension untouched.
func TestResume_SizeMismatch_RealYield(t *testing.T) {
	reg := newFixtureRegistry(t)
	cc := loadFixture(t, reg, wasmtest.BuildYieldingUtxoModule())
	ui, u := newFixtureUtxoInstance(t, reg, cc, wasmtest.YieldOnceEntry, "thing-sizemismatch")
	defer ui.Close(context.Background())

	_, err := ui.Start(context.Background(), u.EntryPoint, nil)
	require.NoError(t, err)

	_, err = ui.Resume(context.Background(), []byte{0x01, 0x02, 0x03})
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.SizeMismatch, werr.Kind)
	assert.Equal(t, types.StateYielded, u.State, "a rejected resume must not disturb the UTXO's lifecycle state")
	require.NotNil(t, ui.yielded, "a rejected resume must not discard the captured suspension")
}

// TestStart_NoYield_ReturnsImmediately: an entry point that
// runs to completion without ever calling starstream_yield leaves the
// UTXO StateReturned after its very first call, and a subsequent Resume
// fails BadState.
func TestStart_NoYield_ReturnsImmediately(t *testing.T) {
	reg := newFixtureRegistry(t)
	cc := loadFixture(t, reg, wasmtest.BuildDeadUtxoModule())
	ui, u := newFixtureUtxoInstance(t, reg, cc, wasmtest.DeadEntry, "dead-utxo")
	defer ui.Close(context.Background())

	_, err := ui.Start(context.Background(), u.EntryPoint, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StateReturned, u.State)

	_, err = ui.Resume(context.Background(), nil)
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.BadState, werr.Kind)
}

// TestQuery_NotQuiescent_RealYield: a query export that
// disturbs the asyncify state itself (without going through
// starstream_yield) is rejected once the host observes the state is no
// longer NORMAL after the call returns.
func TestQuery_NotQuiescent_RealYield(t *testing.T) {
	reg := newFixtureRegistry(t)
	cc := loadFixture(t, reg, wasmtest.BuildYieldingUtxoModule())
	ui, u := newFixtureUtxoInstance(t, reg, cc, wasmtest.YieldOnceEntry, "thing-notquiescent")
	defer ui.Close(context.Background())

	_, err := ui.Start(context.Background(), u.EntryPoint, nil)
	require.NoError(t, err)

	_, err = ui.Query(context.Background(), wasmtest.QueryBadEntry, nil)
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.NotQuiescent, werr.Kind)
}

// TestUnloadLoad_RoundTrip: archiving a yielded instance's
// memory and restoring it into a fresh instantiation of the same
// ContractCode reproduces the exact same bytes.
func TestUnloadLoad_RoundTrip(t *testing.T) {
	reg := newFixtureRegistry(t)
	cc := loadFixture(t, reg, wasmtest.BuildYieldingUtxoModule())
	ui, u := newFixtureUtxoInstance(t, reg, cc, wasmtest.YieldOnceEntry, "thing-unload")

	_, err := ui.Start(context.Background(), u.EntryPoint, nil)
	require.NoError(t, err)

	before, ok := ui.inst.Memory().Read(0, ui.inst.Memory().Size())
	require.True(t, ok)
	snapshot := append([]byte(nil), before...)

	require.NoError(t, ui.Unload(context.Background()))
	require.NotNil(t, u.ArchivedMemory)
	assert.Equal(t, snapshot, u.ArchivedMemory)

	reloaded, err := New(context.Background(), reg.Runtime(), cc, u, nil, "thing-reloaded", DefaultConfig(), obslog.NewNop())
	require.NoError(t, err)
	defer reloaded.Close(context.Background())

	after, ok := reloaded.inst.Memory().Read(0, reloaded.inst.Memory().Size())
	require.True(t, ok)
	assert.Equal(t, snapshot, after, "restored memory must match the archived snapshot bit-exactly")
	assert.Equal(t, types.StateYielded, u.State, "unload/reload must not change lifecycle state, only where the bytes live")
	assert.Nil(t, u.ArchivedMemory, "a loaded UTXO must not also hold an archived copy")

	_, err = reloaded.Resume(context.Background(), []byte{1, 2, 3, 4})
	require.NoError(t, err, "a reloaded UTXO must be resumable from its restored suspension")
	assert.Equal(t, types.StateReturned, u.State)
}
