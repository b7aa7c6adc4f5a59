package scheduler

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn-labs/ledgerhost/internal/contractcode"
	"github.com/weisyn-labs/ledgerhost/internal/obslog"
	"github.com/weisyn-labs/ledgerhost/internal/universe"
	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/internal/wasmtest"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// fixtureWorld loads the three hand-assembled wasmtest modules (a
// yielding UTXO, a dead-on-creation UTXO, and a coordination module that
// imports both) into one Registry and returns the coordination program's
// id, ready to drive with RunTransaction.
type fixtureWorld struct {
	registry *contractcode.Registry
	coordID  types.ProgramID
}

func newFixtureWorld(t *testing.T) *fixtureWorld {
	t.Helper()
	reg, err := contractcode.NewRegistry(contractcode.DefaultConfig(), nil, nil, obslog.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	thingCC, err := reg.Load(context.Background(), wasmtest.BuildYieldingUtxoModule())
	require.NoError(t, err)
	deadCC, err := reg.Load(context.Background(), wasmtest.BuildDeadUtxoModule())
	require.NoError(t, err)

	coordCC, err := reg.Load(context.Background(), wasmtest.BuildCoordinationModule(thingCC.ID, deadCC.ID))
	require.NoError(t, err)

	return &fixtureWorld{registry: reg, coordID: coordCC.ID}
}

// TestRunTransaction_CreateOnly: a coordination entry point that creates
// a UTXO and returns its handle without resuming it leaves that UTXO
// alive and committed to the store, with New and Yield both present in
// the observable log.
func TestRunTransaction_CreateOnly(t *testing.T) {
	world := newFixtureWorld(t)
	store := universe.NewMemStore()

	res, log, err := RunTransaction(context.Background(), world.registry, store, DefaultConfig(), obslog.NewNop(), world.coordID, wasmtest.CreateEntry, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Utxo)
	assert.Equal(t, types.StateYielded, res.Utxo.State)
	assert.NotEqual(t, uuid.Nil, res.TxID)

	ids, err := store.LiveUtxoIDs(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 1)
	stored, ok, err := store.GetUtxo(context.Background(), ids[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.StateYielded, stored.State)

	var tags []types.LogTag
	for _, e := range log {
		tags = append(tags, e.Tag)
	}
	assert.Contains(t, tags, types.LogTagNew)
	assert.Contains(t, tags, types.LogTagYield)
}

// TestRunTransaction_CreateAndResume: a coordination entry point that
// creates a UTXO and resumes it through to completion (the fixture
// yields exactly once) leaves no UTXO committed, and the log records the
// initial new/yield pair followed by the resume that drains it.
func TestRunTransaction_CreateAndResume(t *testing.T) {
	world := newFixtureWorld(t)
	store := universe.NewMemStore()

	res, log, err := RunTransaction(context.Background(), world.registry, store, DefaultConfig(), obslog.NewNop(), world.coordID, wasmtest.CreateResumeEntry, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Utxo)
	assert.Equal(t, types.StateReturned, res.Utxo.State)

	ids, err := store.LiveUtxoIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids, "a UTXO that ran to completion must not be committed")

	var tags []types.LogTag
	for _, e := range log {
		tags = append(tags, e.Tag)
	}
	assert.Contains(t, tags, types.LogTagNew)
	assert.Contains(t, tags, types.LogTagResume)
	assert.Equal(t, 1, countTag(tags, types.LogTagYield), "only the initial suspension yields; the fixture runs to completion on resume")
}

// TestRunTransaction_ResumeSizeMismatch_RollsBack: a coordination entry
// point that resumes with an undersized payload fails the whole
// transaction, and the store is left exactly as it started.
func TestRunTransaction_ResumeSizeMismatch_RollsBack(t *testing.T) {
	world := newFixtureWorld(t)
	store := universe.NewMemStore()

	_, _, err := RunTransaction(context.Background(), world.registry, store, DefaultConfig(), obslog.NewNop(), world.coordID, wasmtest.CreateResumeBadSizeEntry, nil)
	require.Error(t, err)
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.SizeMismatch, werr.Kind)

	ids, err := store.LiveUtxoIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids, "a rolled-back transaction must not leave the intermediate UTXO committed")
}

// TestRunTransaction_CreateDead: a UTXO whose entry point never yields
// is reported dead the instant its coordination caller gets its handle
// back, and never reaches the store.
func TestRunTransaction_CreateDead(t *testing.T) {
	world := newFixtureWorld(t)
	store := universe.NewMemStore()

	res, _, err := RunTransaction(context.Background(), world.registry, store, DefaultConfig(), obslog.NewNop(), world.coordID, wasmtest.CreateDeadEntry, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Utxo)
	assert.Equal(t, types.StateReturned, res.Utxo.State)

	ids, err := store.LiveUtxoIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// TestRunTransaction_ResumeAcrossTransactions drives the full archive/
// page-in cycle: transaction 1 creates a yielded UTXO and commits it;
// transaction 2 receives that UTXO as an input (rewritten to a fresh
// handle), pages it back in from its archived memory and suspension, and
// resumes it to completion, after which it is removed from the store.
func TestRunTransaction_ResumeAcrossTransactions(t *testing.T) {
	world := newFixtureWorld(t)
	store := universe.NewMemStore()

	res1, _, err := RunTransaction(context.Background(), world.registry, store, DefaultConfig(), obslog.NewNop(), world.coordID, wasmtest.CreateEntry, nil)
	require.NoError(t, err)
	require.NotNil(t, res1.Utxo)

	stored, ok, err := store.GetUtxo(context.Background(), res1.Utxo.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, stored.Suspension, "a committed yielded UTXO must carry its archived suspension")

	res2, log, err := RunTransaction(context.Background(), world.registry, store, DefaultConfig(), obslog.NewNop(), world.coordID, wasmtest.ResumeInputEntry, nil, res1.Utxo.ID)
	require.NoError(t, err)
	require.NotNil(t, res2.Utxo)
	assert.Equal(t, res1.Utxo.ID, res2.Utxo.ID)
	assert.Equal(t, types.StateReturned, res2.Utxo.State)

	var tags []types.LogTag
	for _, e := range log {
		tags = append(tags, e.Tag)
	}
	assert.Contains(t, tags, types.LogTagResume)

	ids, err := store.LiveUtxoIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids, "a UTXO resumed to completion must be removed at commit")
}

// TestRunTransaction_UntouchedInputKeepsTokens: an input UTXO the
// coordination only status-checks is never paged in; commit must
// re-persist it with its token set and archived memory intact.
func TestRunTransaction_UntouchedInputKeepsTokens(t *testing.T) {
	world := newFixtureWorld(t)
	store := universe.NewMemStore()

	input := &types.Utxo{
		ID:             types.NewUtxoID(),
		ProgramID:      types.ProgramID{1},
		EntryPoint:     "starstream_new_Thing",
		State:          types.StateYielded,
		ArchivedMemory: []byte{9, 9, 9, 9},
		Tokens: []types.Token{
			{MintProgramID: types.ProgramID{2}, BurnFuncName: "starstream_burn_star_nft", ID: 7, Amount: 1},
		},
	}
	require.NoError(t, store.PutUtxo(context.Background(), input))

	res, _, err := RunTransaction(context.Background(), world.registry, store, DefaultConfig(), obslog.NewNop(), world.coordID, wasmtest.StatusInputEntry, nil, input.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Scalar, "a yielded input must report alive")

	stored, ok, err := store.GetUtxo(context.Background(), input.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, input.Tokens, stored.Tokens, "an input that was never paged in keeps its token set")
	assert.Equal(t, input.ArchivedMemory, stored.ArchivedMemory)
}

func countTag(tags []types.LogTag, want types.LogTag) int {
	n := 0
	for _, t := range tags {
		if t == want {
			n++
		}
	}
	return n
}
