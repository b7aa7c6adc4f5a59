package contractcode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn-labs/ledgerhost/internal/obslog"
	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/internal/wasmtest"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// minimalModule is a valid but empty WASM module: magic number, version,
// and nothing else. It has no exports, so it fails the asyncify export
// check, which is exactly what most of these tests want to exercise
// without needing a real instrumented contract.
var minimalModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version 1
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(DefaultConfig(), nil, nil, obslog.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg
}

func TestRegistry_LoadCachesByContentHash(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	cc1, err := reg.Load(ctx, minimalModule)
	require.NoError(t, err)

	cc2, err := reg.Load(ctx, minimalModule)
	require.NoError(t, err)

	assert.Same(t, cc1, cc2, "loading identical bytes twice must return the cached ContractCode")
	assert.Equal(t, types.ComputeProgramID(minimalModule), cc1.ID)
}

func TestRegistry_GetUnknownCode(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Get(types.ProgramID{})
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.UnknownCode, werr.Kind)
}

func TestRegistry_ResolveWithoutProviderFails(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Resolve(context.Background(), types.ComputeProgramID(minimalModule))
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.UnknownCode, werr.Kind)
}

func TestRegistry_ResolveFallsBackToProvider(t *testing.T) {
	provider := newMemoryCAS()
	reg, err := NewRegistry(DefaultConfig(), provider, nil, obslog.NewNop())
	require.NoError(t, err)
	defer reg.Close(context.Background())

	hash, _, err := provider.Put(context.Background(), minimalModule)
	require.NoError(t, err)
	id := types.ComputeProgramID(minimalModule)
	assert.Equal(t, id[:], hash)

	cc, err := reg.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, cc.ID)
}

func TestRegistry_AsyncifiedRejectsModuleMissingExports(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Load(ctx, minimalModule)
	require.NoError(t, err)

	_, err = reg.Asyncified(ctx, types.ComputeProgramID(minimalModule))
	var werr *wasmerr.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wasmerr.BadModule, werr.Kind)
}

// rewritingAsyncifier stands in for a real bytecode rewriter: whatever
// bytes it is given, it returns a fixed instrumented module.
type rewritingAsyncifier struct {
	out []byte
}

func (r rewritingAsyncifier) Transform(_ context.Context, _ []byte) ([]byte, error) {
	return r.out, nil
}

// TestRegistry_AsyncifiedUsesRewrittenBytes: when the Asyncifier rewrites
// the bytes, the registry compiles its output and that module — not the
// original — is what UTXO instantiation receives, still addressed by the
// canonical program id.
func TestRegistry_AsyncifiedUsesRewrittenBytes(t *testing.T) {
	instrumented := wasmtest.BuildDeadUtxoModule()
	reg, err := NewRegistry(DefaultConfig(), nil, rewritingAsyncifier{out: instrumented}, obslog.NewNop())
	require.NoError(t, err)
	defer reg.Close(context.Background())

	_, err = reg.Load(context.Background(), minimalModule)
	require.NoError(t, err)
	id := types.ComputeProgramID(minimalModule)

	variant, err := reg.Asyncified(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, variant.ID, "the asyncified variant keeps the canonical program id")
	assert.Equal(t, instrumented, variant.Bytes)
	_, ok := variant.Compiled.ExportedFunctions()["asyncify_get_state"]
	assert.True(t, ok, "the instantiable module must be the rewritten one")

	again, err := reg.Asyncified(context.Background(), id)
	require.NoError(t, err)
	assert.Same(t, variant, again, "the variant is cached after the first call")
}

func TestRegistry_AsyncifiedFailsAgainOnSecondCheck(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	id := types.ComputeProgramID(minimalModule)

	_, err := reg.Load(ctx, minimalModule)
	require.NoError(t, err)

	// The first check fails (no asyncify exports) and must fail the same
	// way on a second call rather than panicking on stale cache state.
	_, err1 := reg.Asyncified(ctx, id)
	_, err2 := reg.Asyncified(ctx, id)
	require.Error(t, err1)
	require.Error(t, err2)
}
