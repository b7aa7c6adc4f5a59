package contractinstance

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weisyn-labs/ledgerhost/internal/contractcode"
	"github.com/weisyn-labs/ledgerhost/internal/obslog"
	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/internal/wasmtest"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// callGuarded mirrors the recover discipline internal/utxo's and
// internal/scheduler's own callGuarded helpers use around every exported
// call: a trap stub panics with a *wasmerr.Error, and wazero may
// surface that either as a panic out of Call or as its returned error.
func callGuarded(ctx context.Context, inst *Instance, name string) error {
	fn, err := inst.Export(name)
	if err != nil {
		return err
	}
	var callErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				if werr, ok := r.(*wasmerr.Error); ok {
					callErr = werr
					return
				}
				callErr = wasmerr.NewTrap(fmt.Errorf("%v", r))
			}
		}()
		_, callErr = fn.Call(ctx, 0, 0)
	}()
	return callErr
}

// TestInstantiate_DisallowedImportTraps: a module compiled
// under one role but declaring an import that role does not permit
// still links (the import resolves to a trap stub), and only fails the
// instant the stub is actually called, with a WrongContext error.
func TestInstantiate_DisallowedImportTraps(t *testing.T) {
	reg, err := contractcode.NewRegistry(contractcode.DefaultConfig(), nil, nil, obslog.NewNop())
	require.NoError(t, err)
	defer reg.Close(context.Background())

	cc, err := reg.Load(context.Background(), wasmtest.BuildYieldingUtxoModule())
	require.NoError(t, err)

	inst, err := Instantiate(context.Background(), reg.Runtime(), cc, types.RoleCoordination, nil, "wrong-role", obslog.NewNop())
	require.NoError(t, err, "linking must succeed even though starstream_utxo_env is not permitted under coordination role")
	defer inst.Close(context.Background())

	err = callGuarded(context.Background(), inst, wasmtest.YieldOnceEntry)
	require.Error(t, err)
	var werr *wasmerr.Error
	require.True(t, errors.As(err, &werr))
	require.Equal(t, wasmerr.WrongContext, werr.Kind)
}
