package utxo

import (
	"context"

	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// These five exports are required on every UTXO-role module;
// contractcode.Registry.Asyncified already verified they exist before a
// UtxoInstance is ever constructed.

func (ui *UtxoInstance) asyncifyGetState(ctx context.Context) (types.AsyncifyState, error) {
	fn, err := ui.inst.Export("asyncify_get_state")
	if err != nil {
		return 0, err
	}
	results, err := fn.Call(ctx)
	if err != nil {
		return 0, wasmerr.NewTrap(err)
	}
	return types.AsyncifyState(results[0]), nil
}

func (ui *UtxoInstance) asyncifyStartUnwind(ctx context.Context, stackStart uint32) error {
	fn, err := ui.inst.Export("asyncify_start_unwind")
	if err != nil {
		return err
	}
	if _, err := fn.Call(ctx, uint64(stackStart)); err != nil {
		return wasmerr.NewTrap(err)
	}
	return nil
}

// asyncifyStopUnwindOp is called by UtxoInstance after observing an
// UNWIND state post-call, to acknowledge the unwind completed and leave
// the module ready for a later rewind.
func (ui *UtxoInstance) asyncifyStopUnwindOp(ctx context.Context) error {
	fn, err := ui.inst.Export("asyncify_stop_unwind")
	if err != nil {
		return err
	}
	if _, err := fn.Call(ctx); err != nil {
		return wasmerr.NewTrap(err)
	}
	return nil
}

func (ui *UtxoInstance) asyncifyStartRewind(ctx context.Context, stackStart uint32) error {
	fn, err := ui.inst.Export("asyncify_start_rewind")
	if err != nil {
		return err
	}
	if _, err := fn.Call(ctx, uint64(stackStart)); err != nil {
		return wasmerr.NewTrap(err)
	}
	return nil
}

func (ui *UtxoInstance) asyncifyStopRewind(ctx context.Context) error {
	fn, err := ui.inst.Export("asyncify_stop_rewind")
	if err != nil {
		return err
	}
	if _, err := fn.Call(ctx); err != nil {
		return wasmerr.NewTrap(err)
	}
	return nil
}
