package scheduler

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/interfaces/infrastructure/log"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// envFuncs builds the "env" import module every role may use: abort, a
// diagnostic log hook, and the two code-identity queries a contract can
// ask the host about itself and the active coordination. These are bound
// as raw api.GoModuleFunc values rather than typed closures since an
// "env" import may appear on contracts compiled by any toolchain, with
// whatever parameter widths that toolchain chose for these calls.
func envFuncs(thisProgramID, coordProgramID types.ProgramID, logger log.Logger) map[string]interface{} {
	return map[string]interface{}{
		"abort": api.GoModuleFunc(func(_ context.Context, _ api.Module, _ []uint64) {
			panic(wasmerr.New(wasmerr.Trap, "contract called env.abort"))
		}),
		"starstream_log": api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			if logger != nil {
				logger.Debugf("contract log from %s: %v", thisProgramID, stack)
			}
		}),
		"starstream_coordination_code": api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			ptr := uint32(stack[0])
			if !mod.Memory().Write(ptr, coordProgramID[:]) {
				panic(wasmerr.New(wasmerr.BadModule, "failed writing coordination code"))
			}
		}),
		"starstream_this_code": api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
			ptr := uint32(stack[0])
			if !mod.Memory().Write(ptr, thisProgramID[:]) {
				panic(wasmerr.New(wasmerr.BadModule, "failed writing this code"))
			}
		}),
	}
}
