package utxo

import (
	"context"
	"encoding/binary"

	"github.com/tetratelabs/wazero/api"

	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// yieldHostFunc builds the starstream_utxo_env.starstream_yield
// import. On first entry (state NORMAL) it captures the three
// memory views as-is — never copies — and starts an unwind; on the
// rewind leg (state REWIND) it stops the rewind and returns normally,
// the scheduler having already filled the resume-argument view.
func (ui *UtxoInstance) yieldHostFunc() func(ctx context.Context, mod api.Module, namePtr, nameLen, dataPtr, dataLen, resumePtr, resumeLen uint32) {
	return func(ctx context.Context, mod api.Module, namePtr, nameLen, dataPtr, dataLen, resumePtr, resumeLen uint32) {
		state, err := ui.asyncifyGetState(ctx)
		if err != nil {
			panic(err)
		}

		switch state {
		case types.AsyncifyNormal:
			ui.yielded = &YieldedCall{
				NamePtr: namePtr, NameLen: nameLen,
				DataPtr: dataPtr, DataLen: dataLen,
				ResumePtr: resumePtr, ResumeLen: resumeLen,
			}

			header := make([]byte, 8)
			binary.LittleEndian.PutUint32(header[0:4], ui.cfg.StackStart+8)
			binary.LittleEndian.PutUint32(header[4:8], ui.cfg.StackEnd)
			if !mod.Memory().Write(ui.cfg.StackStart, header) {
				panic(wasmerr.New(wasmerr.BadModule, "failed writing asyncify save buffer header"))
			}

			if err := ui.asyncifyStartUnwind(ctx, ui.cfg.StackStart); err != nil {
				panic(err)
			}

		case types.AsyncifyRewind:
			if err := ui.asyncifyStopRewind(ctx); err != nil {
				panic(err)
			}

		default:
			panic(wasmerr.New(wasmerr.NotQuiescent, "starstream_yield invoked while asyncify state was neither NORMAL nor REWIND"))
		}
	}
}
