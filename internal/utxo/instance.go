package utxo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/weisyn-labs/ledgerhost/internal/contractcode"
	"github.com/weisyn-labs/ledgerhost/internal/contractinstance"
	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/interfaces/infrastructure/log"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// YieldedCall is the suspended state captured by the yield import: three
// views into the UTXO's own linear memory, never copies.
type YieldedCall struct {
	NamePtr, NameLen     uint32
	DataPtr, DataLen     uint32
	ResumePtr, ResumeLen uint32
}

// UtxoInstance is the in-memory activation of a durable *types.Utxo: a
// contractinstance.Instance bound to the UTXO role plus the lifecycle
// bookkeeping that drives it through start/yield/resume exchanges.
type UtxoInstance struct {
	Utxo *types.Utxo

	inst   *contractinstance.Instance
	cfg    Config
	logger log.Logger

	entryExport  string
	entryArgsPtr uint32
	entryArgsLen uint32

	yielded *YieldedCall
}

// New instantiates an asyncified ContractCode under the UTXO role and
// wires the starstream_utxo_env.starstream_yield import back into this
// instance. extraImports lets a caller (the scheduler) additionally wire
// env.* and starstream_token:{id}.* imports; this package only supplies
// the yield import itself.
func New(ctx context.Context, runtime wazero.Runtime, cc *contractcode.ContractCode, u *types.Utxo, extraImports contractinstance.ImportSet, instanceName string, cfg Config, logger log.Logger) (*UtxoInstance, error) {
	ui := &UtxoInstance{Utxo: u, cfg: cfg, logger: logger}

	imports := contractinstance.ImportSet{}
	for mod, fns := range extraImports {
		imports[mod] = fns
	}
	if imports[utxoEnvModule] == nil {
		imports[utxoEnvModule] = map[string]interface{}{}
	}
	imports[utxoEnvModule]["starstream_yield"] = ui.yieldHostFunc()

	inst, err := contractinstance.Instantiate(ctx, runtime, cc, types.RoleUtxo, imports, instanceName, logger)
	if err != nil {
		return nil, err
	}
	ui.inst = inst

	if u.ArchivedMemory != nil {
		if err := ui.restoreMemory(ctx, u.ArchivedMemory); err != nil {
			inst.Close(ctx)
			return nil, err
		}
		u.ArchivedMemory = nil
	}
	if s := u.Suspension; s != nil {
		ui.yielded = &YieldedCall{
			NamePtr: s.NamePtr, NameLen: s.NameLen,
			DataPtr: s.DataPtr, DataLen: s.DataLen,
			ResumePtr: s.ResumePtr, ResumeLen: s.ResumeLen,
		}
		ui.entryExport = u.EntryPoint
		ui.entryArgsPtr = s.ArgsPtr
		ui.entryArgsLen = s.ArgsLen
		u.Suspension = nil
	}

	return ui, nil
}

const utxoEnvModule = "starstream_utxo_env"

func (ui *UtxoInstance) restoreMemory(ctx context.Context, archived []byte) error {
	mem := ui.inst.Memory()
	if mem == nil {
		return wasmerr.New(wasmerr.BadModule, "UTXO module declares no memory export")
	}
	needed := uint32(len(archived))
	if mem.Size() < needed {
		pages := (needed - mem.Size() + 65535) / 65536
		if _, ok := mem.Grow(pages); !ok {
			return wasmerr.New(wasmerr.BadModule, "failed to grow memory while restoring archived UTXO state")
		}
	}
	if !mem.Write(0, archived) {
		return wasmerr.New(wasmerr.BadModule, "failed writing archived memory on load")
	}
	return nil
}

// Start invokes the UTXO's entry point with args, running it to its
// first yield or to completion.
func (ui *UtxoInstance) Start(ctx context.Context, entryExport string, args []byte) ([]byte, error) {
	if ui.Utxo.State != types.StateNotStarted {
		return nil, wasmerr.NewBadState("start", ui.Utxo.State)
	}

	ui.entryExport = entryExport
	ui.entryArgsPtr = ui.cfg.ArgsOffset
	ui.entryArgsLen = uint32(len(args))

	if err := ui.writeArgs(args); err != nil {
		return nil, err
	}

	fn, err := ui.inst.Export(entryExport)
	if err != nil {
		return nil, err
	}
	results, err := ui.callGuarded(ctx, fn, uint64(ui.entryArgsPtr), uint64(ui.entryArgsLen))
	if err != nil {
		return nil, err
	}

	return ui.settleAfterCall(ctx, results, "start")
}

// Resume drives a yielded UTXO past its current suspension with data
// written into the memory view the last yield exposed.
func (ui *UtxoInstance) Resume(ctx context.Context, data []byte) ([]byte, error) {
	if ui.Utxo.State != types.StateYielded {
		return nil, wasmerr.NewBadState("resume", ui.Utxo.State)
	}
	if ui.yielded == nil {
		return nil, wasmerr.New(wasmerr.BadState, "resume called on a yielded UTXO with no captured suspension")
	}
	if uint32(len(data)) != ui.yielded.ResumeLen {
		return nil, wasmerr.NewSizeMismatch(int(ui.yielded.ResumeLen), len(data))
	}

	mem := ui.inst.Memory()
	if !mem.Write(ui.yielded.ResumePtr, data) {
		return nil, wasmerr.New(wasmerr.BadModule, "failed writing resume argument into UTXO memory")
	}

	if err := ui.asyncifyStartRewind(ctx, ui.cfg.StackStart); err != nil {
		return nil, err
	}

	fn, err := ui.inst.Export(ui.entryExport)
	if err != nil {
		return nil, err
	}
	results, err := ui.callGuarded(ctx, fn, uint64(ui.entryArgsPtr), uint64(ui.entryArgsLen))
	if err != nil {
		return nil, err
	}

	return ui.settleAfterCall(ctx, results, "resume")
}

// settleAfterCall inspects the asyncify state after Start or Resume
// returns and advances the lifecycle accordingly.
func (ui *UtxoInstance) settleAfterCall(ctx context.Context, results []uint64, op string) ([]byte, error) {
	state, err := ui.asyncifyGetState(ctx)
	if err != nil {
		return nil, err
	}

	switch state {
	case types.AsyncifyNormal:
		ui.Utxo.State = types.StateReturned
		ui.yielded = nil
		return resultBytes(ui.inst.Memory(), results)
	case types.AsyncifyUnwind:
		if err := ui.asyncifyStopUnwindOp(ctx); err != nil {
			return nil, err
		}
		ui.Utxo.State = types.StateYielded
		if ui.yielded == nil {
			return nil, wasmerr.New(wasmerr.NotQuiescent, op+": module unwound without calling starstream_yield")
		}
		return ui.yieldedOutbound()
	default:
		return nil, wasmerr.NewNotQuiescent(op)
	}
}

func (ui *UtxoInstance) yieldedOutbound() ([]byte, error) {
	mem := ui.inst.Memory()
	data, ok := mem.Read(ui.yielded.DataPtr, ui.yielded.DataLen)
	if !ok {
		return nil, wasmerr.New(wasmerr.BadModule, "failed reading yield data view")
	}
	return data, nil
}

// YieldedName returns the type-name view the most recent yield captured,
// or nil if the UTXO is not currently suspended. The scheduler reads
// this to decide whether a suspension is an ordinary yield or an effect
// that must be routed to an installed handler.
func (ui *UtxoInstance) YieldedName() ([]byte, error) {
	if ui.yielded == nil {
		return nil, nil
	}
	mem := ui.inst.Memory()
	name, ok := mem.Read(ui.yielded.NamePtr, ui.yielded.NameLen)
	if !ok {
		return nil, wasmerr.New(wasmerr.BadModule, "failed reading yield name view")
	}
	return name, nil
}

// Query reads a &self view without suspension allowed.
func (ui *UtxoInstance) Query(ctx context.Context, exportName string, args []byte) ([]byte, error) {
	return ui.callNonSuspending(ctx, "query", exportName, args)
}

// Mutate reads/writes a &mut self view without suspension allowed.
func (ui *UtxoInstance) Mutate(ctx context.Context, exportName string, args []byte) ([]byte, error) {
	return ui.callNonSuspending(ctx, "mutate", exportName, args)
}

// Consume is like Mutate but transitions the UTXO to consumed on success
// and detaches its tokens for the caller to redistribute.
func (ui *UtxoInstance) Consume(ctx context.Context, exportName string, args []byte) (output []byte, detached []types.Token, err error) {
	output, err = ui.callNonSuspending(ctx, "consume", exportName, args)
	if err != nil {
		return nil, nil, err
	}
	ui.Utxo.State = types.StateConsumed
	detached = ui.Utxo.Tokens
	ui.Utxo.Tokens = nil
	return output, detached, nil
}

func (ui *UtxoInstance) callNonSuspending(ctx context.Context, op, exportName string, args []byte) ([]byte, error) {
	if ui.Utxo.State != types.StateYielded {
		return nil, wasmerr.NewBadState(op, ui.Utxo.State)
	}

	if err := ui.writeArgs(args); err != nil {
		return nil, err
	}

	fn, err := ui.inst.Export(exportName)
	if err != nil {
		return nil, err
	}
	results, err := ui.callGuarded(ctx, fn, uint64(ui.cfg.ArgsOffset), uint64(len(args)))
	if err != nil {
		return nil, err
	}

	state, err := ui.asyncifyGetState(ctx)
	if err != nil {
		return nil, err
	}
	if state != types.AsyncifyNormal {
		return nil, wasmerr.NewNotQuiescent(op)
	}

	return resultBytes(ui.inst.Memory(), results)
}

// Unload archives the instance's linear memory and captured suspension,
// then releases the module, leaving ui.Utxo ready to be paged back in by
// a later New over the same record.
func (ui *UtxoInstance) Unload(ctx context.Context) error {
	mem := ui.inst.Memory()
	archived, ok := mem.Read(0, mem.Size())
	if !ok {
		return wasmerr.New(wasmerr.BadModule, "failed reading linear memory for archival")
	}
	snapshot := make([]byte, len(archived))
	copy(snapshot, archived)
	ui.Utxo.ArchivedMemory = snapshot
	if y := ui.yielded; y != nil {
		ui.Utxo.Suspension = &types.SuspendedCall{
			NamePtr: y.NamePtr, NameLen: y.NameLen,
			DataPtr: y.DataPtr, DataLen: y.DataLen,
			ResumePtr: y.ResumePtr, ResumeLen: y.ResumeLen,
			ArgsPtr: ui.entryArgsPtr, ArgsLen: ui.entryArgsLen,
		}
	} else {
		ui.Utxo.Suspension = nil
	}
	return ui.inst.Close(ctx)
}

// Close releases the underlying module without archiving memory, for a
// UTXO that has reached a terminal state (returned/consumed) and will
// never be loaded again.
func (ui *UtxoInstance) Close(ctx context.Context) error {
	return ui.inst.Close(ctx)
}

func (ui *UtxoInstance) writeArgs(args []byte) error {
	if len(args) == 0 {
		return nil
	}
	mem := ui.inst.Memory()
	if mem.Size() < ui.cfg.ArgsOffset+uint32(len(args)) {
		pages := (ui.cfg.ArgsOffset + uint32(len(args)) - mem.Size() + 65535) / 65536
		if _, ok := mem.Grow(pages); !ok {
			return wasmerr.New(wasmerr.BadModule, "failed to grow memory while staging call arguments")
		}
	}
	if !mem.Write(ui.cfg.ArgsOffset, args) {
		return wasmerr.New(wasmerr.BadModule, "failed writing call arguments into UTXO memory")
	}
	return nil
}

// resultBytes reads a length-prefixed result region pointed to by the
// first of fn's results, or returns nil if the export returned nothing.
func resultBytes(mem api.Memory, results []uint64) ([]byte, error) {
	if len(results) == 0 {
		return nil, nil
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return nil, nil
	}
	lenBytes, ok := mem.Read(ptr, 4)
	if !ok {
		return nil, wasmerr.New(wasmerr.BadModule, "failed reading result length prefix")
	}
	n := binary.LittleEndian.Uint32(lenBytes)
	if n == 0 {
		return nil, nil
	}
	out, ok := mem.Read(ptr+4, n)
	if !ok {
		return nil, wasmerr.New(wasmerr.BadModule, "failed reading result payload")
	}
	return out, nil
}

// callGuarded invokes fn and converts a recovered trap-stub panic (a
// *wasmerr.Error) back into a normal error, rather than a Go panic,
// preserving its Kind for the caller.
func (ui *UtxoInstance) callGuarded(ctx context.Context, fn api.Function, params ...uint64) (results []uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			if werr, ok := r.(*wasmerr.Error); ok {
				err = werr
				return
			}
			err = wasmerr.NewTrap(fmt.Errorf("%v", r))
		}
	}()
	results, err = fn.Call(ctx, params...)
	if err != nil {
		var werr *wasmerr.Error
		if errors.As(err, &werr) {
			return nil, werr
		}
		return nil, wasmerr.NewTrap(err)
	}
	return results, nil
}
