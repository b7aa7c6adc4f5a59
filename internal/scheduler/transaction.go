package scheduler

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero/api"

	"github.com/weisyn-labs/ledgerhost/internal/contractcode"
	"github.com/weisyn-labs/ledgerhost/internal/contractinstance"
	"github.com/weisyn-labs/ledgerhost/internal/utxo"
	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/interfaces/infrastructure/log"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// Result is what RunTransaction hands back to its caller once a
// transaction's entry point has returned. The raw return value is
// ambiguous between "a scalar" and "a handle to one of the UTXOs this
// call touched"; this implementation resolves that ambiguity by checking
// whether the returned value names a still-live handle and reporting
// whichever interpretation applies. A coordination that legitimately
// wants to return a u64 colliding with a live handle has no way to
// disambiguate at this level — a known sharp edge, kept rather than
// silently redesigned.
type Result struct {
	// TxID correlates this transaction's log with external callers; it
	// has no protocol meaning.
	TxID   uuid.UUID
	Utxo   *types.Utxo
	Scalar uint64
}

const (
	effectPrefix          = "effect:"
	clearHandlerSentinel  = ^uint32(0)
	handlerInvokeExport   = "starstream_invoke_handler"
	prepareToMintSuffix   = "prepare_to_mint"
)

// transaction is the mutable, single-use state of one RunTransaction
// call. None of its fields are shared across transactions; a
// fresh transaction is built for every call and discarded afterward
// whether it commits or rolls back.
type transaction struct {
	ctx      context.Context
	cfg      Config
	logger   log.Logger
	registry *contractcode.Registry
	store    LedgerStore

	id             uuid.UUID
	coordProgramID types.ProgramID
	coordInst      *contractinstance.Instance

	handles *handleTable
	records map[types.UtxoID]*types.Utxo
	loaded  map[types.UtxoID]*utxo.UtxoInstance

	tokenInstances map[types.ProgramID]*contractinstance.Instance
	tokenSets      map[types.UtxoID]map[types.Handle]types.Token
	tokenRNG       *rand.Rand

	handlers map[string]uint32

	intermediatesPending int

	log []types.TransactionLogEntry
}

// RunTransaction executes coordProgramID's entryPoint to completion
// against store. inputUtxos names already-persisted UTXOs this
// transaction operates on: each is rewritten into a freshly allocated
// handle (coordination code sees handles, never UTXO records) and the
// handle words are appended, 4 bytes little-endian each, after args in
// the staged argument region. On success every UTXO reachable from the
// coordination's handle table is committed to store and the
// transaction's observable log is returned; on any failure store is
// left untouched and the error carries a *wasmerr.Error Kind.
func RunTransaction(ctx context.Context, registry *contractcode.Registry, store LedgerStore, cfg Config, logger log.Logger, coordProgramID types.ProgramID, entryPoint string, args []byte, inputUtxos ...types.UtxoID) (res Result, txLog []types.TransactionLogEntry, err error) {
	tx := &transaction{
		ctx:            ctx,
		cfg:            cfg,
		logger:         logger,
		registry:       registry,
		store:          store,
		id:             uuid.New(),
		coordProgramID: coordProgramID,
		handles:        newHandleTable(rand.New(rand.NewSource(time.Now().UnixNano())), cfg.HandleSpaceMax),
		records:        make(map[types.UtxoID]*types.Utxo),
		loaded:         make(map[types.UtxoID]*utxo.UtxoInstance),
		tokenInstances: make(map[types.ProgramID]*contractinstance.Instance),
		tokenSets:      make(map[types.UtxoID]map[types.Handle]types.Token),
		tokenRNG:       rand.New(rand.NewSource(time.Now().UnixNano() + 1)),
		handlers:       make(map[string]uint32),
	}

	defer func() {
		if tx.coordInst != nil {
			_ = tx.coordInst.Close(ctx)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			werr, ok := r.(*wasmerr.Error)
			if !ok {
				werr = wasmerr.NewTrap(fmt.Errorf("%v", r))
			}
			tx.rollback()
			res, txLog, err = Result{}, nil, werr
		}
	}()

	if runErr := tx.run(entryPoint, args, inputUtxos, &res); runErr != nil {
		tx.rollback()
		return Result{}, nil, runErr
	}

	if commitErr := tx.commit(); commitErr != nil {
		tx.rollback()
		return Result{}, nil, commitErr
	}

	return res, tx.log, nil
}

func (tx *transaction) run(entryPoint string, args []byte, inputUtxos []types.UtxoID, res *Result) error {
	cc, err := tx.registry.Resolve(tx.ctx, tx.coordProgramID)
	if err != nil {
		return err
	}

	handleWords, err := tx.installInputs(inputUtxos)
	if err != nil {
		return err
	}
	if len(handleWords) > 0 {
		args = append(append(make([]byte, 0, len(args)+len(handleWords)), args...), handleWords...)
	}

	imports, err := tx.buildCoordinationImports(cc)
	if err != nil {
		return err
	}

	instName := "coordination-" + tx.id.String()
	inst, err := contractinstance.Instantiate(tx.ctx, tx.registry.Runtime(), cc, types.RoleCoordination, imports, instName, tx.logger)
	if err != nil {
		return err
	}
	tx.coordInst = inst

	if err := tx.writeCoordArgs(args); err != nil {
		return err
	}

	fn, err := inst.Export(entryPoint)
	if err != nil {
		return err
	}
	results, err := tx.callGuarded(fn, uint64(tx.cfg.CoordArgsOffset), uint64(len(args)))
	if err != nil {
		return err
	}

	if tx.intermediatesPending != 0 {
		return wasmerr.NewUnresolvedIntermediate(tx.intermediatesPending)
	}

	*res = tx.resolveReturn(results)
	res.TxID = tx.id
	return nil
}

// installInputs rewrites each caller-supplied UTXO id into a fresh
// handle, fetching its durable record from the store so later
// resume/query/consume calls against the handle page it in lazily.
// Returns the handle words to append after the entry point's raw
// argument bytes, in input order.
func (tx *transaction) installInputs(inputUtxos []types.UtxoID) ([]byte, error) {
	if len(inputUtxos) == 0 {
		return nil, nil
	}
	words := make([]byte, 0, 4*len(inputUtxos))
	for _, id := range inputUtxos {
		if _, ok := tx.records[id]; !ok {
			rec, found, err := tx.store.GetUtxo(tx.ctx, id)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, wasmerr.New(wasmerr.BadState, "input UTXO "+id.String()+" is not present in the universe").WithContext("utxo_id", id.String())
			}
			tx.records[id] = rec
		}
		h := tx.handles.allocate(id)
		word := make([]byte, 4)
		binary.LittleEndian.PutUint32(word, uint32(h))
		words = append(words, word...)
	}
	return words, nil
}

// resolveReturn implements the handle-vs-scalar decision described on
// Result: a return value that names a handle still live in this
// transaction resolves to that UTXO's record, otherwise it is reported
// as a raw scalar.
func (tx *transaction) resolveReturn(results []uint64) Result {
	if len(results) == 0 {
		return Result{}
	}
	raw := results[0]
	if id, ok := tx.handles.resolve(types.Handle(uint32(raw))); ok {
		return Result{Utxo: tx.records[id]}
	}
	return Result{Scalar: raw}
}

func (tx *transaction) writeCoordArgs(args []byte) error {
	if len(args) == 0 {
		return nil
	}
	mem := tx.coordInst.Memory()
	if err := growIfNeeded(mem, tx.cfg.CoordArgsOffset, uint32(len(args))); err != nil {
		return err
	}
	if !mem.Write(tx.cfg.CoordArgsOffset, args) {
		return wasmerr.New(wasmerr.BadModule, "failed writing coordination entry-point arguments")
	}
	return nil
}

// callGuarded invokes fn and converts a recovered trap-stub panic (a
// *wasmerr.Error) back into a normal error, the same discipline
// internal/utxo's callGuarded follows for UTXO-role calls.
func (tx *transaction) callGuarded(fn api.Function, params ...uint64) (results []uint64, err error) {
	callCtx := tx.ctx
	if tx.cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, tx.cfg.ExecutionTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			if werr, ok := r.(*wasmerr.Error); ok {
				err = werr
				return
			}
			err = wasmerr.NewTrap(fmt.Errorf("%v", r))
		}
	}()
	results, err = fn.Call(callCtx, params...)
	if err != nil {
		var werr *wasmerr.Error
		if errors.As(err, &werr) {
			return nil, werr
		}
		return nil, wasmerr.NewTrap(err)
	}
	return results, nil
}

func (tx *transaction) stageCoordResult(mod api.Module, data []byte) uint32 {
	ptr, err := writeLengthPrefixed(mod.Memory(), tx.cfg.CoordResultOffset, data)
	if err != nil {
		panic(err)
	}
	return ptr
}

func (tx *transaction) stageUtxoResult(mod api.Module, data []byte) uint32 {
	ptr, err := writeLengthPrefixed(mod.Memory(), tx.cfg.TokenResultRelayOffset, data)
	if err != nil {
		panic(err)
	}
	return ptr
}

// ensureLoaded returns the live UtxoInstance for id, loading it from
// tx.records or tx.store on first use within this transaction.
func (tx *transaction) ensureLoaded(ctx context.Context, id types.UtxoID) (*utxo.UtxoInstance, error) {
	if ui, ok := tx.loaded[id]; ok {
		return ui, nil
	}

	rec, ok := tx.records[id]
	if !ok {
		fetched, found, err := tx.store.GetUtxo(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, wasmerr.New(wasmerr.BadState, "handle resolved to UTXO "+id.String()+" which is absent from the universe").WithContext("utxo_id", id.String())
		}
		rec = fetched
		tx.records[id] = rec
	}

	cc, err := tx.registry.Asyncified(ctx, rec.ProgramID)
	if err != nil {
		return nil, err
	}
	imports, err := tx.utxoImports(cc, id, rec.ProgramID)
	if err != nil {
		return nil, err
	}
	ui, err := utxo.New(ctx, tx.registry.Runtime(), cc, rec, imports, "utxo-"+id.String(), tx.cfg.Utxo, tx.logger)
	if err != nil {
		return nil, err
	}
	tx.loaded[id] = ui
	tx.seedTokenHandles(id, rec)
	return ui, nil
}

// utxoImports scans cc for starstream_token:{id} imports and wires each
// to this transaction's mint/burn routing, alongside the env family
// every role may call.
func (tx *transaction) utxoImports(cc *contractcode.ContractCode, utxoID types.UtxoID, programID types.ProgramID) (contractinstance.ImportSet, error) {
	imports := contractinstance.ImportSet{
		"env": envFuncs(programID, tx.coordProgramID, tx.logger),
	}

	byModule := map[string][]api.FunctionDefinition{}
	for _, def := range cc.Compiled.ImportedFunctions() {
		moduleName, _, ok := def.Import()
		if !ok {
			continue
		}
		byModule[moduleName] = append(byModule[moduleName], def)
	}

	for moduleName, defs := range byModule {
		kind, idSuffix, ok := contractinstance.ClassifyModule(moduleName)
		if !ok || kind != contractinstance.ModuleTokenRouting {
			continue
		}
		mintProgramID, err := parseProgramID(idSuffix)
		if err != nil {
			return nil, wasmerr.New(wasmerr.UnknownImport, "malformed program id in import module "+moduleName)
		}
		fns := make(map[string]interface{}, len(defs))
		for _, def := range defs {
			_, funcName, _ := def.Import()
			fns[funcName] = tx.tokenHostFunc(mintProgramID, funcName, utxoID)
		}
		imports[moduleName] = fns
	}
	return imports, nil
}

func (tx *transaction) getOrCreateTokenInstance(ctx context.Context, programID types.ProgramID) (*contractinstance.Instance, error) {
	if inst, ok := tx.tokenInstances[programID]; ok {
		return inst, nil
	}
	cc, err := tx.registry.Resolve(ctx, programID)
	if err != nil {
		return nil, err
	}
	imports := contractinstance.ImportSet{"env": envFuncs(programID, tx.coordProgramID, tx.logger)}
	name := fmt.Sprintf("token-%s-%s", programID, tx.id)
	inst, err := contractinstance.Instantiate(ctx, tx.registry.Runtime(), cc, types.RoleTokenMint, imports, name, tx.logger)
	if err != nil {
		return nil, err
	}
	tx.tokenInstances[programID] = inst
	return inst, nil
}

func (tx *transaction) appendLog(tag types.LogTag, programID types.ProgramID, op string, in, out []byte) {
	tx.log = append(tx.log, types.TransactionLogEntry{
		Tag:           tag,
		ProgramID:     programID,
		OperationName: op,
		Input:         in,
		Output:        out,
	})
}

// resolveIntermediate decrements the pending-intermediate counter,
// floored at zero.
func (tx *transaction) resolveIntermediate() {
	if tx.intermediatesPending > 0 {
		tx.intermediatesPending--
	}
}

func (tx *transaction) commit() error {
	for _, id := range tx.handles.live() {
		rec := tx.records[id]
		if rec == nil {
			continue
		}

		if ui, ok := tx.loaded[id]; ok {
			var err error
			if rec.State.IsAlive() {
				// Only a loaded instance had its token set re-indexed by
				// handle; an input that was never paged in keeps the
				// token set decoded from the store.
				rec.Tokens = tx.flattenTokens(id)
				err = ui.Unload(tx.ctx)
			} else {
				err = ui.Close(tx.ctx)
			}
			delete(tx.loaded, id)
			if err != nil {
				return err
			}
		}

		if rec.State.IsAlive() {
			if err := tx.store.PutUtxo(tx.ctx, rec); err != nil {
				return err
			}
		} else if err := tx.store.RemoveUtxo(tx.ctx, id); err != nil {
			return err
		}
	}
	tx.closeTokenInstances()
	return nil
}

// rollback discards every instance this transaction touched without
// writing anything to store, leaving the Universe exactly as it was
// before the call began.
func (tx *transaction) rollback() {
	for id, ui := range tx.loaded {
		_ = ui.Close(tx.ctx)
		delete(tx.loaded, id)
	}
	tx.closeTokenInstances()
	tx.log = nil
}

func (tx *transaction) closeTokenInstances() {
	for id, inst := range tx.tokenInstances {
		_ = inst.Close(tx.ctx)
		delete(tx.tokenInstances, id)
	}
}

func parseProgramID(hexSuffix string) (types.ProgramID, error) {
	raw, err := hex.DecodeString(hexSuffix)
	if err != nil || len(raw) != 32 {
		return types.ProgramID{}, fmt.Errorf("invalid program id suffix %q", hexSuffix)
	}
	var id types.ProgramID
	copy(id[:], raw)
	return id, nil
}
