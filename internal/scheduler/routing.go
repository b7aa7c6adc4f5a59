package scheduler

import (
	"context"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/weisyn-labs/ledgerhost/internal/contractcode"
	"github.com/weisyn-labs/ledgerhost/internal/contractinstance"
	"github.com/weisyn-labs/ledgerhost/internal/token"
	"github.com/weisyn-labs/ledgerhost/internal/utxo"
	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// buildCoordinationImports scans cc's declared imports and, for every
// starstream_utxo:{id} module, installs one routing closure per
// exported function name the coordination module actually imports —
// the coordination side of "starstream_utxo:{program-id}"
// import surface routes 1:1 to the identically-prefixed export on the
// named program.
func (tx *transaction) buildCoordinationImports(cc *contractcode.ContractCode) (contractinstance.ImportSet, error) {
	imports := contractinstance.ImportSet{
		"env": envFuncs(tx.coordProgramID, tx.coordProgramID, tx.logger),
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
		if !ok || kind != contractinstance.ModuleUtxoRouting {
			continue // env handled above; an unrecognized module name fails Instantiate with UnknownImport
		}
		programID, err := parseProgramID(idSuffix)
		if err != nil {
			return nil, wasmerr.New(wasmerr.UnknownImport, "malformed program id in import module "+moduleName)
		}
		fns := make(map[string]interface{}, len(defs))
		for _, def := range defs {
			_, funcName, _ := def.Import()
			fns[funcName] = tx.routingHandler(programID, funcName)
		}
		imports[moduleName] = fns
	}
	return imports, nil
}

// routingHandler dispatches a single starstream_utxo:{id} import by the
// ExportKind its function name classifies to.
func (tx *transaction) routingHandler(programID types.ProgramID, funcName string) api.GoModuleFunc {
	kind, suffix := contractinstance.ClassifyExport(funcName)
	switch kind {
	case contractinstance.ExportNew:
		return tx.handleNew(programID, funcName)
	case contractinstance.ExportResume:
		return tx.handleResume(funcName)
	case contractinstance.ExportQuery:
		return tx.handleQueryOrMutate(funcName, false)
	case contractinstance.ExportMutate:
		return tx.handleQueryOrMutate(funcName, true)
	case contractinstance.ExportConsume:
		return tx.handleConsume(funcName)
	case contractinstance.ExportStatus:
		return tx.handleStatus()
	case contractinstance.ExportHandle:
		return tx.handleInstallHandler(suffix)
	case contractinstance.ExportEvent:
		return tx.handleEvent(programID, funcName)
	default:
		return func(_ context.Context, _ api.Module, _ []uint64) {
			panic(wasmerr.NewUnknownImport("starstream_utxo:"+programID.String(), funcName))
		}
	}
}

func (tx *transaction) handleNew(programID types.ProgramID, funcName string) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		argsPtr, argsLen := uint32(stack[0]), uint32(stack[1])
		args, ok := mod.Memory().Read(argsPtr, argsLen)
		if !ok {
			panic(wasmerr.New(wasmerr.BadModule, "failed reading starstream_new_* arguments"))
		}

		cc, err := tx.registry.Asyncified(ctx, programID)
		if err != nil {
			panic(err)
		}

		u := &types.Utxo{ID: types.NewUtxoID(), ProgramID: programID, EntryPoint: funcName, State: types.StateNotStarted}
		imports, err := tx.utxoImports(cc, u.ID, programID)
		if err != nil {
			panic(err)
		}
		ui, err := utxo.New(ctx, tx.registry.Runtime(), cc, u, imports, "utxo-"+u.ID.String(), tx.cfg.Utxo, tx.logger)
		if err != nil {
			panic(err)
		}

		out, err := ui.Start(ctx, funcName, args)
		if err != nil {
			_ = ui.Close(ctx)
			panic(err)
		}
		out, err = tx.drainEffects(ui, out)
		if err != nil {
			_ = ui.Close(ctx)
			panic(err)
		}

		tx.records[u.ID] = u
		tx.loaded[u.ID] = ui
		h := tx.handles.allocate(u.ID)
		tx.appendLog(types.LogTagNew, programID, funcName, args, out)

		stack[0] = uint64(h)
	}
}

func (tx *transaction) handleResume(funcName string) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		h := types.Handle(uint32(stack[0]))
		dataPtr, dataLen := uint32(stack[1]), uint32(stack[2])
		data, ok := mod.Memory().Read(dataPtr, dataLen)
		if !ok {
			panic(wasmerr.New(wasmerr.BadModule, "failed reading starstream_resume_* arguments"))
		}

		id, ok := tx.handles.resolve(h)
		if !ok {
			panic(wasmerr.NewUnknownHandle(uint32(h)))
		}
		ui, err := tx.ensureLoaded(ctx, id)
		if err != nil {
			panic(err)
		}

		out, err := ui.Resume(ctx, data)
		if err != nil {
			panic(err)
		}
		out, err = tx.drainEffects(ui, out)
		if err != nil {
			panic(err)
		}

		tx.appendLog(types.LogTagResume, ui.Utxo.ProgramID, funcName, data, out)
		stack[0] = uint64(tx.stageCoordResult(mod, out))
	}
}

func (tx *transaction) handleQueryOrMutate(funcName string, mutate bool) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		h := types.Handle(uint32(stack[0]))
		argsPtr, argsLen := uint32(stack[1]), uint32(stack[2])
		args, ok := mod.Memory().Read(argsPtr, argsLen)
		if !ok {
			panic(wasmerr.New(wasmerr.BadModule, "failed reading query/mutate arguments"))
		}

		id, ok := tx.handles.resolve(h)
		if !ok {
			panic(wasmerr.NewUnknownHandle(uint32(h)))
		}
		ui, err := tx.ensureLoaded(ctx, id)
		if err != nil {
			panic(err)
		}

		var out []byte
		tag := types.LogTagQuery
		if mutate {
			out, err = ui.Mutate(ctx, funcName, args)
			tag = types.LogTagMutate
		} else {
			out, err = ui.Query(ctx, funcName, args)
		}
		if err != nil {
			panic(err)
		}
		tx.appendLog(tag, ui.Utxo.ProgramID, funcName, args, out)

		if strings.HasSuffix(funcName, prepareToMintSuffix) {
			tx.intermediatesPending++
		}

		stack[0] = uint64(tx.stageCoordResult(mod, out))
	}
}

func (tx *transaction) handleConsume(funcName string) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		h := types.Handle(uint32(stack[0]))
		argsPtr, argsLen := uint32(stack[1]), uint32(stack[2])
		args, ok := mod.Memory().Read(argsPtr, argsLen)
		if !ok {
			panic(wasmerr.New(wasmerr.BadModule, "failed reading starstream_consume_* arguments"))
		}

		id, ok := tx.handles.resolve(h)
		if !ok {
			panic(wasmerr.NewUnknownHandle(uint32(h)))
		}
		ui, err := tx.ensureLoaded(ctx, id)
		if err != nil {
			panic(err)
		}

		out, detached, err := ui.Consume(ctx, funcName, args)
		if err != nil {
			panic(err)
		}
		tx.intermediatesPending += len(detached)
		delete(tx.tokenSets, id)

		tx.appendLog(types.LogTagConsume, ui.Utxo.ProgramID, funcName, args, out)
		stack[0] = uint64(tx.stageCoordResult(mod, out))
	}
}

func (tx *transaction) handleStatus() api.GoModuleFunc {
	return func(_ context.Context, _ api.Module, stack []uint64) {
		h := types.Handle(uint32(stack[0]))
		id, ok := tx.handles.resolve(h)
		if !ok {
			panic(wasmerr.NewUnknownHandle(uint32(h)))
		}
		rec := tx.records[id]
		if rec != nil && rec.IsAlive() {
			stack[0] = 1
		} else {
			stack[0] = 0
		}
	}
}

func (tx *transaction) handleInstallHandler(effectName string) api.GoModuleFunc {
	return func(_ context.Context, _ api.Module, stack []uint64) {
		tableIdx := uint32(stack[0])
		if tableIdx == uint32(clearHandlerSentinel) {
			delete(tx.handlers, effectName)
			return
		}
		tx.handlers[effectName] = tableIdx
	}
}

func (tx *transaction) handleEvent(programID types.ProgramID, funcName string) api.GoModuleFunc {
	return func(_ context.Context, mod api.Module, stack []uint64) {
		dataPtr, dataLen := uint32(stack[0]), uint32(stack[1])
		data, ok := mod.Memory().Read(dataPtr, dataLen)
		if !ok {
			panic(wasmerr.New(wasmerr.BadModule, "failed reading starstream_event_* payload"))
		}
		tx.appendLog(types.LogTagEvent, programID, funcName, data, nil)
	}
}

// drainEffects inspects a just-suspended UTXO's yielded type name. An
// ordinary yield (anything not carrying the effect prefix) surfaces to
// the coordination caller untouched; an effect yield is routed to its
// installed handler and the UTXO is transparently resumed with the
// handler's result, repeating until it next yields an ordinary
// suspension or runs to completion.
func (tx *transaction) drainEffects(ui *utxo.UtxoInstance, out []byte) ([]byte, error) {
	for ui.Utxo.State == types.StateYielded {
		name, err := ui.YieldedName()
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(string(name), effectPrefix) {
			tx.appendLog(types.LogTagYield, ui.Utxo.ProgramID, string(name), nil, out)
			return out, nil
		}

		effectName := strings.TrimPrefix(string(name), effectPrefix)
		idx, ok := tx.handlers[effectName]
		if !ok {
			return nil, wasmerr.NewUnhandledEffect(effectName)
		}

		handled, err := tx.invokeHandler(idx, out)
		if err != nil {
			return nil, err
		}

		out, err = ui.Resume(tx.ctx, handled)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// invokeHandler calls the coordination module's well-known
// starstream_invoke_handler trampoline, which performs the actual
// call_indirect against its own __indirect_function_table; the host
// never manipulates a WASM table directly, only the WASM-side
// trampoline the coordination module exports for this purpose.
func (tx *transaction) invokeHandler(tableIdx uint32, payload []byte) ([]byte, error) {
	fn, err := tx.coordInst.Export(handlerInvokeExport)
	if err != nil {
		return nil, err
	}
	mem := tx.coordInst.Memory()
	ptr, err := writeLengthPrefixed(mem, tx.cfg.CoordResultOffset, payload)
	if err != nil {
		return nil, err
	}
	results, err := tx.callGuarded(fn, uint64(tableIdx), uint64(ptr), uint64(len(payload)))
	if err != nil {
		return nil, err
	}
	return readLengthPrefixed(mem, results)
}

// tokenHostFunc dispatches a single starstream_token:{id} import
// declared by a UTXO-role module to mint or burn routing.
func (tx *transaction) tokenHostFunc(mintProgramID types.ProgramID, funcName string, utxoID types.UtxoID) api.GoModuleFunc {
	kind, _ := contractinstance.ClassifyExport(funcName)
	switch kind {
	case contractinstance.ExportMint:
		return tx.handleMint(mintProgramID, funcName, utxoID)
	case contractinstance.ExportBurn:
		return tx.handleBurn(mintProgramID, funcName, utxoID)
	default:
		return func(_ context.Context, _ api.Module, _ []uint64) {
			panic(wasmerr.NewUnknownImport("starstream_token:"+mintProgramID.String(), funcName))
		}
	}
}

func (tx *transaction) handleMint(mintProgramID types.ProgramID, funcName string, utxoID types.UtxoID) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		argsPtr, argsLen := uint32(stack[0]), uint32(stack[1])
		args, ok := mod.Memory().Read(argsPtr, argsLen)
		if !ok {
			panic(wasmerr.New(wasmerr.BadModule, "failed reading starstream_mint_* arguments"))
		}

		inst, err := tx.getOrCreateTokenInstance(ctx, mintProgramID)
		if err != nil {
			panic(err)
		}

		tok, err := token.Mint(ctx, inst, mintProgramID, funcName, args, tx.cfg.Token)
		if err != nil {
			panic(err)
		}

		h := tx.allocateTokenHandle(utxoID, tok)
		tx.resolveIntermediate()
		tx.appendLog(types.LogTagMint, mintProgramID, funcName, args, nil)

		stack[0] = uint64(h)
	}
}

func (tx *transaction) handleBurn(mintProgramID types.ProgramID, funcName string, utxoID types.UtxoID) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		h := types.Handle(uint32(stack[0]))
		argsPtr, argsLen := uint32(stack[1]), uint32(stack[2])
		args, ok := mod.Memory().Read(argsPtr, argsLen)
		if !ok {
			panic(wasmerr.New(wasmerr.BadModule, "failed reading starstream_burn_* arguments"))
		}

		tok, ok := tx.resolveTokenHandle(utxoID, h)
		if !ok {
			panic(wasmerr.NewUnknownHandle(uint32(h)))
		}

		inst, err := tx.getOrCreateTokenInstance(ctx, tok.MintProgramID)
		if err != nil {
			panic(err)
		}

		out, err := token.Burn(ctx, inst, tok, funcName, args, tx.cfg.Token)
		if err != nil {
			panic(err)
		}

		tx.removeTokenHandle(utxoID, h)
		tx.appendLog(types.LogTagBurn, mintProgramID, funcName, args, out)

		stack[0] = uint64(tx.stageUtxoResult(mod, out))
	}
}
