package contractinstance

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/weisyn-labs/ledgerhost/internal/contractcode"
	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/interfaces/infrastructure/log"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// ImportSet supplies the real host functions a caller wants bound for a
// given import module name, keyed funcName -> host function. An entry is
// either a Go closure, whose WASM signature wazero infers from its
// reflected Go signature (so it must exactly match the shape the contract
// imports), or a raw api.GoModuleFunc, which is bound with the signature
// the contract declares for that import.
type ImportSet map[string]map[string]interface{}

// Instance is a live instantiation of ContractCode fixed to one role.
type Instance struct {
	Role   types.Role
	Code   *contractcode.ContractCode
	Module api.Module

	// hostModules are the import modules Instantiate registered for this
	// instance; Close releases them so their names can be registered again.
	hostModules []api.Module
}

// Instantiate binds cc's compiled module against the given role and
// imports, registering trap stubs for every import module the role does
// not permit. name must be unique within runtime for the
// lifetime of this instance, since wazero keys instantiated modules by
// name.
func Instantiate(ctx context.Context, runtime wazero.Runtime, cc *contractcode.ContractCode, role types.Role, imports ImportSet, name string, logger log.Logger) (*Instance, error) {
	var hostModules []api.Module
	requiredModules := make(map[string][]api.FunctionDefinition)
	for _, def := range cc.Compiled.ImportedFunctions() {
		moduleName, _, ok := def.Import()
		if !ok {
			continue
		}
		requiredModules[moduleName] = append(requiredModules[moduleName], def)
	}

	for moduleName, defs := range requiredModules {
		kind, _, ok := ClassifyModule(moduleName)
		if !ok {
			_, firstFuncName, _ := defs[0].Import()
			return nil, wasmerr.NewUnknownImport(moduleName, firstFuncName)
		}

		builder := runtime.NewHostModuleBuilder(moduleName)
		allowed := AllowedForRole(kind, role)

		for _, def := range defs {
			_, funcName, _ := def.Import()
			if !allowed {
				registerTrap(builder, def, funcName, wasmerr.NewWrongContext(moduleName+"."+funcName, role))
				continue
			}

			fn, ok := imports[moduleName][funcName]
			if !ok {
				registerTrap(builder, def, funcName, wasmerr.NewUnknownImport(moduleName, funcName))
				continue
			}

			// A caller may supply either a concretely-typed closure (wazero
			// infers the WASM signature by reflection; used for env's and
			// starstream_utxo_env's fixed, host-authored signatures) or a
			// raw api.GoModuleFunc (used by the scheduler's routing layer,
			// whose functions' arity is whatever the contract declared).
			if raw, ok := fn.(api.GoModuleFunc); ok {
				builder.NewFunctionBuilder().
					WithGoModuleFunction(raw, def.ParamTypes(), def.ResultTypes()).
					Export(funcName)
				continue
			}
			builder.NewFunctionBuilder().WithFunc(fn).Export(funcName)
		}

		hostMod, err := builder.Instantiate(ctx)
		if err != nil {
			return nil, fmt.Errorf("instantiating host module %q: %w", moduleName, err)
		}
		hostModules = append(hostModules, hostMod)
	}

	mod, err := runtime.InstantiateModule(ctx, cc.Compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, wasmerr.NewTrap(err)
	}

	inst := &Instance{Role: role, Code: cc, Module: mod, hostModules: hostModules}
	if logger != nil {
		logger.Debugf("instantiated %s as %s (%d import modules)", cc.ID, role, len(requiredModules))
	}
	return inst, nil
}

// registerTrap exports a stand-in for funcName whose only behavior is to
// panic with err. wazero recovers a host function's panic and surfaces it
// as the error from the outer call (unwrappable back to err via
// errors.As), which is what drives "fails with WrongContext when
// invoked" at call time rather than at link time.
func registerTrap(builder wazero.HostModuleBuilder, def api.FunctionDefinition, funcName string, err *wasmerr.Error) {
	stub := api.GoModuleFunc(func(_ context.Context, _ api.Module, _ []uint64) {
		panic(err)
	})
	builder.NewFunctionBuilder().
		WithGoModuleFunction(stub, def.ParamTypes(), def.ResultTypes()).
		Export(funcName)
}

// Close releases the instance's module and the host import modules
// registered for it, but not the ContractCode it was compiled from (that
// belongs to the registry).
func (inst *Instance) Close(ctx context.Context) error {
	var err error
	if inst.Module != nil {
		err = inst.Module.Close(ctx)
	}
	for _, hm := range inst.hostModules {
		if cerr := hm.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	inst.hostModules = nil
	return err
}

// Memory returns the instance's linear memory, or nil if the module
// declares none.
func (inst *Instance) Memory() api.Memory {
	return inst.Module.Memory()
}

// Export looks up an exported function by name, returning a *wasmerr.Error
// when absent.
func (inst *Instance) Export(name string) (api.Function, error) {
	fn := inst.Module.ExportedFunction(name)
	if fn == nil {
		return nil, wasmerr.New(wasmerr.BadModule, "missing expected export "+name)
	}
	return fn, nil
}
