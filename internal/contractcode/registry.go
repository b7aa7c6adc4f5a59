// Package contractcode is the ContractCode registry: it turns raw WASM
// bytes into a compiled, content-addressed module that ContractInstance can
// instantiate, and it owns the process-wide wazero.Runtime every compiled
// module belongs to.
package contractcode

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/interfaces/infrastructure/log"
	"github.com/weisyn-labs/ledgerhost/pkg/interfaces/infrastructure/storage"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// Config controls how the registry's wazero.Runtime is constructed.
type Config struct {
	// UseCompiler selects wazero's ahead-of-time compiler over its
	// interpreter. Compiler mode is the default; interpreter mode exists
	// for environments where the compiler's platform support is missing.
	UseCompiler bool

	// EnableWASI instantiates wasi_snapshot_preview1 alongside every
	// contract module. Contract code compiled from a wasip1 toolchain
	// needs it; a bare freestanding module does not.
	EnableWASI bool
}

// DefaultConfig matches what the host needs for ordinary contract code:
// compiler mode, WASI available.
func DefaultConfig() *Config {
	return &Config{UseCompiler: true, EnableWASI: true}
}

// ContractCode is a compiled, content-addressed WASM module together with
// the raw bytes it was compiled from.
type ContractCode struct {
	ID       types.ProgramID
	Bytes    []byte
	Compiled wazero.CompiledModule

	// asyncified is the verified suspend-capable variant of this code,
	// set by Registry.Asyncified on first use. It points back to the
	// receiver when the Asyncifier left the bytes unchanged, and to a
	// separately compiled ContractCode (same ID, transformed bytes)
	// when it rewrote them.
	asyncified *ContractCode
}

// Registry loads, compiles, and caches ContractCode by program id. It is
// safe for concurrent use by multiple transactions.
type Registry struct {
	logger log.Logger

	runtime    wazero.Runtime
	asyncifier Asyncifier
	provider   storage.CAS

	mu      sync.RWMutex
	byID    map[types.ProgramID]*ContractCode
}

// NewRegistry constructs a Registry. provider is the external byte store
// Resolve falls back to when a program id has not been Load-ed directly;
// it may be nil if the host only ever loads bytes it already has in hand.
// asyncifier may be nil, in which case NewValidatingAsyncifier() is used.
func NewRegistry(cfg *Config, provider storage.CAS, asyncifier Asyncifier, logger log.Logger) (*Registry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if asyncifier == nil {
		asyncifier = NewValidatingAsyncifier()
	}

	ctx := context.Background()
	var rt wazero.Runtime
	if cfg.UseCompiler {
		rt = wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCompilationCache(wazero.NewCompilationCache()).WithCloseOnContextDone(true))
	} else {
		rt = wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter().WithCloseOnContextDone(true))
	}

	if cfg.EnableWASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			return nil, fmt.Errorf("instantiating wasi_snapshot_preview1: %w", err)
		}
	}

	return &Registry{
		logger:     logger,
		runtime:    rt,
		asyncifier: asyncifier,
		provider:   provider,
		byID:       make(map[types.ProgramID]*ContractCode),
	}, nil
}

// Runtime exposes the underlying wazero.Runtime so ContractInstance can
// build host modules and instantiate compiled code against it.
func (reg *Registry) Runtime() wazero.Runtime { return reg.runtime }

// Close releases the wazero runtime and every module compiled against it.
func (reg *Registry) Close(ctx context.Context) error {
	return reg.runtime.Close(ctx)
}

// Load compiles wasmBytes, registers it under its content-derived program
// id, and returns it. Loading the same bytes twice returns the cached
// ContractCode rather than compiling a second time.
func (reg *Registry) Load(ctx context.Context, wasmBytes []byte) (*ContractCode, error) {
	id := types.ComputeProgramID(wasmBytes)

	reg.mu.RLock()
	if cc, ok := reg.byID[id]; ok {
		reg.mu.RUnlock()
		return cc, nil
	}
	reg.mu.RUnlock()

	compiled, err := reg.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, wasmerr.NewBadModule(err, "wazero rejected the module")
	}

	cc := &ContractCode{ID: id, Bytes: wasmBytes, Compiled: compiled}

	reg.mu.Lock()
	if existing, ok := reg.byID[id]; ok {
		reg.mu.Unlock()
		compiled.Close(ctx)
		return existing, nil
	}
	reg.byID[id] = cc
	reg.mu.Unlock()

	if reg.logger != nil {
		reg.logger.Debugf("compiled contract code %s (%d bytes, %d imports)", id, len(wasmBytes), len(compiled.ImportedFunctions()))
	}

	return cc, nil
}

// Get returns already-loaded ContractCode by program id, without
// consulting the external byte provider.
func (reg *Registry) Get(id types.ProgramID) (*ContractCode, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	cc, ok := reg.byID[id]
	if !ok {
		return nil, wasmerr.NewUnknownCode(id)
	}
	return cc, nil
}

// Resolve returns ContractCode for id, falling back to the external CAS
// byte provider and compiling on demand when it is not already loaded.
func (reg *Registry) Resolve(ctx context.Context, id types.ProgramID) (*ContractCode, error) {
	if cc, err := reg.Get(id); err == nil {
		return cc, nil
	}
	if reg.provider == nil {
		return nil, wasmerr.NewUnknownCode(id)
	}

	idBytes := id
	wasmBytes, err := reg.provider.Get(ctx, idBytes[:])
	if err != nil {
		return nil, wasmerr.NewUnknownCode(id).WithContext("cause", err.Error())
	}

	cc, err := reg.Load(ctx, wasmBytes)
	if err != nil {
		return nil, err
	}
	if cc.ID != id {
		// The byte provider handed back content that doesn't hash to the
		// id it was asked for; treat as an unresolvable program rather
		// than silently substituting the wrong code.
		return nil, wasmerr.NewUnknownCode(id).WithContext("provider_hash", cc.ID.String())
	}
	return cc, nil
}

// Asyncified resolves id and returns the suspend-capable variant of its
// code: the Asyncifier is applied to the canonical bytes, a rewriting
// transform's output is compiled in its own right, and the module that
// will actually be instantiated is verified to expose the asyncify_*
// export family a suspendable UTXO needs. The variant is produced once
// per ContractCode and cached on it afterward (still addressed by the
// canonical program id), so repeated calls for the same program id are
// idempotent and free.
func (reg *Registry) Asyncified(ctx context.Context, id types.ProgramID) (*ContractCode, error) {
	cc, err := reg.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	reg.mu.RLock()
	cached := cc.asyncified
	reg.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	transformed, err := reg.asyncifier.Transform(ctx, cc.Bytes)
	if err != nil {
		return nil, wasmerr.NewBadModule(err, "asyncify transform failed")
	}

	variant := cc
	if !bytes.Equal(transformed, cc.Bytes) {
		compiled, err := reg.runtime.CompileModule(ctx, transformed)
		if err != nil {
			return nil, wasmerr.NewBadModule(err, "wazero rejected the asyncified bytes")
		}
		variant = &ContractCode{ID: cc.ID, Bytes: transformed, Compiled: compiled}
	}

	if err := verifyAsyncifyExports(variant.Compiled); err != nil {
		if variant != cc {
			variant.Compiled.Close(ctx)
		}
		return nil, err
	}

	reg.mu.Lock()
	if existing := cc.asyncified; existing != nil {
		reg.mu.Unlock()
		if variant != cc {
			variant.Compiled.Close(ctx)
		}
		return existing, nil
	}
	cc.asyncified = variant
	reg.mu.Unlock()

	if variant != cc && reg.logger != nil {
		reg.logger.Debugf("compiled asyncified variant of %s (%d bytes)", cc.ID, len(transformed))
	}

	return variant, nil
}

var requiredAsyncifyExports = []string{
	"asyncify_get_state",
	"asyncify_start_unwind",
	"asyncify_stop_unwind",
	"asyncify_start_rewind",
	"asyncify_stop_rewind",
}

func verifyAsyncifyExports(compiled wazero.CompiledModule) error {
	exported := compiled.ExportedFunctions()
	for _, name := range requiredAsyncifyExports {
		if _, ok := exported[name]; !ok {
			return wasmerr.NewBadModule(nil, "module is missing required export "+name+" for UTXO use")
		}
	}
	return nil
}
