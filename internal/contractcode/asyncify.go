package contractcode

import "context"

// Asyncifier is the pluggable transform Registry.Asyncified applies
// before it will let a module host a UTXO instance. A rewriting
// implementation (e.g. one shelling out to Binaryen's asyncify pass)
// returns new bytes, which the registry compiles and hands to UTXO
// instantiation in place of the originals. The default expects contract
// authors to compile with asyncify already applied: it returns the
// bytes unchanged and the registry only validates the well-known
// exports are present.
type Asyncifier interface {
	// Transform returns the bytes to validate and compile against the
	// asyncify_* export requirement. A pass-through implementation
	// returns wasmBytes unchanged.
	Transform(ctx context.Context, wasmBytes []byte) ([]byte, error)
}

// validatingAsyncifier is the default Asyncifier: it performs no
// rewriting and defers entirely to verifyAsyncifyExports to reject
// modules that were not pre-instrumented.
type validatingAsyncifier struct{}

// NewValidatingAsyncifier returns the default Asyncifier.
func NewValidatingAsyncifier() Asyncifier { return validatingAsyncifier{} }

func (validatingAsyncifier) Transform(_ context.Context, wasmBytes []byte) ([]byte, error) {
	return wasmBytes, nil
}
