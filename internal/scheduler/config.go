package scheduler

import (
	"time"

	"github.com/weisyn-labs/ledgerhost/internal/token"
	"github.com/weisyn-labs/ledgerhost/internal/utxo"
)

// Config gathers the scheduler's tunable knobs:
// the asyncify stack save region (shared with every UtxoInstance it
// creates), the handle space, the scratch offset used to stage results
// back into the coordination instance's own memory, and an optional
// per-call execution timeout applied as a context deadline around every
// WASM export invocation.
type Config struct {
	Utxo  utxo.Config
	Token token.Config

	// CoordArgsOffset is where the scheduler stages the transaction
	// entry point's argument bytes in the coordination instance's own
	// linear memory before invoking it.
	CoordArgsOffset uint32

	// CoordResultOffset is where the scheduler stages length-prefixed
	// result bytes in the coordination instance's own linear memory
	// before returning a pointer to the caller, mirroring the
	// ArgsOffset convention utxo.Config and token.Config already use.
	CoordResultOffset uint32

	// TokenResultRelayOffset is where a burn call's intermediate payload
	// is relayed back into the requesting UTXO's own linear memory, so
	// that UTXO's code can read it through the same length-prefixed
	// pointer convention its own exports use.
	TokenResultRelayOffset uint32

	// HandleSpaceMax is the upper bound of the random handle space
	// ([1, HandleSpaceMax]) for both UTXO and token handles. Zero means
	// the default of 1<<30.
	HandleSpaceMax uint32

	// ExecutionTimeout bounds a single WASM export call. Zero disables
	// the deadline. This is an ambient operational concern, not
	// part of the coroutine protocol.
	ExecutionTimeout time.Duration
}

// DefaultConfig returns sensible defaults for local execution and tests.
func DefaultConfig() Config {
	return Config{
		Utxo:                   utxo.DefaultConfig(),
		Token:                  token.DefaultConfig(),
		CoordArgsOffset:        65536,
		CoordResultOffset:      65536 + 8192,
		TokenResultRelayOffset: 65536 + 12288,
		HandleSpaceMax:         1 << 30,
		ExecutionTimeout:       0,
	}
}
