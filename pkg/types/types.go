// Package types defines the data model shared by every layer of the host:
// program identity, coroutine handles, token records, and transaction log
// entries. None of these types know how to execute WebAssembly; they are
// the nouns the rest of the module operates on.
package types

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// ProgramID is the 32-byte SHA-256 digest of a contract module's
// canonical WebAssembly bytes. It is both the verification key and the
// storage key used by the ContractCode registry and the Universe.
type ProgramID [32]byte

// ComputeProgramID hashes raw module bytes into their program id.
func ComputeProgramID(bytes []byte) ProgramID {
	return ProgramID(sha256.Sum256(bytes))
}

func (id ProgramID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value (never a valid program id,
// since SHA-256 of any input is overwhelmingly unlikely to be all-zero).
func (id ProgramID) IsZero() bool {
	return id == ProgramID{}
}

// Role is the import-surface discipline a contract instance is bound to.
// A single module may contain entry points for more than one role; the role
// of a given instance is fixed at instantiation time by which entry point
// is invoked.
type Role int

const (
	// RoleCoordination runs a transaction's driver script to completion.
	RoleCoordination Role = iota
	// RoleUtxo is a suspend/resume-capable coroutine instance.
	RoleUtxo
	// RoleTokenMint is a transient instance used only for a single mint or
	// burn call.
	RoleTokenMint
)

func (r Role) String() string {
	switch r {
	case RoleCoordination:
		return "coordination"
	case RoleUtxo:
		return "utxo"
	case RoleTokenMint:
		return "token-mint"
	default:
		return "unknown-role"
	}
}

// Handle names a UTXO visible within one coordination call. Handles are
// drawn from the configured handle space (default [1, 2^30]) and are
// meaningless outside the transaction that minted them.
type Handle uint32

// UtxoState is the lifecycle state machine of a UTXO activation.
type UtxoState int

const (
	// StateNotStarted means the UTXO has been allocated but start() has not
	// yet been invoked.
	StateNotStarted UtxoState = iota
	// StateYielded means the UTXO is suspended at a yield point and can be
	// resumed, queried, mutated, or consumed.
	StateYielded
	// StateReturned is terminal: the UTXO's entry point ran to completion
	// without ever yielding, or returned after being resumed.
	StateReturned
	// StateConsumed is terminal: a consume call has run against the UTXO.
	StateConsumed
)

func (s UtxoState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateYielded:
		return "yielded"
	case StateReturned:
		return "returned"
	case StateConsumed:
		return "consumed"
	default:
		return "unknown_state"
	}
}

// IsAlive reports whether a UTXO in this state is still part of the live
// set (neither returned nor consumed).
func (s UtxoState) IsAlive() bool {
	return s != StateReturned && s != StateConsumed
}

// AsyncifyState mirrors wazero's observed value of the instrumented
// module's `asyncify_get_state` export.
type AsyncifyState uint32

const (
	AsyncifyNormal AsyncifyState = 0
	AsyncifyUnwind AsyncifyState = 1
	AsyncifyRewind AsyncifyState = 2
)

// Token is a record of a minted value attached to exactly one UTXO at a
// time. Tokens are created only by a token-mint instance invoked from a
// UTXO context and destroyed only by the matching burn function invoked
// from the same UTXO context.
type Token struct {
	// MintProgramID is the program id of the contract that minted this
	// token (and whose burn function must be invoked to destroy it).
	MintProgramID ProgramID
	// BurnFuncName is the export name of the matching burn function
	// (`starstream_burn_*`), recorded so a later burn can validate
	// BurnFnMismatch.
	BurnFuncName string
	// ID and Amount are the canonical (u64, u64) storage pair read from
	// the token-mint instance's linear memory at the fixed return offset.
	ID     uint64
	Amount uint64
}

// UtxoID is a UTXO's durable identity, stable across transactions and
// across load/unload, distinct from the ephemeral per-transaction Handle
// that names it within a single coordination call.
type UtxoID uuid.UUID

// NewUtxoID mints a fresh durable UTXO identity.
func NewUtxoID() UtxoID {
	return UtxoID(uuid.New())
}

func (id UtxoID) String() string {
	return uuid.UUID(id).String()
}

// SuspendedCall archives the activation-side state a yielded UTXO needs
// to be resumable after its memory is paged out: the three views its
// last yield captured (all offsets into the archived linear memory) and
// the argument window its entry point was originally invoked with, which
// a resume re-invokes the entry point against.
type SuspendedCall struct {
	NamePtr, NameLen     uint32
	DataPtr, DataLen     uint32
	ResumePtr, ResumeLen uint32
	ArgsPtr, ArgsLen     uint32
}

// Utxo is the durable ledger record: the code it runs, its
// entry point, its attached tokens, and its lifecycle state. When State
// is alive and the UTXO is unloaded, ArchivedMemory holds its linear
// memory bytes and Suspension the yield it is parked at; when loaded,
// both are nil and that state lives in the corresponding UtxoInstance
// instead (never both, per the loaded-xor-archived invariant).
type Utxo struct {
	ID             UtxoID
	ProgramID      ProgramID
	EntryPoint     string
	Tokens         []Token
	State          UtxoState
	ArchivedMemory []byte
	Suspension     *SuspendedCall
}

// IsAlive reports whether the UTXO is part of the live set.
func (u *Utxo) IsAlive() bool {
	return u.State.IsAlive()
}

// LogTag classifies a TransactionLogEntry by the kind of host-mediated
// exchange it records.
type LogTag string

const (
	LogTagResume  LogTag = "resume"
	LogTagYield   LogTag = "yield"
	LogTagNew     LogTag = "new"
	LogTagQuery   LogTag = "query"
	LogTagMutate  LogTag = "mutate"
	LogTagConsume LogTag = "consume"
	LogTagMint    LogTag = "mint"
	LogTagBurn    LogTag = "burn"
	LogTagEvent   LogTag = "event"
)

// TransactionLogEntry is one observable host-mediated exchange, appended in
// program order. The log as a whole is what an external interleaving proof
// binds to; the host never reorders or drops entries once appended.
type TransactionLogEntry struct {
	Tag           LogTag
	ProgramID     ProgramID
	OperationName string
	Input         []byte
	Output        []byte
}
