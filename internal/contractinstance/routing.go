// Package contractinstance instantiates compiled ContractCode under a
// fixed role (coordination, UTXO, or token-mint) and enforces the import
// routing table: every import a module declares is classified by
// its module-name prefix, and anything the active role does not permit is
// bound to a trap stub instead of a real host function.
package contractinstance

import (
	"strings"

	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// ModuleKind is the classification of an import's module name.
type ModuleKind int

const (
	// ModuleEnv is the "env" prefix: permitted from every role.
	ModuleEnv ModuleKind = iota
	// ModuleUtxoEnv is "starstream_utxo_env": the yield suspension
	// import, permitted only inside a UTXO-role instance.
	ModuleUtxoEnv
	// ModuleUtxoRouting is "starstream_utxo:{program-id}": coordination-only
	// UTXO lifecycle operations (new/resume/query/mutate/consume/...).
	ModuleUtxoRouting
	// ModuleTokenRouting is "starstream_token:{program-id}": UTXO-only
	// mint/burn operations.
	ModuleTokenRouting
)

const (
	envModule        = "env"
	utxoEnvModule    = "starstream_utxo_env"
	utxoRoutingPfx   = "starstream_utxo:"
	tokenRoutingPfx  = "starstream_token:"
)

// ClassifyModule determines the ModuleKind of an import's module name and
// extracts the target program id suffix for the routing prefixes that
// carry one. ok is false when the module name matches none of the
// recognized prefixes (UnknownImport).
func ClassifyModule(moduleName string) (kind ModuleKind, idSuffix string, ok bool) {
	switch {
	case moduleName == envModule:
		return ModuleEnv, "", true
	case moduleName == utxoEnvModule:
		return ModuleUtxoEnv, "", true
	case strings.HasPrefix(moduleName, utxoRoutingPfx):
		return ModuleUtxoRouting, strings.TrimPrefix(moduleName, utxoRoutingPfx), true
	case strings.HasPrefix(moduleName, tokenRoutingPfx):
		return ModuleTokenRouting, strings.TrimPrefix(moduleName, tokenRoutingPfx), true
	default:
		return 0, "", false
	}
}

// AllowedForRole reports whether imports of the given ModuleKind may be
// invoked from an instance running in role.
func AllowedForRole(kind ModuleKind, role types.Role) bool {
	switch kind {
	case ModuleEnv:
		return true
	case ModuleUtxoEnv:
		return role == types.RoleUtxo
	case ModuleUtxoRouting:
		return role == types.RoleCoordination
	case ModuleTokenRouting:
		return role == types.RoleUtxo
	default:
		return false
	}
}

// ExportKind classifies an exported function name by its
// starstream_* prefix, used by UtxoInstance and the scheduler to decide
// how to call it.
type ExportKind int

const (
	ExportUnknown ExportKind = iota
	ExportNew
	ExportResume
	ExportQuery
	ExportMutate
	ExportConsume
	ExportStatus
	ExportMint
	ExportBurn
	ExportEvent
	ExportHandle
)

var exportPrefixes = []struct {
	prefix string
	kind   ExportKind
}{
	{"starstream_new_", ExportNew},
	{"starstream_resume_", ExportResume},
	{"starstream_query_", ExportQuery},
	{"starstream_mutate_", ExportMutate},
	{"starstream_consume_", ExportConsume},
	{"starstream_status_", ExportStatus},
	{"starstream_mint_", ExportMint},
	{"starstream_burn_", ExportBurn},
	{"starstream_event_", ExportEvent},
	{"starstream_handle_", ExportHandle},
}

// ClassifyExport returns the ExportKind of an exported function name and
// the suffix identifying which program/entry point it belongs to.
func ClassifyExport(name string) (kind ExportKind, suffix string) {
	for _, p := range exportPrefixes {
		if strings.HasPrefix(name, p.prefix) {
			return p.kind, strings.TrimPrefix(name, p.prefix)
		}
	}
	return ExportUnknown, ""
}
