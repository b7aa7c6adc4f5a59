// Package token implements mint/burn mechanics: invoking a
// transient token-mint contract instance, reading the canonical (id,
// amount) pair it produces, and enforcing that a burn's function suffix
// matches the mint that created the token it destroys.
package token

import (
	"context"
	"encoding/binary"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/weisyn-labs/ledgerhost/internal/contractinstance"
	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// Config controls where mint/burn calls stage arguments and where the
// canonical (id, amount) pair is read back from, mirroring utxo.Config's
// host-chosen-scratch-offset approach since the contract-language calling
// convention is otherwise unspecified beyond the token's (id, amount)
// pair shape.
type Config struct {
	ArgsOffset   uint32
	ReturnOffset uint32
}

// DefaultConfig picks scratch offsets well clear of a typical small
// contract's static data.
func DefaultConfig() Config {
	return Config{ArgsOffset: 65536, ReturnOffset: 65536 + 4096}
}

const mintPrefix = "starstream_mint_"
const burnPrefix = "starstream_burn_"

// Mint invokes mintFuncName on inst (an already-instantiated
// RoleTokenMint ContractInstance) and returns the Token it produced.
// mintProgramID identifies the token-mint contract for the resulting
// Token record.
func Mint(ctx context.Context, inst *contractinstance.Instance, mintProgramID types.ProgramID, mintFuncName string, args []byte, cfg Config) (types.Token, error) {
	if !strings.HasPrefix(mintFuncName, mintPrefix) {
		return types.Token{}, wasmerr.New(wasmerr.BadModule, "mint function name missing starstream_mint_ prefix: "+mintFuncName)
	}

	if err := writeArgs(inst, cfg.ArgsOffset, args); err != nil {
		return types.Token{}, err
	}

	fn, err := inst.Export(mintFuncName)
	if err != nil {
		return types.Token{}, err
	}
	if _, err := fn.Call(ctx, uint64(cfg.ArgsOffset), uint64(len(args))); err != nil {
		return types.Token{}, wasmerr.NewTrap(err)
	}

	id, amount, err := readIDAmount(inst.Memory(), cfg.ReturnOffset)
	if err != nil {
		return types.Token{}, err
	}

	suffix := strings.TrimPrefix(mintFuncName, mintPrefix)
	return types.Token{
		MintProgramID: mintProgramID,
		BurnFuncName:  burnPrefix + suffix,
		ID:            id,
		Amount:        amount,
	}, nil
}

// Burn invokes the burn function matching tok on inst (an
// already-instantiated RoleTokenMint ContractInstance for tok's minting
// program) and returns the intermediate payload bytes. burnFuncName must
// equal tok.BurnFuncName exactly — a mismatched suffix fails with
// BurnFnMismatch rather than silently invoking the wrong function.
func Burn(ctx context.Context, inst *contractinstance.Instance, tok types.Token, burnFuncName string, args []byte, cfg Config) ([]byte, error) {
	if burnFuncName != tok.BurnFuncName {
		wantSuffix := strings.TrimPrefix(tok.BurnFuncName, burnPrefix)
		gotSuffix := strings.TrimPrefix(burnFuncName, burnPrefix)
		return nil, wasmerr.NewBurnFnMismatch(wantSuffix, gotSuffix)
	}

	if err := writeArgs(inst, cfg.ArgsOffset, args); err != nil {
		return nil, err
	}

	fn, err := inst.Export(burnFuncName)
	if err != nil {
		return nil, err
	}
	results, err := fn.Call(ctx, uint64(cfg.ArgsOffset), uint64(len(args)))
	if err != nil {
		return nil, wasmerr.NewTrap(err)
	}

	return readLengthPrefixed(inst.Memory(), results)
}

func writeArgs(inst *contractinstance.Instance, offset uint32, args []byte) error {
	if len(args) == 0 {
		return nil
	}
	mem := inst.Memory()
	if mem.Size() < offset+uint32(len(args)) {
		pages := (offset + uint32(len(args)) - mem.Size() + 65535) / 65536
		if _, ok := mem.Grow(pages); !ok {
			return wasmerr.New(wasmerr.BadModule, "failed to grow memory while staging token call arguments")
		}
	}
	if !mem.Write(offset, args) {
		return wasmerr.New(wasmerr.BadModule, "failed writing token call arguments")
	}
	return nil
}

func readIDAmount(mem api.Memory, offset uint32) (id, amount uint64, err error) {
	raw, ok := mem.Read(offset, 16)
	if !ok {
		return 0, 0, wasmerr.New(wasmerr.BadModule, "failed reading token (id, amount) return pair")
	}
	return binary.LittleEndian.Uint64(raw[0:8]), binary.LittleEndian.Uint64(raw[8:16]), nil
}

func readLengthPrefixed(mem api.Memory, results []uint64) ([]byte, error) {
	if len(results) == 0 {
		return nil, nil
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return nil, nil
	}
	lenBytes, ok := mem.Read(ptr, 4)
	if !ok {
		return nil, wasmerr.New(wasmerr.BadModule, "failed reading burn intermediate length prefix")
	}
	n := binary.LittleEndian.Uint32(lenBytes)
	if n == 0 {
		return nil, nil
	}
	out, ok := mem.Read(ptr+4, n)
	if !ok {
		return nil, wasmerr.New(wasmerr.BadModule, "failed reading burn intermediate payload")
	}
	return out, nil
}
