// Package universe is the Universe: the ledger-side authoritative set of
// UTXOs and the commit/rollback boundary a transaction's scheduler writes
// through. It supplies two storage.CAS/scheduler.LedgerStore
// implementations — a Badger-backed one for a running node and an
// in-memory one for tests — built against the same persisted-record
// codec so either backend round-trips a *types.Utxo identically.
package universe

import (
	"encoding/binary"
	"fmt"

	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
	"github.com/weisyn-labs/ledgerhost/pkg/types"
)

// encodeUtxo serializes a durable UTXO record: program id (32 bytes),
// a length-prefixed entry point name, the lifecycle state (1 byte),
// length-prefixed archived memory, the archived suspension (presence
// byte plus eight words), and a length-prefixed token list. Fields are
// fixed-width or length-prefixed throughout so the encoding needs no
// separator bytes and decodes in one linear pass.
func encodeUtxo(u *types.Utxo) []byte {
	buf := make([]byte, 0, 32+4+len(u.EntryPoint)+1+4+len(u.ArchivedMemory)+1+32+4)

	buf = append(buf, u.ProgramID[:]...)
	buf = appendLengthPrefixed(buf, []byte(u.EntryPoint))
	buf = append(buf, byte(u.State))
	buf = appendLengthPrefixed(buf, u.ArchivedMemory)

	if s := u.Suspension; s != nil {
		buf = append(buf, 1)
		words := make([]byte, 32)
		for i, w := range []uint32{s.NamePtr, s.NameLen, s.DataPtr, s.DataLen, s.ResumePtr, s.ResumeLen, s.ArgsPtr, s.ArgsLen} {
			binary.LittleEndian.PutUint32(words[i*4:], w)
		}
		buf = append(buf, words...)
	} else {
		buf = append(buf, 0)
	}

	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(u.Tokens)))
	buf = append(buf, countBuf...)
	for _, tok := range u.Tokens {
		buf = append(buf, tok.MintProgramID[:]...)
		buf = appendLengthPrefixed(buf, []byte(tok.BurnFuncName))
		idAmount := make([]byte, 16)
		binary.LittleEndian.PutUint64(idAmount[0:8], tok.ID)
		binary.LittleEndian.PutUint64(idAmount[8:16], tok.Amount)
		buf = append(buf, idAmount...)
	}
	return buf
}

// decodeUtxo is encodeUtxo's inverse. id is not itself encoded (it is the
// storage key), so the caller supplies it.
func decodeUtxo(id types.UtxoID, raw []byte) (*types.Utxo, error) {
	r := &reader{buf: raw}

	u := &types.Utxo{ID: id}
	if err := r.readFixed(u.ProgramID[:]); err != nil {
		return nil, err
	}
	entryPoint, err := r.readLengthPrefixed()
	if err != nil {
		return nil, err
	}
	u.EntryPoint = string(entryPoint)

	state, err := r.readByte()
	if err != nil {
		return nil, err
	}
	u.State = types.UtxoState(state)

	archived, err := r.readLengthPrefixed()
	if err != nil {
		return nil, err
	}
	if len(archived) > 0 {
		u.ArchivedMemory = archived
	}

	hasSuspension, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if hasSuspension != 0 {
		words, err := r.readFixedN(32)
		if err != nil {
			return nil, err
		}
		w := func(i int) uint32 { return binary.LittleEndian.Uint32(words[i*4:]) }
		u.Suspension = &types.SuspendedCall{
			NamePtr: w(0), NameLen: w(1),
			DataPtr: w(2), DataLen: w(3),
			ResumePtr: w(4), ResumeLen: w(5),
			ArgsPtr: w(6), ArgsLen: w(7),
		}
	}

	count, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	u.Tokens = make([]types.Token, 0, count)
	for i := uint32(0); i < count; i++ {
		var tok types.Token
		if err := r.readFixed(tok.MintProgramID[:]); err != nil {
			return nil, err
		}
		burnFuncName, err := r.readLengthPrefixed()
		if err != nil {
			return nil, err
		}
		tok.BurnFuncName = string(burnFuncName)
		idAmount, err := r.readFixedN(16)
		if err != nil {
			return nil, err
		}
		tok.ID = binary.LittleEndian.Uint64(idAmount[0:8])
		tok.Amount = binary.LittleEndian.Uint64(idAmount[8:16])
		u.Tokens = append(u.Tokens, tok)
	}

	return u, nil
}

func appendLengthPrefixed(buf, data []byte) []byte {
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(data)))
	buf = append(buf, lenBuf...)
	return append(buf, data...)
}

// reader walks a byte slice left to right, failing BadModule on
// truncation rather than panicking on a short slice.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) readFixedN(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, wasmerr.New(wasmerr.BadModule, fmt.Sprintf("truncated universe record: need %d bytes at offset %d, have %d", n, r.pos, len(r.buf)))
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) readFixed(dst []byte) error {
	raw, err := r.readFixedN(len(dst))
	if err != nil {
		return err
	}
	copy(dst, raw)
	return nil
}

func (r *reader) readByte() (byte, error) {
	raw, err := r.readFixedN(1)
	if err != nil {
		return 0, err
	}
	return raw[0], nil
}

func (r *reader) readUint32() (uint32, error) {
	raw, err := r.readFixedN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw), nil
}

func (r *reader) readLengthPrefixed() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	raw, err := r.readFixedN(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, raw)
	return out, nil
}
