package scheduler

import (
	"encoding/binary"

	"github.com/tetratelabs/wazero/api"

	"github.com/weisyn-labs/ledgerhost/internal/wasmerr"
)

// growIfNeeded grows mem so that offset+length is addressable, mirroring
// the same grow-on-demand idiom internal/utxo and internal/token already
// use for their own scratch regions.
func growIfNeeded(mem api.Memory, offset, length uint32) error {
	needed := offset + length
	if mem.Size() >= needed {
		return nil
	}
	pages := (needed - mem.Size() + 65535) / 65536
	if _, ok := mem.Grow(pages); !ok {
		return wasmerr.New(wasmerr.BadModule, "failed to grow memory for scheduler scratch region")
	}
	return nil
}

// writeLengthPrefixed stages data as a 4-byte little-endian length
// followed by the bytes themselves at offset, returning offset as the
// pointer a caller should hand back to WASM.
func writeLengthPrefixed(mem api.Memory, offset uint32, data []byte) (uint32, error) {
	header := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(data)))
	copy(header[4:], data)
	if err := growIfNeeded(mem, offset, uint32(len(header))); err != nil {
		return 0, err
	}
	if !mem.Write(offset, header) {
		return 0, wasmerr.New(wasmerr.BadModule, "failed writing length-prefixed result")
	}
	return offset, nil
}

// readLengthPrefixed reads back a result an export produced through the
// same length-prefixed-pointer convention internal/utxo and
// internal/token already use for their own entry points.
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
		return nil, wasmerr.New(wasmerr.BadModule, "failed reading result length prefix")
	}
	n := binary.LittleEndian.Uint32(lenBytes)
	if n == 0 {
		return nil, nil
	}
	out, ok := mem.Read(ptr+4, n)
	if !ok {
		return nil, wasmerr.New(wasmerr.BadModule, "failed reading result payload")
	}
	return out, nil
}
