// Package wasmtest hand-assembles minimal WebAssembly binaries at the byte
// level for the lower-layer unit tests, the same technique
// contractcode's own registry_test.go uses for its bare fixture module,
// factored into a small encoder since the fixtures here need real function
// bodies, a mutable global, and import module names built from a program
// id only known at test time (the SHA-256 of another fixture's bytes).
// There is no WASM toolchain involved anywhere in this package.
package wasmtest

const valI32 = 0x7F

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// sleb encodes a signed LEB128 value. Every constant this package emits
// fits in [0,63] so a single byte always suffices, but the general
// algorithm is implemented rather than special-cased.
func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), []byte(s)...)
}

func vec(items [][]byte) []byte {
	buf := uleb(uint32(len(items)))
	for _, it := range items {
		buf = append(buf, it...)
	}
	return buf
}

func section(id byte, content []byte) []byte {
	buf := []byte{id}
	buf = append(buf, uleb(uint32(len(content)))...)
	return append(buf, content...)
}

// FuncType is an i32-only function signature, the only shape these
// fixtures need.
type FuncType struct {
	Params, Results int
}

func (ft FuncType) encode() []byte {
	params := make([][]byte, ft.Params)
	for i := range params {
		params[i] = []byte{valI32}
	}
	results := make([][]byte, ft.Results)
	for i := range results {
		results[i] = []byte{valI32}
	}
	buf := []byte{0x60}
	buf = append(buf, vec(params)...)
	return append(buf, vec(results)...)
}

// Import is one imported function.
type Import struct {
	Module, Field string
	Type          FuncType
}

// Func is one function defined in the module. Body is raw instruction
// bytes; Build appends the local-declaration header and the trailing end
// opcode. Locals declares a count of additional i32 locals beyond the
// function's own parameters, addressed starting at index Params.
type Func struct {
	Export string
	Type   FuncType
	Locals int
	Body   []byte
}

// Module is everything Build needs: its imports (func index space starts
// here), its locally defined functions, a single memory with the given
// minimum page count and no declared maximum (callers grow it on demand
// the same way the scheduler and internal/utxo already do), and zero or
// more mutable i32 globals.
type Module struct {
	Imports   []Import
	Funcs     []Func
	MemoryMin uint32
	Globals   []int32
}

// Build assembles m into a complete WASM binary.
func Build(m Module) []byte {
	var types [][]byte
	for _, imp := range m.Imports {
		types = append(types, imp.Type.encode())
	}
	for _, f := range m.Funcs {
		types = append(types, f.Type.encode())
	}

	var importSec [][]byte
	for i, imp := range m.Imports {
		entry := append(name(imp.Module), name(imp.Field)...)
		entry = append(entry, 0x00)
		entry = append(entry, uleb(uint32(i))...)
		importSec = append(importSec, entry)
	}

	var funcSec [][]byte
	for i := range m.Funcs {
		funcSec = append(funcSec, uleb(uint32(len(m.Imports)+i)))
	}

	var globalSec [][]byte
	for _, init := range m.Globals {
		entry := []byte{valI32, 0x01, 0x41}
		entry = append(entry, sleb(int64(init))...)
		entry = append(entry, 0x0B)
		globalSec = append(globalSec, entry)
	}

	exportSec := [][]byte{append(name("memory"), append([]byte{0x02}, uleb(0)...)...)}
	for i, f := range m.Funcs {
		if f.Export == "" {
			continue
		}
		idx := uint32(len(m.Imports) + i)
		exportSec = append(exportSec, append(name(f.Export), append([]byte{0x00}, uleb(idx)...)...))
	}

	var codeSec [][]byte
	for _, f := range m.Funcs {
		var groups [][]byte
		if f.Locals > 0 {
			groups = append(groups, append(uleb(uint32(f.Locals)), valI32))
		}
		body := append(vec(groups), f.Body...)
		body = append(body, 0x0B)
		codeSec = append(codeSec, append(uleb(uint32(len(body))), body...))
	}

	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, vec(types))...)
	if len(importSec) > 0 {
		out = append(out, section(2, vec(importSec))...)
	}
	out = append(out, section(3, vec(funcSec))...)
	out = append(out, section(5, vec([][]byte{append([]byte{0x00}, uleb(m.MemoryMin)...)}))...)
	if len(globalSec) > 0 {
		out = append(out, section(6, vec(globalSec))...)
	}
	out = append(out, section(7, vec(exportSec))...)
	out = append(out, section(10, vec(codeSec))...)
	return out
}
