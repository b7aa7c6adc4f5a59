package wasmtest

import "github.com/weisyn-labs/ledgerhost/pkg/types"

// asyncifyFuncs returns the five well-known asyncify exports, all driven
// off a single mutable i32 global that stands in for the instrumented
// module's internal unwind/rewind bookkeeping: NORMAL=0, UNWIND=1,
// REWIND=2, exactly the states types.AsyncifyState enumerates. A real
// asyncify-transformed module tracks far more (a whole shadow stack); a
// test fixture only needs to report and flip that one number the same
// way the host observes it.
func asyncifyFuncs() []Func {
	setGlobal := func(v byte) []byte { return []byte{0x41, v, 0x24, 0x00} } // i32.const v; global.set 0
	return []Func{
		{Export: "asyncify_get_state", Type: FuncType{Params: 0, Results: 1}, Body: []byte{0x23, 0x00}}, // global.get 0
		{Export: "asyncify_start_unwind", Type: FuncType{Params: 1, Results: 0}, Body: setGlobal(0x01)},
		{Export: "asyncify_stop_unwind", Type: FuncType{Params: 0, Results: 0}, Body: setGlobal(0x00)},
		{Export: "asyncify_start_rewind", Type: FuncType{Params: 1, Results: 0}, Body: setGlobal(0x02)},
		{Export: "asyncify_stop_rewind", Type: FuncType{Params: 0, Results: 0}, Body: setGlobal(0x00)},
	}
}

// YieldOnceEntry names the single yielding entry point every
// BuildYieldingUtxoModule fixture exports.
const YieldOnceEntry = "starstream_new_Thing"

// QueryBadEntry is a second export on the same fixture that, once the
// UTXO is yielded, misbehaves by flipping the asyncify state itself
// (bypassing starstream_yield entirely) and returning — used to exercise
// the NotQuiescent guard a well-behaved module never triggers.
const QueryBadEntry = "starstream_query_Bad"

// YieldDataMarker is the fixed 4-byte payload YieldOnceEntry writes into
// its own memory immediately before yielding, so a test can assert the
// bytes the host observed at the yield's data view.
var YieldDataMarker = [4]byte{11, 22, 33, 44}

const (
	yieldNamePtr, yieldNameLen     = 40, 4
	yieldDataPtr, yieldDataLen     = 48, 4
	yieldResumePtr, yieldResumeLen = 56, 4
)

// BuildYieldingUtxoModule assembles a UTXO-role fixture: the five
// asyncify exports plus an import of starstream_utxo_env.starstream_yield
// and one entry point (YieldOnceEntry) that writes YieldDataMarker at
// yieldDataPtr, yields once, and returns 0. The host-side yield import
// drives every asyncify state transition itself (see
// internal/utxo/yield.go), so the entry point's body needs no branching
// on asyncify state: it calls yield unconditionally exactly once per
// invocation, which is enough for Start to suspend it and Resume to run
// it to completion.
func BuildYieldingUtxoModule() []byte {
	funcs := asyncifyFuncs()

	writeMarker := func(addr, val byte) []byte {
		return []byte{0x41, addr, 0x41, val, 0x3A, 0x00, 0x00} // i32.const addr; i32.const val; i32.store8 0 0
	}
	var body []byte
	for i, b := range YieldDataMarker {
		body = append(body, writeMarker(byte(yieldDataPtr+i), b)...)
	}
	body = append(body,
		0x41, yieldNamePtr, 0x41, yieldNameLen,
		0x41, yieldDataPtr, 0x41, yieldDataLen,
		0x41, yieldResumePtr, 0x41, yieldResumeLen,
		0x10, 0x00, // call import 0 (starstream_yield)
		0x41, 0x00, // i32.const 0 (return value)
	)
	funcs = append(funcs, Func{Export: YieldOnceEntry, Type: FuncType{Params: 2, Results: 1}, Body: body})

	// starstream_query_Bad calls asyncify_start_unwind (func index 2:
	// import0 occupies 0, asyncify_get_state is 1, asyncify_start_unwind
	// is 2) directly, leaving the module in UNWIND state without ever
	// going through starstream_yield.
	funcs = append(funcs, Func{
		Export: QueryBadEntry,
		Type:   FuncType{Params: 2, Results: 1},
		Body:   []byte{0x41, 0x10, 0x10, 0x02, 0x41, 0x00}, // i32.const 16; call 2; i32.const 0
	})

	return Build(Module{
		Imports: []Import{
			{Module: "starstream_utxo_env", Field: "starstream_yield", Type: FuncType{Params: 6, Results: 0}},
		},
		Funcs:     funcs,
		MemoryMin: 1,
		Globals:   []int32{0},
	})
}

// DeadEntry is the entry point BuildDeadUtxoModule exports: it returns
// immediately without ever yielding, modeling a UTXO whose entry point
// runs to completion on the first call.
const DeadEntry = "starstream_new_Dead"

// BuildDeadUtxoModule assembles a UTXO-role fixture that never
// suspends: its entry point returns 0 on the very first call, leaving
// the UTXO in StateReturned before it was ever yielded.
func BuildDeadUtxoModule() []byte {
	funcs := asyncifyFuncs()
	funcs = append(funcs, Func{
		Export: DeadEntry,
		Type:   FuncType{Params: 2, Results: 1},
		Body:   []byte{0x41, 0x00}, // i32.const 0
	})
	return Build(Module{
		Funcs:     funcs,
		MemoryMin: 1,
		Globals:   []int32{0},
	})
}

const (
	// CreateEntry calls the Thing program's YieldOnceEntry and returns
	// its handle.
	CreateEntry = "run_create"
	// CreateResumeEntry calls CreateEntry's import, then resumes the
	// resulting handle with a correctly sized payload, returning the
	// same handle (now terminal, since the fixture yields only once).
	CreateResumeEntry = "run_create_resume"
	// CreateResumeBadSizeEntry is CreateResumeEntry but resumes with one
	// byte short of the yield's declared resume length, exercising
	// SizeMismatch end to end.
	CreateResumeBadSizeEntry = "run_create_resume_badsize"
	// CreateDeadEntry calls the Dead program's DeadEntry and returns its
	// handle.
	CreateDeadEntry = "run_create_dead"
	// ResumeInputEntry reads a pre-allocated handle word from its own
	// argument region (the scheduler appends input-UTXO handles there)
	// and resumes it with a correctly sized payload, returning the
	// handle. Used to drive a UTXO committed by an earlier transaction.
	ResumeInputEntry = "run_resume_input"
	// StatusInputEntry reads a pre-allocated handle word from its own
	// argument region and only status-checks it, returning the liveness
	// word. The input UTXO is never paged in.
	StatusInputEntry = "run_status_input"
)

// BuildCoordinationModule assembles a coordination-role fixture that
// imports starstream_utxo:{thingID}.starstream_new_Thing,
// starstream_utxo:{thingID}.starstream_resume_Thing,
// starstream_utxo:{thingID}.starstream_status_Thing, and
// starstream_utxo:{deadID}.starstream_new_Dead, and exports six entry
// points exercising creation, resume (both well-sized and undersized),
// the dead-on-creation path, and resume and status of an input UTXO
// committed by an earlier transaction — driven through scheduler.RunTransaction
// in the scheduler package's end-to-end tests.
func BuildCoordinationModule(thingID, deadID types.ProgramID) []byte {
	newImport := Import{Module: "starstream_utxo:" + thingID.String(), Field: "starstream_new_Thing", Type: FuncType{Params: 2, Results: 1}}
	resumeImport := Import{Module: "starstream_utxo:" + thingID.String(), Field: "starstream_resume_Thing", Type: FuncType{Params: 3, Results: 1}}
	deadImport := Import{Module: "starstream_utxo:" + deadID.String(), Field: "starstream_new_Dead", Type: FuncType{Params: 2, Results: 1}}
	statusImport := Import{Module: "starstream_utxo:" + thingID.String(), Field: "starstream_status_Thing", Type: FuncType{Params: 1, Results: 1}}

	callNew := []byte{0x41, 0x00, 0x41, 0x00, 0x10, 0x00} // i32.const 0,0; call 0 (new_Thing)

	resumeOkBody := []byte{}
	resumeOkBody = append(resumeOkBody, callNew...)
	resumeOkBody = append(resumeOkBody,
		0x21, 0x02, // local.set 2
		0x20, 0x02, // local.get 2 (handle)
		0x41, 0x00, // i32.const 0 (dataPtr)
		0x41, 0x04, // i32.const 4 (dataLen == yieldResumeLen)
		0x10, 0x01, // call 1 (resume_Thing)
		0x1A,       // drop resultPtr
		0x20, 0x02, // local.get 2 -> return handle
	)

	resumeBadBody := []byte{}
	resumeBadBody = append(resumeBadBody, callNew...)
	resumeBadBody = append(resumeBadBody,
		0x21, 0x02,
		0x20, 0x02,
		0x41, 0x00,
		0x41, 0x03, // i32.const 3 (one short of the required 4)
		0x10, 0x01,
		0x1A,
		0x20, 0x02,
	)

	createDeadBody := []byte{0x41, 0x00, 0x41, 0x00, 0x10, 0x02} // call 2 (new_Dead)

	resumeInputBody := []byte{
		0x20, 0x00, // local.get 0 (argsPtr)
		0x28, 0x02, 0x00, // i32.load align=4 offset=0 -> handle word
		0x21, 0x02, // local.set 2
		0x20, 0x02, // local.get 2
		0x41, 0x00, // i32.const 0 (dataPtr)
		0x41, 0x04, // i32.const 4 (dataLen)
		0x10, 0x01, // call 1 (resume_Thing)
		0x1A,       // drop resultPtr
		0x20, 0x02, // local.get 2 -> return handle
	}

	statusInputBody := []byte{
		0x20, 0x00, // local.get 0 (argsPtr)
		0x28, 0x02, 0x00, // i32.load align=4 offset=0 -> handle word
		0x10, 0x03, // call 3 (status_Thing) -> liveness word
	}

	return Build(Module{
		Imports: []Import{newImport, resumeImport, deadImport, statusImport},
		Funcs: []Func{
			{Export: CreateEntry, Type: FuncType{Params: 2, Results: 1}, Body: callNew},
			{Export: CreateResumeEntry, Type: FuncType{Params: 2, Results: 1}, Locals: 1, Body: resumeOkBody},
			{Export: CreateResumeBadSizeEntry, Type: FuncType{Params: 2, Results: 1}, Locals: 1, Body: resumeBadBody},
			{Export: CreateDeadEntry, Type: FuncType{Params: 2, Results: 1}, Body: createDeadBody},
			{Export: ResumeInputEntry, Type: FuncType{Params: 2, Results: 1}, Locals: 1, Body: resumeInputBody},
			{Export: StatusInputEntry, Type: FuncType{Params: 2, Results: 1}, Body: statusInputBody},
		},
		MemoryMin: 1,
	})
}
