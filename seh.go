// seh.go - structured exception handling dispatch
//
// The 32-bit path walks the classic FS:[0] EXCEPTION_REGISTRATION_RECORD
// chain (next-pointer at offset 0, handler address at offset 4) and
// transfers control to the top frame's handler using the same stdcall
// argument-pushing idiom apicall.go uses for Win32 imports, since from
// the guest's point of view a raised exception IS a call into its own
// handler function.
//
// The 64-bit path is a representative subset: x86-64 SEH is table-driven
// (RUNTIME_FUNCTION/UNWIND_INFO in .pdata/.xdata) rather than a chained
// list in the TIB, and this emulator's PE reader does not parse those
// directories yet, so a 64-bit exception with no vectored handler
// registered always reports unhandled rather than walking real unwind
// data. AddVectoredExceptionHandler-style registration is supported for
// both bitnesses since it sidesteps the table-walk question entirely.
package winemu

import "fmt"

// exceptionVector maps a CPU fault vector to its Win32
// EXCEPTION_* code, the value SEH handlers actually switch on.
var exceptionVector = map[byte]uint32{
	0:  0xC0000094, // STATUS_INTEGER_DIVIDE_BY_ZERO
	1:  0x80000004, // STATUS_SINGLE_STEP
	3:  0x80000003, // STATUS_BREAKPOINT
	4:  0xC0000095, // STATUS_INTEGER_OVERFLOW
	6:  0xC000001D, // STATUS_ILLEGAL_INSTRUCTION
	13: 0xC0000005, // STATUS_ACCESS_VIOLATION (general protection fault, approximated)
	14: 0xC0000005, // STATUS_ACCESS_VIOLATION (page fault)
}

const exceptionRegistrationSentinel = 0xFFFFFFFF

// VectoredHandler observes every dispatched exception before the
// FS:[0]/table-driven search runs, mirroring
// AddVectoredExceptionHandler's first-chance semantics. Returning true
// means it fully handled the exception.
type VectoredHandler func(t *Thread, code uint32, pc uint64) bool

// SEHManager dispatches CPU-raised exceptions to guest exception
// handlers.
type SEHManager struct {
	maps       *Maps
	vectored   []VectoredHandler
	contStub   uint64
	contStubOk bool
}

func NewSEHManager(m *Maps) *SEHManager { return &SEHManager{maps: m} }

// AddVectoredHandler registers a first-chance handler run before any
// stack-based handler search.
func (s *SEHManager) AddVectoredHandler(fn VectoredHandler) {
	s.vectored = append(s.vectored, fn)
}

// Dispatch is invoked for every CPU fault vector. It returns true if the
// exception was handed off to a guest (or vectored) handler, false if it
// propagates as ErrExceptionUnhandled.
func (s *SEHManager) Dispatch(t *Thread, vector byte) bool {
	code, known := exceptionVector[vector]
	if !known {
		code = 0xC0000025 // STATUS_NONCONTINUABLE_EXCEPTION as a generic fallback
	}
	pc := uint64(t.CPU.EIP)
	if t.CPU.LongMode {
		pc = t.CPU.RIP
	}

	for _, fn := range s.vectored {
		if fn(t, code, pc) {
			return true
		}
	}

	if t.CPU.LongMode {
		return false // table-driven unwind not implemented; see file header
	}
	return s.dispatch32(t, code, pc)
}

// dispatch32 pops the top FS:[0] registration record (if any is chained)
// and transfers control into its handler using the stdcall convention:
// handler(PEXCEPTION_RECORD, EstablisherFrame, PCONTEXT, PDISPATCHER_CONTEXT).
// The exception record and a minimal context are built in a scratch
// region so the handler has real addresses to read.
func (s *SEHManager) dispatch32(t *Thread, code uint32, pc uint64) bool {
	head := uint64(s.maps.Read32(t.TEBAddr))
	if head == exceptionRegistrationSentinel || head == 0 {
		return false
	}
	next := uint64(s.maps.Read32(head))
	handler := uint64(s.maps.Read32(head + 4))

	// Unlink this frame so a handler that itself faults does not loop
	// forever on the same record; a real handler does this via RtlUnwind
	// but unlinking eagerly here is a safe, observable approximation.
	s.maps.Write32(t.TEBAddr, uint32(next))

	scratch := s.buildExceptionRecord(code, pc)

	c := t.CPU
	retStub := s.continuationStub()
	sp := uint64(c.ESP)
	sp -= 4
	s.maps.Write32(sp, 0) // PDISPATCHER_CONTEXT, unused on x86
	sp -= 4
	s.maps.Write32(sp, uint32(scratch.context))
	sp -= 4
	s.maps.Write32(sp, uint32(head)) // EstablisherFrame
	sp -= 4
	s.maps.Write32(sp, uint32(scratch.record))
	sp -= 4
	s.maps.Write32(sp, uint32(retStub))
	c.ESP = uint32(sp)
	c.EIP = uint32(handler)
	return true
}

type sehScratch struct {
	record  uint64
	context uint64
}

func (s *SEHManager) buildExceptionRecord(code uint32, pc uint64) sehScratch {
	r, err := s.maps.AllocAnonymous(fmt.Sprintf("seh_record_%x", pc), 0x1000, PermRead|PermWrite)
	if err != nil {
		return sehScratch{}
	}
	recordAddr := r.Base
	contextAddr := r.Base + 0x100
	s.maps.Write32(recordAddr, code)       // ExceptionCode
	s.maps.Write32(recordAddr+4, 0)        // ExceptionFlags
	s.maps.Write32(recordAddr+8, 0)        // ExceptionRecord (chained)
	s.maps.Write32(recordAddr+12, uint32(pc)) // ExceptionAddress
	s.maps.Write32(recordAddr+16, 0)       // NumberParameters
	return sehScratch{record: recordAddr, context: contextAddr}
}

// continuationStub returns the address of a shared RET used as the
// return address handlers land on if they simply return
// ExceptionContinueSearch/ExceptionContinueExecution without resuming
// guest code explicitly; a single shared byte of 0xC3 is enough.
func (s *SEHManager) continuationStub() uint64 {
	if s.contStubOk {
		return s.contStub
	}
	r, err := s.maps.AllocAnonymous("seh_continuation", 0x1000, PermRead|PermExec)
	if err != nil {
		return 0
	}
	r.Bytes[0] = 0xC3
	s.contStub = r.Base
	s.contStubOk = true
	return s.contStub
}
