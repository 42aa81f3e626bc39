// apicall.go - adapts a running guest thread to winapi.CallContext,
// reading stdcall or Microsoft x64 arguments and writing the return
// value the way a real thunk's epilogue would.
//
// Grounded on the donor's register-name dispatch idiom in
// debug_cpu_x86.go (GetRegister/SetRegister by name), generalized here
// to the two Win32 calling conventions instead of a debugger's
// read-any-register-by-name surface.

package winemu

import "fmt"

type apiCallContext struct {
	e *Emulator
	t *Thread
}

func (a *apiCallContext) Is64() bool { return a.t.CPU.LongMode }

// Arg returns the i'th stdcall (32-bit) or Microsoft x64 argument.
// Microsoft x64 passes the first four integer/pointer args in
// RCX,RDX,R8,R9 with a 32-byte shadow space reserved by the caller for
// the callee to spill them into; everything beyond that, like every
// stdcall argument, comes off the stack above the return address.
func (a *apiCallContext) Arg(i int) uint64 {
	c := a.t.CPU
	if c.LongMode {
		switch i {
		case 0:
			return c.getReg64(x86RegRCX)
		case 1:
			return c.getReg64(x86RegRDX)
		case 2:
			return c.getReg64(x86RegR8)
		case 3:
			return c.getReg64(x86RegR9)
		default:
			addr := c.getReg64(x86RegRSP) + 8 + 0x20 + uint64(i-4)*8
			return a.e.Maps.Read64(addr)
		}
	}
	addr := uint64(c.ESP) + 4 + uint64(i)*4
	return uint64(a.e.Maps.Read32(addr))
}

func (a *apiCallContext) SetReturn(v uint64) {
	c := a.t.CPU
	if c.LongMode {
		c.setReg64(x86RegRAX, v)
	}
	c.EAX = uint32(v)
}

func (a *apiCallContext) ReadCString(addr uint64) string  { return a.e.Maps.ReadCString(addr) }
func (a *apiCallContext) ReadWString(addr uint64) string  { return a.e.Maps.ReadWString(addr) }

func (a *apiCallContext) WriteCString(addr uint64, s string) {
	b := append([]byte(s), 0)
	_ = a.e.Maps.WriteBytes(addr, b)
}

func (a *apiCallContext) WriteWString(addr uint64, s string) {
	units := stringToUTF16(s)
	b := make([]byte, 0, len(units)*2+2)
	for _, u := range units {
		b = append(b, byte(u), byte(u>>8))
	}
	b = append(b, 0, 0)
	_ = a.e.Maps.WriteBytes(addr, b)
}

func (a *apiCallContext) LogCall(name string, args ...uint64) {
	a.e.log.Debugw("api call", "thread", a.t.ID, "api", name, "args", args)
}

func (a *apiCallContext) HeapAlloc(size uint64, zero bool) (uint64, error) {
	return a.e.Heap.Alloc(size, zero)
}

func (a *apiCallContext) HeapFree(addr uint64) bool {
	return a.e.Heap.Free(addr)
}

func (a *apiCallContext) OpenHandle(kind, name string) uint64 {
	return a.e.Handles.Open(kind, name).ID
}

func (a *apiCallContext) CloseHandle(id uint64) bool {
	return a.e.Handles.Close(id)
}

func (a *apiCallContext) EnterCriticalSection(addr uint64) bool {
	return a.e.Sched.EnterCriticalSection(addr, a.t)
}

func (a *apiCallContext) LeaveCriticalSection(addr uint64) {
	a.e.Sched.LeaveCriticalSection(addr, a.t)
}

func (a *apiCallContext) SpawnThread(entry, param uint64) (uint64, error) {
	t, err := a.e.spawnGuestThread(entry, param)
	if err != nil {
		return 0, err
	}
	return a.e.Handles.Open("thread", fmt.Sprintf("tid-%d", t.ID)).ID, nil
}

func (a *apiCallContext) ResolveExport(key string) (uint64, bool) {
	addr, ok := a.e.exportsByKey[key]
	return addr, ok
}

func (a *apiCallContext) ModuleBase() uint64 { return a.e.imgBase }

func (a *apiCallContext) WorkingDir() string { return a.e.Config.WorkingDir }

func (a *apiCallContext) LastError() uint32 { return a.e.lastErr }

func (a *apiCallContext) SetLastError(code uint32) { a.e.lastErr = code }

func stringToUTF16(s string) []uint16 {
	out := make([]uint16, 0, len(s))
	for _, r := range s {
		if r <= 0xFFFF {
			out = append(out, uint16(r))
			continue
		}
		r -= 0x10000
		out = append(out, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
	}
	return out
}
