// debugger.go - synchronous single-thread debug adapter
//
// Grounded on the donor's debug_cpu_x86.go DebugX86 type: the
// register-name dispatch idiom (GetRegister/SetRegister by uppercased
// name) and the breakpoint/watchpoint table-management methods survive
// unchanged in spirit. What does NOT survive is DebugX86's async
// trapLoop goroutine built around a free-running CPUX86Runner: an
// embedding analysis tool drives this emulator one Run/Step call at a
// time, so Debugger wraps the same synchronous loop Emulator.Run uses
// instead of spinning its own goroutine and Freeze/Resume signal
// channel.
package winemu

import "strings"

// Debugger is a synchronous, single-thread introspection and stepping
// interface over one guest thread. Unlike Emulator.Run (which rotates
// every scheduled thread through its quantum), Debugger always drives
// exactly the one thread it was built for — the natural shape for an
// interactive "step this thread, inspect its registers" session.
type Debugger struct {
	e *Emulator
	t *Thread
}

// NewDebugger binds a Debugger to one guest thread.
func NewDebugger(e *Emulator, t *Thread) *Debugger {
	return &Debugger{e: e, t: t}
}

func (d *Debugger) CPUName() string { return "x86" }

func (d *Debugger) AddressWidth() int {
	if d.t.CPU.LongMode {
		return 64
	}
	return 32
}

// GetRegisters returns every general, flag, and segment register for
// display.
func (d *Debugger) GetRegisters() []RegisterInfo {
	c := d.t.CPU
	regs := []RegisterInfo{
		{Name: "EAX", BitWidth: 32, Value: uint64(c.EAX), Group: "general"},
		{Name: "EBX", BitWidth: 32, Value: uint64(c.EBX), Group: "general"},
		{Name: "ECX", BitWidth: 32, Value: uint64(c.ECX), Group: "general"},
		{Name: "EDX", BitWidth: 32, Value: uint64(c.EDX), Group: "general"},
		{Name: "ESI", BitWidth: 32, Value: uint64(c.ESI), Group: "general"},
		{Name: "EDI", BitWidth: 32, Value: uint64(c.EDI), Group: "general"},
		{Name: "EBP", BitWidth: 32, Value: uint64(c.EBP), Group: "general"},
		{Name: "ESP", BitWidth: 32, Value: uint64(c.ESP), Group: "general"},
		{Name: "EIP", BitWidth: 32, Value: uint64(c.EIP), Group: "general"},
		{Name: "EFLAGS", BitWidth: 32, Value: uint64(c.Flags), Group: "flags"},
		{Name: "CS", BitWidth: 16, Value: uint64(c.CS), Group: "segment"},
		{Name: "DS", BitWidth: 16, Value: uint64(c.DS), Group: "segment"},
		{Name: "ES", BitWidth: 16, Value: uint64(c.ES), Group: "segment"},
		{Name: "SS", BitWidth: 16, Value: uint64(c.SS), Group: "segment"},
		{Name: "FS", BitWidth: 16, Value: uint64(c.FS), Group: "segment"},
		{Name: "GS", BitWidth: 16, Value: uint64(c.GS), Group: "segment"},
	}
	if c.LongMode {
		names := []string{"RAX", "RCX", "RDX", "RBX", "RSP", "RBP", "RSI", "RDI",
			"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15"}
		for i, name := range names {
			regs = append(regs, RegisterInfo{Name: name, BitWidth: 64, Value: c.getReg64(i), Group: "general64"})
		}
		regs = append(regs, RegisterInfo{Name: "RIP", BitWidth: 64, Value: c.RIP, Group: "general64"})
	}
	return regs
}

var reg64Index = map[string]int{
	"RAX": x86RegRAX, "RCX": x86RegRCX, "RDX": x86RegRDX, "RBX": x86RegRBX,
	"RSP": x86RegRSP, "RBP": x86RegRBP, "RSI": x86RegRSI, "RDI": x86RegRDI,
	"R8": x86RegR8, "R9": x86RegR9, "R10": x86RegR10, "R11": x86RegR11,
	"R12": x86RegR12, "R13": x86RegR13, "R14": x86RegR14, "R15": x86RegR15,
}

// GetRegister looks a register up by name, case-insensitively.
func (d *Debugger) GetRegister(name string) (uint64, bool) {
	c := d.t.CPU
	upper := strings.ToUpper(name)
	if idx, ok := reg64Index[upper]; ok {
		return c.getReg64(idx), true
	}
	switch upper {
	case "EAX":
		return uint64(c.EAX), true
	case "EBX":
		return uint64(c.EBX), true
	case "ECX":
		return uint64(c.ECX), true
	case "EDX":
		return uint64(c.EDX), true
	case "ESI":
		return uint64(c.ESI), true
	case "EDI":
		return uint64(c.EDI), true
	case "EBP":
		return uint64(c.EBP), true
	case "ESP":
		return uint64(c.ESP), true
	case "EIP":
		return uint64(c.EIP), true
	case "RIP":
		return c.RIP, true
	case "FLAGS", "EFLAGS":
		return uint64(c.Flags), true
	case "CS":
		return uint64(c.CS), true
	case "DS":
		return uint64(c.DS), true
	case "ES":
		return uint64(c.ES), true
	case "SS":
		return uint64(c.SS), true
	case "FS":
		return uint64(c.FS), true
	case "GS":
		return uint64(c.GS), true
	}
	return 0, false
}

// SetRegister writes a register by name, case-insensitively. It reports
// false for an unrecognized name.
func (d *Debugger) SetRegister(name string, value uint64) bool {
	c := d.t.CPU
	upper := strings.ToUpper(name)
	if idx, ok := reg64Index[upper]; ok {
		c.setReg64(idx, value)
		return true
	}
	switch upper {
	case "EAX":
		c.EAX = uint32(value)
	case "EBX":
		c.EBX = uint32(value)
	case "ECX":
		c.ECX = uint32(value)
	case "EDX":
		c.EDX = uint32(value)
	case "ESI":
		c.ESI = uint32(value)
	case "EDI":
		c.EDI = uint32(value)
	case "EBP":
		c.EBP = uint32(value)
	case "ESP":
		c.ESP = uint32(value)
	case "EIP":
		c.EIP = uint32(value)
	case "RIP":
		c.RIP = value
	case "FLAGS", "EFLAGS":
		c.Flags = uint32(value)
	case "CS":
		c.CS = uint16(value)
	case "DS":
		c.DS = uint16(value)
	case "ES":
		c.ES = uint16(value)
	case "SS":
		c.SS = uint16(value)
	case "FS":
		c.FS = uint16(value)
	case "GS":
		c.GS = uint16(value)
	default:
		return false
	}
	return true
}

func (d *Debugger) GetPC() uint64 {
	if d.t.CPU.LongMode {
		return d.t.CPU.RIP
	}
	return uint64(d.t.CPU.EIP)
}

func (d *Debugger) SetPC(addr uint64) {
	d.t.CPU.EIP = uint32(addr)
	if d.t.CPU.LongMode {
		d.t.CPU.RIP = addr
	}
}

// Disassemble decodes count instructions starting at addr, marking the
// one at the thread's current PC.
func (d *Debugger) Disassemble(addr uint64, count int) []DisassembledLine {
	pc := d.GetPC()
	lines := disassembleX86(d.ReadMemory, d.e.StubName, addr, count)
	for i := range lines {
		if lines[i].Address == pc {
			lines[i].IsPC = true
		}
	}
	return lines
}

// ReadMemory/WriteMemory give disassembly and inspection tools raw
// access to the thread's address space via the emulator's Maps, not the
// CPU's 32-bit Bus view, so it still works correctly for a 64-bit guest.
func (d *Debugger) ReadMemory(addr uint64, size int) []byte {
	b, err := d.e.Maps.ReadBytes(addr, size)
	if err != nil {
		return make([]byte, size)
	}
	return b
}

func (d *Debugger) WriteMemory(addr uint64, data []byte) {
	_ = d.e.Maps.WriteBytes(addr, data)
}

// Step executes exactly one instruction on the bound thread and returns
// the number of cycles it took.
func (d *Debugger) Step() int {
	return d.t.CPU.Step()
}

// RunUntil single-steps the bound thread until a breakpoint or
// watchpoint fires, the thread halts, or maxInstructions is reached,
// whichever comes first.
func (d *Debugger) RunUntil(maxInstructions int) StopReason {
	c := d.t.CPU
	for i := 0; i < maxInstructions || maxInstructions <= 0; i++ {
		if c.Halted {
			return StopHalted
		}
		pc := d.GetPC()
		if bp, ok := d.e.Hooks.breakpointAt(pc); ok {
			bp.HitCount++
			if evaluateConditionWithHitCount(bp.Condition, d, bp.HitCount) {
				return StopBreakpoint
			}
		}
		c.Step()
		if _, fired := d.e.Hooks.checkWatchpoints(func(a uint64) byte { return d.ReadMemory(a, 1)[0] }); fired {
			return StopWatchpoint
		}
	}
	return StopInstructionLimit
}

// Breakpoint and watchpoint management delegates to the emulator's
// shared Hooks table, so a breakpoint set from a Debugger also applies
// to Emulator.Run's own per-instruction check.
func (d *Debugger) SetBreakpoint(addr uint64) { d.e.Hooks.SetBreakpoint(addr) }

func (d *Debugger) SetConditionalBreakpoint(addr uint64, cond *BreakpointCondition) {
	d.e.Hooks.SetConditionalBreakpoint(addr, cond)
}

func (d *Debugger) ClearBreakpoint(addr uint64) bool { return d.e.Hooks.ClearBreakpoint(addr) }
func (d *Debugger) HasBreakpoint(addr uint64) bool   { return d.e.Hooks.HasBreakpoint(addr) }

func (d *Debugger) SetWatchpoint(addr uint64) {
	d.e.Hooks.SetWatchpoint(addr, d.ReadMemory(addr, 1)[0])
}

func (d *Debugger) ClearWatchpoint(addr uint64) bool { return d.e.Hooks.ClearWatchpoint(addr) }
