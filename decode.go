// decode.go - an external-decoder cross-check and trace source, built on
// golang.org/x/arch/x86/x86asm rather than the hand-rolled disassembler
// in debug_disasm_x86.go. The hand-rolled disassembler stays the primary
// interactive-debugger renderer (it understands this codebase's own
// DisassembledLine shape); x86asm backs the lower-level, length-accurate
// path a trace hook or single-step driver needs and that a text-only
// disassembler doesn't expose on its own.
//
// Grounded on other_examples' x86asm-doc_.go survey of the package
// surface, and used the way bobuhiro11-gokvm and zboralski-galago pull
// in the same decoder for their own instruction-boundary needs.

package winemu

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// DecodeInstruction decodes the instruction at addr in the thread's
// address space, returning the exact byte length x86asm computed along
// with its canonical text — useful for a trace hook that wants real
// mnemonics without paying for a full DisassembledLine.
func (d *Debugger) DecodeInstruction(addr uint64) (x86asm.Inst, error) {
	mode := 32
	if d.t.CPU.LongMode {
		mode = 64
	}
	buf, err := d.e.Maps.ReadBytes(addr, 15) // longest possible x86 instruction
	if err != nil {
		return x86asm.Inst{}, err
	}
	return x86asm.Decode(buf, mode)
}

// NewInstructionTraceHook returns an InstructionHook that logs each
// executed instruction's canonical x86asm text through the emulator's
// structured logger — the "instruction trace" hook shape surveyed from
// zboralski-galago's hook set (component K), backed here by a real
// external decoder instead of address-only logging.
func NewInstructionTraceHook() InstructionHook {
	return func(e *Emulator, t *Thread, addr uint64) bool {
		d := NewDebugger(e, t)
		inst, err := d.DecodeInstruction(addr)
		if err != nil {
			e.log.Debugw("trace: decode failed", "thread", t.ID, "addr", fmt.Sprintf("0x%x", addr), "error", err)
			return true
		}
		e.log.Debugw("trace", "thread", t.ID, "addr", fmt.Sprintf("0x%x", addr), "instr", inst.String())
		return true
	}
}
