// cpu_x86_64.go - representative x86-64 long-mode operand-width extension
//
// Generalizes the donor's 8/16/32-bit ALU/stack/shift op handlers
// (cpu_x86_ops.go, cpu_x86_grp.go) to 64-bit operand width for the subset
// of the instruction set load-bearing for 64-bit code: arithmetic/logic
// Ev,Gv and Gv,Ev forms, immediate-group ALU ops, MOV, LEA, PUSH/POP
// (default 64-bit in long mode), and the shift/rotate group. Two-byte
// escape instructions (Jcc rel32, SETcc, SHLD/SHRD, MOVZX/MOVSX) already
// work unmodified through the inherited extendedOps table: their operand
// widths are gated on prefixOpSize the same way 16-vs-32-bit is today, so
// a REX.W branch is added directly to the SHLD/SHRD handlers instead of
// being duplicated here.
//
// Addressing stays inside the low 4GB window the donor's ModR/M/SIB
// effective-address calculator already computes (calcEffectiveAddress32),
// zero-extended to a 64-bit linear address: a 64-bit guest image is
// expected to be based below 4GB, the same scoping the donor's flat
// 32-bit bus itself assumed.

package winemu

import "math/bits"

// dispatch64 intercepts a representative, REX-aware instruction subset
// before falling through to the inherited 8/16/32-bit dispatch tables. It
// returns true when it fully handled the current opcode.
func (c *CPU) dispatch64() bool {
	if !c.LongMode {
		return false
	}

	switch {
	case c.opcode >= 0x50 && c.opcode <= 0x57: // PUSH r64 (default 64-bit)
		reg := int(c.opcode-0x50) + regExtBit(c.rexB)
		c.push64(c.getReg64(reg))
		return true
	case c.opcode >= 0x58 && c.opcode <= 0x5F: // POP r64
		reg := int(c.opcode-0x58) + regExtBit(c.rexB)
		c.setReg64(reg, c.pop64())
		return true
	}

	if !c.rexW {
		return false
	}

	switch c.opcode {
	case 0x01: // ADD Ev,Gv (64)
		c.fetchModRM()
		dst := c.readRM64()
		src := c.getReg64(c.modrmRegExt())
		c.writeRM64(c.add64(dst, src, false))
	case 0x03: // ADD Gv,Ev (64)
		c.fetchModRM()
		dst := c.getReg64(c.modrmRegExt())
		src := c.readRM64()
		c.setReg64(c.modrmRegExt(), c.add64(dst, src, false))
	case 0x29: // SUB Ev,Gv (64)
		c.fetchModRM()
		dst := c.readRM64()
		src := c.getReg64(c.modrmRegExt())
		c.writeRM64(c.sub64(dst, src, false))
	case 0x2B: // SUB Gv,Ev (64)
		c.fetchModRM()
		dst := c.getReg64(c.modrmRegExt())
		src := c.readRM64()
		c.setReg64(c.modrmRegExt(), c.sub64(dst, src, false))
	case 0x21: // AND Ev,Gv (64)
		c.fetchModRM()
		c.writeRM64(c.logic64(c.readRM64() & c.getReg64(c.modrmRegExt())))
	case 0x09: // OR Ev,Gv (64)
		c.fetchModRM()
		c.writeRM64(c.logic64(c.readRM64() | c.getReg64(c.modrmRegExt())))
	case 0x31: // XOR Ev,Gv (64)
		c.fetchModRM()
		c.writeRM64(c.logic64(c.readRM64() ^ c.getReg64(c.modrmRegExt())))
	case 0x39: // CMP Ev,Gv (64)
		c.fetchModRM()
		c.sub64(c.readRM64(), c.getReg64(c.modrmRegExt()), false)
	case 0x3B: // CMP Gv,Ev (64)
		c.fetchModRM()
		c.sub64(c.getReg64(c.modrmRegExt()), c.readRM64(), false)
	case 0x85: // TEST Ev,Gv (64)
		c.fetchModRM()
		c.logic64(c.readRM64() & c.getReg64(c.modrmRegExt()))
	case 0x89: // MOV Ev,Gv (64)
		c.fetchModRM()
		c.writeRM64(c.getReg64(c.modrmRegExt()))
	case 0x8B: // MOV Gv,Ev (64)
		c.fetchModRM()
		c.setReg64(c.modrmRegExt(), c.readRM64())
	case 0x8D: // LEA Gv,M (64)
		c.fetchModRM()
		c.setReg64(c.modrmRegExt(), uint64(c.getEffectiveAddress()))
	case 0xC7: // MOV Ev,Iz (sign-extended to 64)
		c.fetchModRM()
		imm := int64(int32(c.fetch32()))
		c.writeRM64(uint64(imm))
	case 0xB8, 0xB9, 0xBA, 0xBB, 0xBC, 0xBD, 0xBE, 0xBF: // MOV r64,imm64
		reg := int(c.opcode-0xB8) + regExtBit(c.rexB)
		c.setReg64(reg, c.fetch64())
	case 0x81: // Grp1 Ev,Iz (64)
		c.fetchModRM()
		c.grp1_64(int64(int32(c.fetch32())))
	case 0x83: // Grp1 Ev,Ib (64, sign-extended)
		c.fetchModRM()
		c.grp1_64(int64(int8(c.fetch8())))
	case 0xC1: // Grp2 Ev,Ib (64 shift/rotate)
		c.fetchModRM()
		count := c.fetch8() & 0x3F
		c.writeRM64(c.shiftRotate64(c.readRM64(), count, c.getModRMReg()))
	case 0xD1: // Grp2 Ev,1 (64)
		c.fetchModRM()
		c.writeRM64(c.shiftRotate64(c.readRM64(), 1, c.getModRMReg()))
	case 0xD3: // Grp2 Ev,CL (64)
		c.fetchModRM()
		c.writeRM64(c.shiftRotate64(c.readRM64(), c.CL()&0x3F, c.getModRMReg()))
	case 0xF7: // Grp3 Ev (64): TEST/NOT/NEG/MUL/IMUL/DIV/IDIV
		c.fetchModRM()
		c.grp3_64()
	case 0xFF: // Grp5 Ev (64): INC/DEC/PUSH/CALL/JMP
		c.fetchModRM()
		return c.grp5_64()
	default:
		return false
	}
	return true
}

func regExtBit(rexB bool) int {
	if rexB {
		return 8
	}
	return 0
}

func (c *CPU) logic64(v uint64) uint64 {
	c.setFlagsLogic64(v)
	return v
}

func (c *CPU) fetch64() uint64 {
	lo := uint64(c.fetch32())
	hi := uint64(c.fetch32())
	return hi<<32 | lo
}

func (c *CPU) readRM64() uint64 {
	if c.getModRMMod() == 3 {
		return c.getReg64(c.modrmRMExt())
	}
	addr := uint64(c.getEffectiveAddress())
	lo := uint64(c.read32(uint32(addr)))
	hi := uint64(c.read32(uint32(addr) + 4))
	return hi<<32 | lo
}

func (c *CPU) writeRM64(v uint64) {
	if c.getModRMMod() == 3 {
		c.setReg64(c.modrmRMExt(), v)
		return
	}
	addr := uint32(c.getEffectiveAddress())
	c.write32(addr, uint32(v))
	c.write32(addr+4, uint32(v>>32))
}

func (c *CPU) push64(v uint64) {
	rsp := c.getReg64(x86RegRSP) - 8
	c.setReg64(x86RegRSP, rsp)
	c.write32(uint32(rsp), uint32(v))
	c.write32(uint32(rsp)+4, uint32(v>>32))
}

func (c *CPU) pop64() uint64 {
	rsp := c.getReg64(x86RegRSP)
	lo := uint64(c.read32(uint32(rsp)))
	hi := uint64(c.read32(uint32(rsp) + 4))
	c.setReg64(x86RegRSP, rsp+8)
	return hi<<32 | lo
}

// grp1_64 dispatches the Grp1 /r field (ADD/OR/ADC/SBB/AND/SUB/XOR/CMP)
// against a 64-bit destination, mirroring opGrp1_Ev_Iv's /r switch.
func (c *CPU) grp1_64(imm int64) {
	dst := c.readRM64()
	src := uint64(imm)
	switch c.getModRMReg() & 7 {
	case 0: // ADD
		c.writeRM64(c.add64(dst, src, false))
	case 1: // OR
		c.writeRM64(c.logic64(dst | src))
	case 2: // ADC
		c.writeRM64(c.add64(dst, src, c.CF()))
	case 3: // SBB
		c.writeRM64(c.sub64(dst, src, c.CF()))
	case 4: // AND
		c.writeRM64(c.logic64(dst & src))
	case 5: // SUB
		c.writeRM64(c.sub64(dst, src, false))
	case 6: // XOR
		c.writeRM64(c.logic64(dst ^ src))
	case 7: // CMP
		c.sub64(dst, src, false)
	}
}

// grp3_64 implements the Grp3 /r field against a 64-bit operand.
func (c *CPU) grp3_64() {
	reg := c.getModRMReg() & 7
	switch reg {
	case 0, 1: // TEST Ev,Iz
		imm := uint64(int64(int32(c.fetch32())))
		c.logic64(c.readRM64() & imm)
	case 2: // NOT
		c.writeRM64(^c.readRM64())
	case 3: // NEG
		v := c.readRM64()
		c.writeRM64(c.sub64(0, v, false))
	case 4: // MUL RAX <- RAX*Ev (unsigned, low 64 kept, high in RDX)
		a := c.getReg64(x86RegRAX)
		b := c.readRM64()
		hi, lo := mul64(a, b)
		c.setReg64(x86RegRAX, lo)
		c.setReg64(x86RegRDX, hi)
		c.setFlag(x86FlagCF, hi != 0)
		c.setFlag(x86FlagOF, hi != 0)
	case 5: // IMUL RAX <- RAX*Ev (signed)
		a := int64(c.getReg64(x86RegRAX))
		b := int64(c.readRM64())
		res := a * b
		c.setReg64(x86RegRAX, uint64(res))
		overflow := b != 0 && res/b != a
		c.setFlag(x86FlagCF, overflow)
		c.setFlag(x86FlagOF, overflow)
	case 6: // DIV RDX:RAX / Ev (unsigned)
		divisor := c.readRM64()
		hi, lo := c.getReg64(x86RegRDX), c.getReg64(x86RegRAX)
		// hi >= divisor means the quotient can't fit back in RAX, the
		// same #DE Intel raises for a zero divisor.
		if divisor == 0 || hi >= divisor {
			c.handleInterrupt(0)
			return
		}
		q, r := bits.Div64(hi, lo, divisor)
		c.setReg64(x86RegRAX, q)
		c.setReg64(x86RegRDX, r)
	case 7: // IDIV RDX:RAX / Ev (signed)
		divisor := int64(c.readRM64())
		hi, lo := int64(c.getReg64(x86RegRDX)), c.getReg64(x86RegRAX)
		q, r, ok := sdivmod128(hi, lo, divisor)
		if !ok {
			c.handleInterrupt(0)
			return
		}
		c.setReg64(x86RegRAX, uint64(q))
		c.setReg64(x86RegRDX, uint64(r))
	}
}

func mul64(a, b uint64) (hi, lo uint64) {
	aLo, aHi := a&0xFFFFFFFF, a>>32
	bLo, bHi := b&0xFFFFFFFF, b>>32
	t1 := aLo * bLo
	t2 := aHi*bLo + t1>>32
	t3 := aLo*bHi + t2&0xFFFFFFFF
	lo = t3<<32 | t1&0xFFFFFFFF
	hi = aHi*bHi + t2>>32 + t3>>32
	return hi, lo
}

// sdivmod128 divides the signed 128-bit value (hi:lo) by divisor,
// mirroring IDIV's RDX:RAX semantics. ok is false on a zero divisor or
// when the quotient doesn't fit in int64, the two conditions IDIV
// reports as #DE rather than returning a value.
func sdivmod128(hi int64, lo uint64, divisor int64) (q, r int64, ok bool) {
	if divisor == 0 {
		return 0, 0, false
	}
	negDividend := hi < 0
	uhi, ulo := uint64(hi), lo
	if negDividend {
		ulo = ^ulo + 1
		uhi = ^uhi
		if ulo == 0 {
			uhi++
		}
	}
	negDivisor := divisor < 0
	udivisor := uint64(divisor)
	if negDivisor {
		udivisor = -udivisor
	}
	if uhi >= udivisor {
		return 0, 0, false
	}
	uq, ur := bits.Div64(uhi, ulo, udivisor)
	negQuotient := negDividend != negDivisor
	if negQuotient {
		if uq > 1<<63 {
			return 0, 0, false
		}
		q = -int64(uq)
	} else {
		if uq >= 1<<63 {
			return 0, 0, false
		}
		q = int64(uq)
	}
	if negDividend {
		r = -int64(ur)
	} else {
		r = int64(ur)
	}
	return q, r, true
}

// grp5_64 implements the Grp5 /r field (INC/DEC/CALL/JMP/PUSH) for a
// 64-bit operand. Returns true (always handles, never falls through).
func (c *CPU) grp5_64() bool {
	reg := c.getModRMReg() & 7
	switch reg {
	case 0: // INC
		v := c.readRM64()
		cf := c.CF()
		c.writeRM64(c.add64(v, 1, false))
		c.setFlag(x86FlagCF, cf)
	case 1: // DEC
		v := c.readRM64()
		cf := c.CF()
		c.writeRM64(c.sub64(v, 1, false))
		c.setFlag(x86FlagCF, cf)
	case 2: // CALL near Ev
		target := c.readRM64()
		c.push64(uint64(c.EIP))
		c.RIP = target
		c.EIP = uint32(target)
	case 3: // CALL far - not modeled for 64-bit, treated as near
		target := c.readRM64()
		c.push64(uint64(c.EIP))
		c.RIP = target
		c.EIP = uint32(target)
	case 4: // JMP near Ev
		target := c.readRM64()
		c.RIP = target
		c.EIP = uint32(target)
	case 5: // JMP far - treated as near
		target := c.readRM64()
		c.RIP = target
		c.EIP = uint32(target)
	case 6: // PUSH Ev
		c.push64(c.readRM64())
	}
	return true
}

// shiftRotate64 mirrors shiftRotate8/16/32's op encoding (0=ROL,1=ROR,
// 2=RCL,3=RCR,4=SHL,5=SHR,6=SHL(alias),7=SAR) at 64-bit width. RCL and
// RCR (2, 3) have no case here: they return val unchanged.
func (c *CPU) shiftRotate64(val uint64, count byte, op byte) uint64 {
	count &= 0x3F
	if count == 0 {
		return val
	}
	switch op & 7 {
	case 0: // ROL
		result := (val << count) | (val >> (64 - count))
		c.setFlag(x86FlagCF, result&1 != 0)
		return result
	case 1: // ROR
		result := (val >> count) | (val << (64 - count))
		c.setFlag(x86FlagCF, result&(1<<63) != 0)
		return result
	case 4, 6: // SHL
		result := val << count
		c.setFlag(x86FlagCF, count <= 64 && (val>>(64-count))&1 != 0)
		return c.logic64(result)
	case 5: // SHR
		c.setFlag(x86FlagCF, (val>>(count-1))&1 != 0)
		return c.logic64(val >> count)
	case 7: // SAR
		signed := int64(val) >> count
		c.setFlag(x86FlagCF, (val>>(count-1))&1 != 0)
		return c.logic64(uint64(signed))
	default:
		return val
	}
}
