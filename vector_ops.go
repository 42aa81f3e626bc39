// vector_ops.go - SSE/SSE2 opcode handlers dispatched out of
// extendedOps, operating on the CPU.Vec register bank (vector.go).
//
// Mirrors the split between fpu_x87.go (register model) and
// fpu_x87_ops.go (the opcode handlers CPU.extendedOps dispatches into
// it): vector.go owns the register file, this file owns the wiring.

package winemu

// readRMXMM reads a 128-bit operand named by the current ModR/M byte:
// a register operand reads CPU.Vec directly, a memory operand reads
// four little-endian 32-bit words off the bus.
func (c *CPU) readRMXMM() (lo, hi uint64) {
	if c.getModRMMod() == 3 {
		v := c.Vec.GetXMM(c.modrmRMExt() & 0xF)
		return v[0], v[1]
	}
	addr := c.getEffectiveAddress()
	lo = uint64(c.read32(addr)) | uint64(c.read32(addr+4))<<32
	hi = uint64(c.read32(addr+8)) | uint64(c.read32(addr+12))<<32
	return
}

func (c *CPU) writeRMXMM(lo, hi uint64) {
	if c.getModRMMod() == 3 {
		c.Vec.SetXMM(c.modrmRMExt()&0xF, lo, hi)
		return
	}
	addr := c.getEffectiveAddress()
	c.write32(addr, uint32(lo))
	c.write32(addr+4, uint32(lo>>32))
	c.write32(addr+8, uint32(hi))
	c.write32(addr+12, uint32(hi>>32))
}

// opMOVUPS_load is MOVUPS/MOVAPS Vx, Wx (0F 10 / 0F 28): xmm <- Ev.
func (c *CPU) opMOVUPS_load() {
	c.fetchModRM()
	lo, hi := c.readRMXMM()
	c.Vec.SetXMM(c.modrmRegExt()&0xF, lo, hi)
	c.Cycles++
}

// opMOVUPS_store is MOVUPS/MOVAPS Wx, Vx (0F 11 / 0F 29): Ev <- xmm.
func (c *CPU) opMOVUPS_store() {
	c.fetchModRM()
	v := c.Vec.GetXMM(c.modrmRegExt() & 0xF)
	c.writeRMXMM(v[0], v[1])
	c.Cycles++
}

// opMOVD_Q_load is MOVD/MOVQ Vx, Ey (0F 6E): widens a GPR/memory dword
// (or, under REX.W, a qword) into the low lane of an XMM register,
// zeroing the rest the way the real instruction does.
func (c *CPU) opMOVD_Q_load() {
	c.fetchModRM()
	reg := c.modrmRegExt() & 0xF
	if c.rexW {
		c.Vec.SetXMMZeroUpper(reg, c.readRM64(), 0)
	} else {
		c.Vec.SetXMMZeroUpper(reg, uint64(c.readRM32()), 0)
	}
	c.Cycles++
}

// opMOVD_Q_store is MOVD/MOVQ Ey, Vx (0F 7E): narrows the low lane of an
// XMM register back down to a GPR or memory operand.
func (c *CPU) opMOVD_Q_store() {
	c.fetchModRM()
	v := c.Vec.GetXMM(c.modrmRegExt() & 0xF)
	if c.rexW {
		c.writeRM64(v[0])
	} else {
		c.writeRM32(uint32(v[0]))
	}
	c.Cycles++
}

// opPXOR is PXOR Vx, Wx (0F EF): bitwise XOR across both lanes, the
// idiom compilers use to zero an XMM register.
func (c *CPU) opPXOR() {
	c.fetchModRM()
	reg := c.modrmRegExt() & 0xF
	dst := c.Vec.GetXMM(reg)
	lo, hi := c.readRMXMM()
	c.Vec.SetXMM(reg, dst[0]^lo, dst[1]^hi)
	c.Cycles++
}

// opXORPS is XORPS Vx, Wx (0F 57): same bit pattern as PXOR, kept
// distinct because real code picks one mnemonic or the other based on
// whether it's clearing an integer or floating-point register.
func (c *CPU) opXORPS() {
	c.opPXOR()
}

// packedBinaryPS dispatches a packed arithmetic op to the float32x4 or
// (under the 0x66 operand-size prefix) float64x2 lane width, matching
// how ADDPS/ADDPD, MULPS/MULPD and SUBPS/SUBPD share an opcode byte and
// split only on that prefix.
func (c *CPU) packedBinaryPS(ps func(a, b float32) float32, pd func(a, b float64) float64) {
	c.fetchModRM()
	reg := c.modrmRegExt() & 0xF
	dst := c.Vec.GetXMM(reg)
	srcLo, srcHi := c.readRMXMM()

	if c.prefixOpSize {
		a := rawFloat64x2(dst[0], dst[1])
		b := rawFloat64x2(srcLo, srcHi)
		lo, hi := rawFromFloat64x2([2]float64{pd(a[0], b[0]), pd(a[1], b[1])})
		c.Vec.SetXMM(reg, lo, hi)
		c.Cycles++
		return
	}

	a := rawFloat32x4(dst[0], dst[1])
	b := rawFloat32x4(srcLo, srcHi)
	lo, hi := rawFromFloat32x4([4]float32{ps(a[0], b[0]), ps(a[1], b[1]), ps(a[2], b[2]), ps(a[3], b[3])})
	c.Vec.SetXMM(reg, lo, hi)
	c.Cycles++
}

func (c *CPU) opADDPS() {
	c.packedBinaryPS(
		func(a, b float32) float32 { return a + b },
		func(a, b float64) float64 { return a + b },
	)
}

func (c *CPU) opMULPS() {
	c.packedBinaryPS(
		func(a, b float32) float32 { return a * b },
		func(a, b float64) float64 { return a * b },
	)
}

func (c *CPU) opSUBPS() {
	c.packedBinaryPS(
		func(a, b float32) float32 { return a - b },
		func(a, b float64) float64 { return a - b },
	)
}
