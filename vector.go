// vector.go - SSE/AVX/AVX-512 vector register bank
//
// The donor has no SIMD analogue (its coprocessors are scalar FPUs), so
// this is new code; it is shaped like the rest of the register-file state
// in cpu_x86.go (fixed-size arrays, narrow getter/setter methods) to stay
// in the same idiom as everything around it.

package winemu

import "math"

// VectorRegs holds the XMM/YMM/ZMM register bank as 64-bit lane pairs
// (two lanes per 128-bit slice) plus the eight AVX-512 mask registers.
// YMM upper halves are modeled separately from XMM so 128-bit SSE writes
// correctly zero the upper 128 bits the way real VEX-encoded instructions
// do, without needing a full 512-bit backing array per register.
type VectorRegs struct {
	XMM      [16][2]uint64 // low 128 bits of each ZMM register
	YMMUpper [16][2]uint64 // bits 128-255
	ZMMUpper [16][4]uint64 // bits 256-511 (AVX-512 only)
	K        [8]uint64     // mask registers k0-k7
}

func NewVectorRegs() *VectorRegs { return &VectorRegs{} }

func (v *VectorRegs) GetXMM(i int) [2]uint64 { return v.XMM[i&0xF] }

func (v *VectorRegs) SetXMM(i int, lo, hi uint64) {
	v.XMM[i&0xF] = [2]uint64{lo, hi}
}

// SetXMMZeroUpper writes a 128-bit result and, per VEX-encoding semantics,
// zeroes the corresponding YMM/ZMM upper bits.
func (v *VectorRegs) SetXMMZeroUpper(i int, lo, hi uint64) {
	v.SetXMM(i, lo, hi)
	v.YMMUpper[i&0xF] = [2]uint64{0, 0}
	v.ZMMUpper[i&0xF] = [4]uint64{0, 0, 0, 0}
}

func (v *VectorRegs) GetYMM(i int) [4]uint64 {
	lo := v.XMM[i&0xF]
	hi := v.YMMUpper[i&0xF]
	return [4]uint64{lo[0], lo[1], hi[0], hi[1]}
}

func (v *VectorRegs) SetYMM(i int, lanes [4]uint64) {
	v.XMM[i&0xF] = [2]uint64{lanes[0], lanes[1]}
	v.YMMUpper[i&0xF] = [2]uint64{lanes[2], lanes[3]}
}

func (v *VectorRegs) MaskBit(k int, lane int) bool {
	return v.K[k&7]&(1<<uint(lane)) != 0
}

func (v *VectorRegs) SetMask(k int, bits uint64) { v.K[k&7] = bits }

// XMMBytes returns the 16 bytes of an XMM register in little-endian lane
// order, for byte-granular SIMD ops (PSHUFB, PACKUSWB, comparisons).
func (v *VectorRegs) XMMBytes(i int) [16]byte {
	reg := v.XMM[i&0xF]
	var out [16]byte
	for lane := 0; lane < 2; lane++ {
		word := reg[lane]
		for b := 0; b < 8; b++ {
			out[lane*8+b] = byte(word >> (8 * b))
		}
	}
	return out
}

func (v *VectorRegs) SetXMMBytes(i int, b [16]byte) {
	var lo, hi uint64
	for k := 0; k < 8; k++ {
		lo |= uint64(b[k]) << (8 * k)
		hi |= uint64(b[8+k]) << (8 * k)
	}
	v.SetXMM(i, lo, hi)
}

// XMMFloat32s returns an XMM register as four packed float32 lanes
// (MOVAPS/ADDPS/MULPS family).
func (v *VectorRegs) XMMFloat32s(i int) [4]float32 {
	b := v.XMMBytes(i)
	var out [4]float32
	for lane := 0; lane < 4; lane++ {
		bits := uint32(b[lane*4]) | uint32(b[lane*4+1])<<8 | uint32(b[lane*4+2])<<16 | uint32(b[lane*4+3])<<24
		out[lane] = math.Float32frombits(bits)
	}
	return out
}

func (v *VectorRegs) SetXMMFloat32s(i int, f [4]float32) {
	var b [16]byte
	for lane := 0; lane < 4; lane++ {
		bits := math.Float32bits(f[lane])
		b[lane*4] = byte(bits)
		b[lane*4+1] = byte(bits >> 8)
		b[lane*4+2] = byte(bits >> 16)
		b[lane*4+3] = byte(bits >> 24)
	}
	v.SetXMMBytes(i, b)
}

// XMMFloat64s returns an XMM register as two packed float64 lanes
// (MOVAPD/ADDPD/MULPD family).
func (v *VectorRegs) XMMFloat64s(i int) [2]float64 {
	reg := v.XMM[i&0xF]
	return [2]float64{math.Float64frombits(reg[0]), math.Float64frombits(reg[1])}
}

func (v *VectorRegs) SetXMMFloat64s(i int, f [2]float64) {
	v.SetXMM(i, math.Float64bits(f[0]), math.Float64bits(f[1]))
}

// rawFloat32x4/rawFromFloat32x4 and rawFloat64x2/rawFromFloat64x2 convert
// a bare (lo, hi) lane pair to/from packed floats without going through a
// register index, for arithmetic ops whose source operand may come
// straight off the bus rather than out of the register file.
func rawFloat32x4(lo, hi uint64) [4]float32 {
	var out [4]float32
	words := [2]uint64{lo, hi}
	for lane := 0; lane < 4; lane++ {
		word := words[lane/2]
		bits := uint32(word >> (32 * (lane % 2)))
		out[lane] = math.Float32frombits(bits)
	}
	return out
}

func rawFromFloat32x4(f [4]float32) (lo, hi uint64) {
	lo = uint64(math.Float32bits(f[0])) | uint64(math.Float32bits(f[1]))<<32
	hi = uint64(math.Float32bits(f[2])) | uint64(math.Float32bits(f[3]))<<32
	return
}

func rawFloat64x2(lo, hi uint64) [2]float64 {
	return [2]float64{math.Float64frombits(lo), math.Float64frombits(hi)}
}

func rawFromFloat64x2(f [2]float64) (lo, hi uint64) {
	return math.Float64bits(f[0]), math.Float64bits(f[1])
}
