package winemu

import "testing"

func newVecTestCPU(t *testing.T, code []byte) (*CPU, *Maps) {
	t.Helper()
	m := NewMaps()
	if _, err := m.CreateMap("code", 0x401000, 0x1000, PermRead|PermWrite|PermExec); err != nil {
		t.Fatalf("CreateMap: %v", err)
	}
	if err := m.WriteBytes(0x401000, code); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	c := NewCPU(m)
	c.EIP = 0x401000
	return c, m
}

// PXOR xmm0, xmm0 must zero the register regardless of its prior
// contents, the idiom compilers use instead of MOVAPS+immediate load.
func TestPXORZeroesRegister(t *testing.T) {
	c, _ := newVecTestCPU(t, []byte{0x0F, 0xEF, 0xC0}) // PXOR xmm0, xmm0
	c.Vec.SetXMM(0, 0xDEADBEEF, 0xCAFEBABE)
	c.Step()

	got := c.Vec.GetXMM(0)
	if got[0] != 0 || got[1] != 0 {
		t.Fatalf("xmm0 = %#x:%#x, want zero", got[1], got[0])
	}
}

// MOVUPS xmm1, xmm0 then MOVUPS [mem], xmm1 round-trips a 128-bit value
// through a register copy and a memory store.
func TestMOVUPSRegisterAndMemoryRoundTrip(t *testing.T) {
	code := []byte{
		0x0F, 0x10, 0xC8, // MOVUPS xmm1, xmm0
		0x0F, 0x11, 0x0D, 0x00, 0x20, 0x40, 0x00, // MOVUPS [0x00402000], xmm1
	}
	c, m := newVecTestCPU(t, code)
	if _, err := m.CreateMap("data", 0x402000, 0x1000, PermRead|PermWrite); err != nil {
		t.Fatalf("CreateMap data: %v", err)
	}
	c.Vec.SetXMM(0, 0x1122334455667788, 0x99AABBCCDDEEFF00)

	c.Step()
	c.Step()

	lo := uint64(m.Read32(0x402000)) | uint64(m.Read32(0x402004))<<32
	hi := uint64(m.Read32(0x402008)) | uint64(m.Read32(0x40200C))<<32
	if lo != 0x1122334455667788 || hi != 0x99AABBCCDDEEFF00 {
		t.Fatalf("stored xmm1 = %#x:%#x, want 1122334455667788:99aabbccddeeff00", hi, lo)
	}
}

// ADDPS xmm0, xmm1 sums each of the four packed float32 lanes.
func TestADDPSAddsPackedSingleLanes(t *testing.T) {
	c, _ := newVecTestCPU(t, []byte{0x0F, 0x58, 0xC1}) // ADDPS xmm0, xmm1
	aLo, aHi := rawFromFloat32x4([4]float32{1, 2, 3, 4})
	bLo, bHi := rawFromFloat32x4([4]float32{10, 20, 30, 40})
	c.Vec.SetXMM(0, aLo, aHi)
	c.Vec.SetXMM(1, bLo, bHi)

	c.Step()

	got := c.Vec.GetXMM(0)
	sum := rawFloat32x4(got[0], got[1])
	want := [4]float32{11, 22, 33, 44}
	if sum != want {
		t.Fatalf("ADDPS result = %v, want %v", sum, want)
	}
}

// MOVD xmm0, eax zero-extends a 32-bit GPR into the low lane and clears
// the rest of the register.
func TestMOVDFromGPRZeroExtends(t *testing.T) {
	c, _ := newVecTestCPU(t, []byte{0x0F, 0x6E, 0xC0}) // MOVD xmm0, eax
	c.EAX = 0x12345678
	c.Vec.SetXMM(0, 0xFFFFFFFFFFFFFFFF, 0xFFFFFFFFFFFFFFFF)

	c.Step()

	got := c.Vec.GetXMM(0)
	if got[0] != 0x12345678 || got[1] != 0 {
		t.Fatalf("xmm0 = %#x:%#x, want 0:12345678", got[1], got[0])
	}
}
