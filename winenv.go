// winenv.go - PEB/TEB construction
//
// Field offsets follow the real (undocumented but stable since XP)
// NT_TIB/TEB/PEB layout; this package only writes the handful of fields
// guest code actually reads in practice (FS:[0] exception chain,
// stack base/limit, the self-pointer at TEB+0x30/0x18, and PEB's
// ImageBaseAddress), not the full multi-hundred-field structure.
//
// Grounded on cpu_x86.go's fixed-offset struct-writer style (the
// donor writes bus-mapped hardware registers at fixed byte offsets the
// same way); generalized from a hardware register block to an
// in-guest-memory OS structure.

package winemu

const (
	tebOffSEHChain   = 0x00
	tebOffStackBase  = 0x04
	tebOffStackLimit = 0x08
	tebOffSelf       = 0x18
	tebOffPEB32      = 0x30
	tebOffPEB64      = 0x60

	pebOffImageBase32 = 0x08
	pebOffImageBase64 = 0x10
)

// writeTEB lays out a minimal TEB (and an adjoining minimal PEB) inside
// the region starting at tebBase, and points FS:[0] (32-bit) or
// GS:[0x30] (64-bit) worth of state at it by writing the self-referencing
// pointer real code dereferences to find its own TEB.
func writeTEB(m *Maps, tebBase, stackBase, stackSize, imageBase uint64, is64 bool) {
	stackTop := stackBase + stackSize
	if is64 {
		m.Write64(tebBase+tebOffSEHChain, 0xFFFFFFFFFFFFFFFF) // no handler registered yet
		m.Write64(tebBase+tebOffStackBase, stackTop)
		m.Write64(tebBase+tebOffStackLimit, stackBase)
		m.Write64(tebBase+tebOffSelf, tebBase)

		pebBase := tebBase + 0x1000
		m.Write64(tebBase+tebOffPEB64, pebBase)
		m.Write64(pebBase+pebOffImageBase64, imageBase)
		return
	}
	m.Write32(tebBase+tebOffSEHChain, 0xFFFFFFFF)
	m.Write32(tebBase+tebOffStackBase, uint32(stackTop))
	m.Write32(tebBase+tebOffStackLimit, uint32(stackBase))
	m.Write32(tebBase+tebOffSelf, uint32(tebBase))

	pebBase := uint32(tebBase) + 0x1000
	m.Write32(tebBase+tebOffPEB32, pebBase)
	m.Write32(uint64(pebBase)+pebOffImageBase32, uint32(imageBase))
}

// pebImageBaseOffset returns the ImageBaseAddress field offset for the
// given bitness, for callers patching PEB after the image base is known.
func pebImageBaseOffset(is64 bool) uint64 {
	if is64 {
		return pebOffImageBase64
	}
	return pebOffImageBase32
}
