package winemu

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildExitProcessImage assembles a minimal PE32 image with a real
// .idata import directory resolving kernel32.dll!ExitProcess, and a
// .text section that pushes an exit code and calls through the IAT —
// the same shape pefile.Parse's own fixture builder uses, extended
// with an import table so LoadImage has something to bind.
func buildExitProcessImage(t *testing.T, imageBase, exitCode uint32) []byte {
	t.Helper()

	const peOffset = 0x80
	const numDirs = 16
	const optHeaderSize = 96 + numDirs*8
	const coffHeaderSize = 20
	const sectionHeaderSize = 40
	const fileAlign = 0x200

	const textVA = 0x1000
	const idataVA = 0x2000
	const iatRVA = idataVA + 40      // FirstThunk array
	const hintNameRVA = idataVA + 48 // Hint/Name entry
	const dllNameRVA = idataVA + 62  // "kernel32.dll"

	iatSlotAddr := imageBase + iatRVA

	text := make([]byte, 0, 16)
	text = append(text, 0x68) // PUSH imm32
	text = binary.LittleEndian.AppendUint32(text, exitCode)
	text = append(text, 0xFF, 0x15) // CALL dword ptr [imm32]
	text = binary.LittleEndian.AppendUint32(text, iatSlotAddr)

	idata := make([]byte, 75)
	binary.LittleEndian.PutUint32(idata[0:], 0)          // OriginalFirstThunk
	binary.LittleEndian.PutUint32(idata[12:], dllNameRVA) // Name
	binary.LittleEndian.PutUint32(idata[16:], iatRVA)     // FirstThunk
	// descriptor terminator at [20:40] is already zero
	binary.LittleEndian.PutUint32(idata[40:], hintNameRVA) // FT[0]
	// FT terminator at [44:48] is already zero
	// Hint word at [48:50] already zero
	copy(idata[50:], "ExitProcess\x00")
	copy(idata[62:], "kernel32.dll\x00")

	sectionTableOff := uint32(peOffset) + 4 + coffHeaderSize + optHeaderSize + uint32(2*sectionHeaderSize)
	textRawOff := alignUp(sectionTableOff, fileAlign)
	idataRawOff := alignUp(textRawOff+uint32(len(text)), fileAlign)
	totalSize := idataRawOff + uint32(len(idata))

	buf := make([]byte, totalSize)
	buf[0], buf[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(buf[0x3C:], peOffset)

	buf[peOffset], buf[peOffset+1], buf[peOffset+2], buf[peOffset+3] = 'P', 'E', 0, 0

	coff := buf[peOffset+4:]
	binary.LittleEndian.PutUint16(coff[0:], 0x014c) // MachineI386
	binary.LittleEndian.PutUint16(coff[2:], 2)       // two sections
	binary.LittleEndian.PutUint16(coff[16:], uint16(optHeaderSize))
	binary.LittleEndian.PutUint16(coff[18:], 0x0002) // executable

	opt := coff[coffHeaderSize:]
	binary.LittleEndian.PutUint16(opt[0:], 0x010b) // Magic32
	binary.LittleEndian.PutUint32(opt[16:], textVA) // AddressOfEntryPoint
	binary.LittleEndian.PutUint32(opt[28:], imageBase)
	binary.LittleEndian.PutUint32(opt[32:], 0x1000) // SectionAlignment
	binary.LittleEndian.PutUint32(opt[36:], fileAlign)
	binary.LittleEndian.PutUint32(opt[56:], idataVA+0x1000) // SizeOfImage
	const importDirOff = 96 + 1*8
	binary.LittleEndian.PutUint32(opt[importDirOff:], idataVA)
	binary.LittleEndian.PutUint32(opt[importDirOff+4:], 40)

	sectTable := opt[optHeaderSize:]
	textHdr := sectTable[0:sectionHeaderSize]
	copy(textHdr[0:8], []byte(".text\x00\x00\x00"))
	binary.LittleEndian.PutUint32(textHdr[8:], uint32(len(text)))
	binary.LittleEndian.PutUint32(textHdr[12:], textVA)
	binary.LittleEndian.PutUint32(textHdr[16:], uint32(len(text)))
	binary.LittleEndian.PutUint32(textHdr[20:], textRawOff)
	binary.LittleEndian.PutUint32(textHdr[36:], 0x60000020) // CODE|READ|EXEC

	idataHdr := sectTable[sectionHeaderSize : 2*sectionHeaderSize]
	copy(idataHdr[0:8], []byte(".idata\x00\x00"))
	binary.LittleEndian.PutUint32(idataHdr[8:], uint32(len(idata)))
	binary.LittleEndian.PutUint32(idataHdr[12:], idataVA)
	binary.LittleEndian.PutUint32(idataHdr[16:], uint32(len(idata)))
	binary.LittleEndian.PutUint32(idataHdr[20:], idataRawOff)
	binary.LittleEndian.PutUint32(idataHdr[36:], 0xC0000040) // READ|WRITE|INIT

	copy(buf[textRawOff:], text)
	copy(buf[idataRawOff:], idata)
	return buf
}

func alignUp(v, align uint32) uint32 {
	if v%align == 0 {
		return v
	}
	return v + (align - v%align)
}

func TestEmulatorRunsExitProcessThroughIAT(t *testing.T) {
	data := buildExitProcessImage(t, 0x400000, 42)

	e := NewEmulator(Config{})
	require.NoError(t, e.LoadImage(data))

	reason, err := e.Run(context.Background(), 1000)
	require.NoError(t, err)
	require.Equal(t, StopHalted, reason) // ExitProcess terminates the only thread
	require.Equal(t, uint32(42), e.mainThread.ExitCode)
}

func TestEmulatorReportsUnknownImportWithoutBanzai(t *testing.T) {
	data := buildExitProcessImage(t, 0x400000, 7)
	// Corrupt the import name so it resolves to an unregistered symbol.
	idataStart := len(data) - 75
	copy(data[idataStart+50:], "NotARealFunction\x00")

	e := NewEmulator(Config{})
	require.NoError(t, e.LoadImage(data))

	reason, err := e.Run(context.Background(), 1000)
	require.NoError(t, err) // the fault terminates the thread; Run itself reports a clean halt
	require.Equal(t, StopHalted, reason)
	require.Equal(t, ThreadTerminated, e.mainThread.State)
	require.Zero(t, e.mainThread.ExitCode) // never reached ExitProcess
}
