package winapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCtx struct {
	args       []uint64
	ret        uint64
	is64       bool
	heap       map[uint64]uint64
	nextHeap   uint64
	calls      []string
	sections   map[uint64]int // addr -> owner count, >0 means held
	exports    map[string]uint64
	moduleBase uint64
	workingDir string
	lastErr    uint32
	spawned    []uint64 // entry addresses passed to SpawnThread
}

func newFakeCtx(args ...uint64) *fakeCtx {
	return &fakeCtx{
		args:       args,
		heap:       make(map[uint64]uint64),
		nextHeap:   0x1000,
		sections:   make(map[uint64]int),
		exports:    make(map[string]uint64),
		moduleBase: 0x400000,
		workingDir: `C:\Users\user\Desktop`,
	}
}

func (f *fakeCtx) Arg(i int) uint64     { return f.args[i] }
func (f *fakeCtx) SetReturn(v uint64)   { f.ret = v }
func (f *fakeCtx) ReadCString(uint64) string  { return "" }
func (f *fakeCtx) ReadWString(uint64) string  { return "" }
func (f *fakeCtx) WriteCString(uint64, string) {}
func (f *fakeCtx) WriteWString(uint64, string) {}
func (f *fakeCtx) Is64() bool            { return f.is64 }
func (f *fakeCtx) LogCall(name string, args ...uint64) { f.calls = append(f.calls, name) }
func (f *fakeCtx) HeapAlloc(size uint64, zero bool) (uint64, error) {
	addr := f.nextHeap
	f.nextHeap += size
	f.heap[addr] = size
	return addr, nil
}
func (f *fakeCtx) HeapFree(addr uint64) bool {
	_, ok := f.heap[addr]
	delete(f.heap, addr)
	return ok
}
func (f *fakeCtx) OpenHandle(kind, name string) uint64 {
	f.nextHeap += 4
	return f.nextHeap
}
func (f *fakeCtx) CloseHandle(id uint64) bool { return true }

func (f *fakeCtx) EnterCriticalSection(addr uint64) bool {
	if f.sections[addr] > 0 {
		f.sections[addr]++
		return false
	}
	f.sections[addr] = 1
	return true
}

func (f *fakeCtx) LeaveCriticalSection(addr uint64) {
	if f.sections[addr] > 0 {
		f.sections[addr]--
	}
}

func (f *fakeCtx) SpawnThread(entry, param uint64) (uint64, error) {
	f.spawned = append(f.spawned, entry)
	f.nextHeap += 4
	return f.nextHeap, nil
}

func (f *fakeCtx) ResolveExport(key string) (uint64, bool) {
	addr, ok := f.exports[key]
	return addr, ok
}

func (f *fakeCtx) ModuleBase() uint64 { return f.moduleBase }

func (f *fakeCtx) WorkingDir() string { return f.workingDir }

func (f *fakeCtx) LastError() uint32       { return f.lastErr }
func (f *fakeCtx) SetLastError(code uint32) { f.lastErr = code }

func TestDefaultCatalogExitProcessSignalsExit(t *testing.T) {
	c := Default()
	ctx := newFakeCtx(42)
	ok, err := c.Call("kernel32.dll!ExitProcess", ctx)
	require.True(t, ok)
	code, isExit := IsExitProcess(err)
	require.True(t, isExit)
	require.Equal(t, uint32(42), code)
}

func TestDefaultCatalogUnknownImportNotFound(t *testing.T) {
	c := Default()
	ok, err := c.Call("kernel32.dll!SomeObscureExport", newFakeCtx())
	require.False(t, ok)
	require.NoError(t, err)
}

func TestCatalogArgCountFallback(t *testing.T) {
	c := NewCatalog()
	require.Equal(t, 4, c.ArgCountFor("anything.dll!Unknown"))
	c.Register("a.dll!Known", 2, nil)
	require.Equal(t, 2, c.ArgCountFor("a.dll!Known"))
}

func TestHeapAllocHandlerReturnsAddress(t *testing.T) {
	c := Default()
	ctx := newFakeCtx(0, 0, 64)
	_, err := c.Call("kernel32.dll!HeapAlloc", ctx)
	require.NoError(t, err)
	require.NotZero(t, ctx.ret)
}

func TestCreateFileThenCloseHandleRoundTrip(t *testing.T) {
	c := Default()
	ctx := newFakeCtx(0, 0, 0, 0, 0, 0, 0)
	_, err := c.Call("kernel32.dll!CreateFileA", ctx)
	require.NoError(t, err)
	handle := ctx.ret
	require.NotZero(t, handle)

	ctx2 := newFakeCtx(handle)
	_, err = c.Call("kernel32.dll!CloseHandle", ctx2)
	require.NoError(t, err)
	require.EqualValues(t, 1, ctx2.ret)
}

func TestCreateThreadSpawnsAndReturnsHandle(t *testing.T) {
	c := Default()
	ctx := newFakeCtx(0, 0, 0x401000, 0xAABBCC, 0, 0)
	_, err := c.Call("kernel32.dll!CreateThread", ctx)
	require.NoError(t, err)
	require.NotZero(t, ctx.ret)
	require.Equal(t, []uint64{0x401000}, ctx.spawned)
}

func TestCriticalSectionEnterThenLeaveRoundTrips(t *testing.T) {
	c := Default()
	addr := uint64(0x402000)
	_, err := c.Call("kernel32.dll!EnterCriticalSection", newFakeCtx(addr))
	require.NoError(t, err)

	ctx := newFakeCtx(addr)
	ctx.sections[addr] = 1 // already held, as the Enter call above left it
	_, err = c.Call("kernel32.dll!LeaveCriticalSection", ctx)
	require.NoError(t, err)
	require.Zero(t, ctx.sections[addr])
}

func TestGetCurrentDirectoryAReportsInsufficientBuffer(t *testing.T) {
	c := Default()
	ctx := newFakeCtx(0, 0)
	_, err := c.Call("kernel32.dll!GetCurrentDirectoryA", ctx)
	require.NoError(t, err)
	require.EqualValues(t, len(ctx.workingDir)+2, ctx.ret)
	require.EqualValues(t, 122, ctx.lastErr)
}

func TestGetCurrentDirectoryAFillsBufferWhenLargeEnough(t *testing.T) {
	c := Default()
	ctx := newFakeCtx(uint64(len(`C:\Users\user\Desktop`))+2, 0x3000)
	_, err := c.Call("kernel32.dll!GetCurrentDirectoryA", ctx)
	require.NoError(t, err)
	require.EqualValues(t, len(ctx.workingDir), ctx.ret)
}

func TestVirtualFreeReleasesHeapBlock(t *testing.T) {
	c := Default()
	allocCtx := newFakeCtx(0, 4096, 0x1000, 4)
	_, err := c.Call("kernel32.dll!VirtualAlloc", allocCtx)
	require.NoError(t, err)
	addr := allocCtx.ret
	require.NotZero(t, addr)

	freeCtx := newFakeCtx(addr, 0, 0x8000)
	_, err = c.Call("kernel32.dll!VirtualFree", freeCtx)
	require.NoError(t, err)
	require.EqualValues(t, 1, freeCtx.ret)
}

func TestGetModuleHandleAReturnsModuleBase(t *testing.T) {
	c := Default()
	ctx := newFakeCtx(0)
	_, err := c.Call("kernel32.dll!GetModuleHandleA", ctx)
	require.NoError(t, err)
	require.Equal(t, ctx.moduleBase, ctx.ret)
}

func TestMessageBoxReturnsIDOK(t *testing.T) {
	c := Default()
	ctx := newFakeCtx(0, 0, 0, 0)
	_, err := c.Call("user32.dll!MessageBoxA", ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, ctx.ret)
}
