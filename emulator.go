// emulator.go - top-level entry point wiring the address space, the
// thread scheduler, the API gateway and the instrumentation hooks into
// one driveable unit.
//
// Grounded on the donor's top-level machine type (machine_bus.go, since
// removed along with the fixed hardware bus it managed): that struct
// owned a CPU, a bus, and the peripherals wired to it, and exposed
// Reset/Step/Run. Emulator keeps that shape but swaps "peripherals" for
// "loaded image + API catalog + guest threads".

package winemu

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/intuitionamiga/winemu/pefile"
	"github.com/intuitionamiga/winemu/winapi"
)

// Config controls how a new Emulator builds its address space and
// scheduling policy. Zero-value Config is usable: NewEmulator fills in
// defaults for anything left unset.
type Config struct {
	StackSize     uint64 // per-thread stack reservation, default 1MB
	InitialHeap   uint64 // default 1MB
	Quantum       int    // instructions per scheduling rotation, default 10000
	Banzai        bool   // lenient unmapped-memory / unknown-API handling
	Trace         bool   // log every executed instruction via the x86asm decoder
	Logger        *zap.SugaredLogger
	CatalogOverlayPath string // optional YAML file of extra import arg-counts
	WorkingDir    string // guest-visible CWD for GetCurrentDirectoryA/W, default `C:\Users\user\Desktop`
}

func (cfg *Config) fillDefaults() {
	if cfg.StackSize == 0 {
		cfg.StackSize = 1 << 20
	}
	if cfg.InitialHeap == 0 {
		cfg.InitialHeap = 1 << 20
	}
	if cfg.Quantum == 0 {
		cfg.Quantum = 10000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = `C:\Users\user\Desktop`
	}
}

// Emulator is one emulated process: its address space, its guest
// threads, the loaded image, the API gateway standing in for imported
// DLLs, and the instrumentation hooks an embedding analysis tool drives
// through.
type Emulator struct {
	Config Config
	Maps    *Maps
	Heap    *Heap
	Hooks   *Hooks
	Sched   *Scheduler
	Seh     *SEHManager
	Handles *HandleTable
	log     *zap.SugaredLogger

	catalog *winapi.Catalog
	image   *pefile.File
	imgBase uint64

	// apiStubs maps a synthetic IAT-stub address to the "dll!Name"
	// catalog key it represents; exportsByKey is its inverse, letting
	// GetProcAddress/GetModuleHandleA resolve a name back to an address
	// the way the real loader's export directory would.
	apiStubs     map[uint64]string
	exportsByKey map[string]uint64

	mainThread *Thread
	lastTrapErr error

	// lastErr is the per-process GetLastError/SetLastError value. Real
	// Windows keeps this per-thread (in the TEB); a single process-wide
	// slot is sufficient since this emulator only ever runs one guest
	// thread at a time (the scheduler never actually preempts mid-call).
	lastErr uint32
}

// NewEmulator builds an empty emulator ready to receive a LoadImage
// call.
func NewEmulator(cfg Config) *Emulator {
	cfg.fillDefaults()
	m := NewMaps()
	m.Lenient = cfg.Banzai
	e := &Emulator{
		Config:  cfg,
		Maps:    m,
		Heap:    NewHeap(m, cfg.Banzai),
		Hooks:   NewHooks(),
		Sched:   NewScheduler(cfg.Quantum),
		Seh:     NewSEHManager(m),
		Handles: NewHandleTable(),
		log:     cfg.Logger,
		catalog: winapi.Default(),
	}
	if cfg.CatalogOverlayPath != "" {
		if err := e.catalog.LoadOverlay(cfg.CatalogOverlayPath); err != nil {
			e.log.Warnw("catalog overlay not loaded", "path", cfg.CatalogOverlayPath, "error", err)
		}
	}
	if cfg.Trace {
		e.Hooks.AddPreInstruction(NewInstructionTraceHook())
	}
	return e
}

// LoadImage parses a PE image, maps its sections, builds the PEB/TEB for
// the main thread, resolves its imports against the API catalog (each
// IAT slot gets a distinct synthetic stub address so a CALL through the
// IAT lands somewhere Step() recognizes as "fire the API gateway"), and
// leaves the emulator ready for Run.
func (e *Emulator) LoadImage(data []byte) error {
	f, err := pefile.Parse(data)
	if err != nil {
		return fmt.Errorf("winemu: loading image: %w", err)
	}
	e.image = f
	e.imgBase = f.ImageBase

	for _, sec := range f.Sections {
		perm := PermRead
		if sec.Writable() {
			perm |= PermWrite
		}
		if sec.Executable() {
			perm |= PermExec
		}
		base := f.ImageBase + uint64(sec.VirtualAddress)
		size := uint64(sec.VirtualSize)
		if size == 0 {
			size = uint64(sec.SizeOfRawData)
		}
		region, err := e.Maps.CreateMap(sec.Name, base, size, perm)
		if err != nil {
			return fmt.Errorf("winemu: mapping section %q: %w", sec.Name, err)
		}
		copy(region.Bytes, sec.Raw)
	}

	if err := e.applyRelocations(); err != nil {
		return err
	}
	if err := e.bindImports(); err != nil {
		return err
	}

	heapRegion, err := e.allocCode("heap", e.Config.InitialHeap, PermRead|PermWrite)
	if err != nil {
		return fmt.Errorf("winemu: reserving heap: %w", err)
	}
	e.Heap.Reserve(heapRegion)

	t, err := e.spawnThread(f.ImageBase + uint64(f.EntryPointRVA))
	if err != nil {
		return err
	}
	e.mainThread = t
	e.log.Infow("image loaded", "image", f.String())
	return nil
}

func (e *Emulator) applyRelocations() error {
	// A loader that honors ImageBase exactly (no ASLR) never needs to
	// walk the relocation table; it is parsed and kept on File for a
	// future ASLR mode but not applied here.
	return nil
}

// apiGatewayVector is the INT vector of the synthetic stub bindImports
// writes for each import (each IAT slot holds its stub's address): INT
// 0xFE (a vector the donor's dispatch table left unused) followed by RET
// on 64-bit images or RET imm16 on 32-bit ones, so a CALL [IAT slot]
// traps into the API gateway and then returns to the caller exactly as a
// real thunk would.
const apiGatewayVector = 0xFE

func (e *Emulator) allocCode(name string, size uint64, perm Perm) (*MemoryRegion, error) {
	if e.image.Is64 {
		return e.Maps.AllocAnonymous(name, size, perm)
	}
	return e.Maps.AllocAnonymousLow(name, size, perm)
}

func (e *Emulator) bindImports() error {
	stubBase, err := e.allocCode("iat_stubs", uint64(len(e.image.Imports)+1)*8, PermRead|PermExec)
	if err != nil {
		return err
	}
	e.apiStubs = make(map[uint64]string, len(e.image.Imports))
	e.exportsByKey = make(map[string]uint64, len(e.image.Imports))
	for i, imp := range e.image.Imports {
		stubAddr := stubBase.Base + uint64(i)*8
		e.Maps.Write8(stubAddr, 0xCD) // INT imm8
		e.Maps.Write8(stubAddr+1, apiGatewayVector)

		key := imp.DLL + "!" + imp.Name
		if imp.ByOrdinal {
			key = fmt.Sprintf("%s!#%d", imp.DLL, imp.Ordinal)
		}
		e.apiStubs[stubAddr] = key
		e.exportsByKey[key] = stubAddr

		// A real imported function's own epilogue is what performs
		// stdcall's callee-side stack cleanup; since the synthetic
		// gateway stands in for that whole function body, it has to
		// reproduce the cleanup too. Microsoft x64 is caller-clean (the
		// shadow space absorbs it), so only the 32-bit stub needs the
		// imm16 form.
		if e.image.Is64 {
			e.Maps.Write8(stubAddr+2, 0xC3) // RET
		} else {
			e.Maps.Write8(stubAddr+2, 0xC2) // RET imm16
			e.Maps.Write16(stubAddr+3, uint16(e.catalog.ArgCountFor(key)*4))
		}

		iatAddr := e.imgBase + uint64(imp.IATRVA)
		if e.image.Is64 {
			e.Maps.Write64(iatAddr, stubAddr)
		} else {
			e.Maps.Write32(iatAddr, uint32(stubAddr))
		}
	}
	return nil
}

func (e *Emulator) spawnThread(entry uint64) (*Thread, error) {
	idx := len(e.Sched.Threads())
	stack, err := e.allocCode(fmt.Sprintf("stack_%d", idx), e.Config.StackSize, PermRead|PermWrite)
	if err != nil {
		return nil, err
	}
	teb, err := e.allocCode(fmt.Sprintf("teb_%d", idx), 0x1000, PermRead|PermWrite)
	if err != nil {
		return nil, err
	}

	cpu := NewCPU(e.Maps)
	cpu.LongMode = e.image.Is64
	cpu.EIP = uint32(entry)
	cpu.RIP = entry
	sp := stack.Base + stack.Size - 0x100
	cpu.ESP = uint32(sp)
	cpu.setReg64(x86RegRSP, sp)

	t := &Thread{
		CPU:       cpu,
		StackBase: stack.Base,
		StackSize: stack.Size,
		TEBAddr:   teb.Base,
	}

	// A CALL through the IAT lands on a synthetic INT apiGatewayVector;
	// the gateway runs synchronously inside opINT and the subsequent RET
	// (already present at stubAddr+2) returns control to the caller
	// exactly as a real stdcall thunk would.
	cpu.SoftInterruptHook = func(vector byte) bool {
		if vector == apiGatewayVector {
			stubAddr := uint64(cpu.EIP) - 2
			if cpu.LongMode {
				stubAddr = cpu.RIP - 2
			}
			name, ok := e.apiStubs[stubAddr]
			if !ok {
				return false
			}
			e.lastTrapErr = e.dispatchAPI(t, name)
			return true
		}
		if vector < 32 {
			e.Hooks.fireInterrupt(e, t, vector)
			if e.Seh.Dispatch(t, vector) {
				return true
			}
			e.lastTrapErr = fmt.Errorf("winemu: vector 0x%x at thread %d: %w", vector, t.ID, ErrExceptionUnhandled)
			return true
		}
		return false
	}

	writeTEB(e.Maps, teb.Base, stack.Base, stack.Size, e.imgBase, e.image.Is64)
	e.Sched.AddThread(t)
	return t, nil
}

// StubName returns the "dll!Name" catalog key bound at addr, if addr is
// a synthetic import gateway, for annotating disassembly and traces
// with the real API a CALL/JMP reached.
func (e *Emulator) StubName(addr uint64) (string, bool) {
	name, ok := e.apiStubs[addr]
	return name, ok
}

// spawnGuestThread backs the CreateThread import: it registers a new
// thread with the scheduler starting at entry, delivering param the way
// a real ThreadProc(LPVOID lpParameter) would receive it — in RCX for
// Microsoft x64, or as the lone stdcall argument a 32-bit ThreadProc
// reads at [esp+4] for stdcall. There is no real caller to return to, so
// a 32-bit thread's synthetic return address is 0; a ThreadProc that
// falls off the end rather than calling ExitThread faults on that
// address the same way it would crash for real.
func (e *Emulator) spawnGuestThread(entry, param uint64) (*Thread, error) {
	t, err := e.spawnThread(entry)
	if err != nil {
		return nil, err
	}
	if t.CPU.LongMode {
		t.CPU.setReg64(x86RegRCX, param)
		return t, nil
	}
	sp := uint64(t.CPU.ESP) - 8
	e.Maps.Write32(sp, 0)
	e.Maps.Write32(sp+4, uint32(param))
	t.CPU.ESP = uint32(sp)
	t.CPU.setReg64(x86RegRSP, sp)
	return t, nil
}

// Run drives every guest thread to completion, dispatching API calls and
// exceptions as they occur. maxInstructions (when positive) caps the
// number of scheduler rounds, not single instructions: each round gives
// one runnable thread up to Config.Quantum instructions, so a run can
// execute up to maxInstructions*Quantum instructions. Run returns
// StopHalted once no thread is runnable, StopInstructionLimit when the
// round cap is reached, and StopUnknown with the context's error on
// cancellation; it does not report a per-thread stop reason.
func (e *Emulator) Run(ctx context.Context, maxInstructions int) (StopReason, error) {
	if e.image == nil {
		return StopUnknown, ErrNotLoaded
	}
	ran := 0
	for ran < maxInstructions || maxInstructions <= 0 {
		select {
		case <-ctx.Done():
			return StopUnknown, ctx.Err()
		default:
		}
		progressed := e.Sched.Step(func(t *Thread, quantum int) (int, bool) {
			n, reason, err := e.runThreadQuantum(t, quantum)
			if err != nil {
				if code, ok := winapi.IsExitProcess(err); ok {
					t.ExitCode = code
					return n, true
				}
				e.log.Warnw("thread faulted", "thread", t.ID, "error", err)
				return n, true
			}
			return n, reason == StopHalted
		})
		if !progressed {
			return StopHalted, nil
		}
		ran++
	}
	return StopInstructionLimit, nil
}

func (e *Emulator) runThreadQuantum(t *Thread, quantum int) (int, StopReason, error) {
	c := t.CPU
	for i := 0; i < quantum; i++ {
		if c.Halted {
			return i, StopHalted, nil
		}
		pc := uint64(c.EIP)
		if c.LongMode {
			pc = c.RIP
		}
		if bp, ok := e.Hooks.breakpointAt(pc); ok {
			bp.HitCount++
			if evaluateConditionWithHitCount(bp.Condition, NewDebugger(e, t), bp.HitCount) {
				return i, StopBreakpoint, nil
			}
		}
		if !e.Hooks.firePreInstruction(e, t, pc) {
			continue
		}
		c.Step()
		e.Hooks.firePostInstruction(e, t, pc)

		if t.State == ThreadBlocked {
			return i + 1, StopBlocked, nil
		}

		if e.lastTrapErr != nil {
			err := e.lastTrapErr
			e.lastTrapErr = nil
			return i + 1, StopException, err
		}
	}
	return quantum, StopInstructionLimit, nil
}

func (e *Emulator) dispatchAPI(t *Thread, name string) error {
	ctx := &apiCallContext{e: e, t: t}
	e.Hooks.firePreAPI(e, t, name)
	ok, err := e.catalog.Call(name, ctx)
	if !ok && !e.Config.Banzai {
		return fmt.Errorf("winemu: call to %s: %w", name, ErrUnknownAPI)
	}
	e.Hooks.firePostAPI(e, t, name)
	return err
}

// debugger builds a throwaway Debugger bound to the main thread, or
// returns nil before LoadImage. The Run loop does not use it: it builds
// a Debugger for the running thread with NewDebugger when evaluating a
// breakpoint condition.
func (e *Emulator) debugger() *Debugger {
	if e.mainThread == nil {
		return nil
	}
	return NewDebugger(e, e.mainThread)
}

