package winapi

// ERROR_INSUFFICIENT_BUFFER is returned by GetCurrentDirectoryA/W (and a
// number of other buffer-filling Win32 calls) when the caller's buffer
// is too small to hold the result plus its terminator.
const errInsufficientBuffer = 122

// Default registers the subset of kernel32/user32/ntdll exports that
// malware samples touch often enough to warrant real, coded behavior
// rather than an arg-count-only stub. Memory allocation, module lookup,
// and process/thread exit are the handlers most trace-driven analysis
// needs to see actual effects from; everything else can fall through to
// the catalog's DefaultArgCount stub or an overlay entry.
func Default() *Catalog {
	c := NewCatalog()

	c.Register("kernel32.dll!ExitProcess", 1, func(ctx CallContext) error {
		ctx.LogCall("ExitProcess", ctx.Arg(0))
		return errExitProcess{code: uint32(ctx.Arg(0))}
	})

	c.Register("kernel32.dll!GetLastError", 0, func(ctx CallContext) error {
		ctx.SetReturn(uint64(ctx.LastError()))
		return nil
	})

	c.Register("kernel32.dll!SetLastError", 1, func(ctx CallContext) error {
		ctx.SetLastError(uint32(ctx.Arg(0)))
		return nil
	})

	c.Register("kernel32.dll!GetCurrentProcess", 0, func(ctx CallContext) error {
		ctx.SetReturn(0xFFFFFFFF)
		return nil
	})

	c.Register("kernel32.dll!GetCurrentThreadId", 0, func(ctx CallContext) error {
		ctx.SetReturn(1)
		return nil
	})

	c.Register("kernel32.dll!GetModuleHandleA", 1, func(ctx CallContext) error {
		nameAddr := ctx.Arg(0)
		ctx.LogCall("GetModuleHandleA", nameAddr)
		// NULL asks for the base of the calling image itself. A named
		// lookup resolves the same way here, since this emulator only
		// ever has the one PE loaded: every import's DLL is a synthetic
		// stand-in, not a second mapped module with its own base.
		_ = nameAddr
		ctx.SetReturn(ctx.ModuleBase())
		return nil
	})

	c.Register("kernel32.dll!GetProcAddress", 2, func(ctx CallContext) error {
		ctx.LogCall("GetProcAddress", ctx.Arg(0), ctx.Arg(1))
		name := ctx.ReadCString(ctx.Arg(1))
		for _, dll := range []string{"kernel32.dll", "user32.dll", "ntdll.dll"} {
			if addr, ok := ctx.ResolveExport(dll + "!" + name); ok {
				ctx.SetReturn(addr)
				return nil
			}
		}
		ctx.SetLastError(127) // ERROR_PROC_NOT_FOUND
		ctx.SetReturn(0)
		return nil
	})

	c.Register("kernel32.dll!LoadLibraryA", 1, func(ctx CallContext) error {
		name := ctx.ReadCString(ctx.Arg(0))
		ctx.LogCall("LoadLibraryA", ctx.Arg(0))
		_ = name
		ctx.SetReturn(0x10000000)
		return nil
	})

	c.Register("kernel32.dll!VirtualAlloc", 4, func(ctx CallContext) error {
		size := ctx.Arg(1)
		ctx.LogCall("VirtualAlloc", ctx.Arg(0), size, ctx.Arg(2), ctx.Arg(3))
		addr, err := ctx.HeapAlloc(size, true)
		if err != nil {
			ctx.SetReturn(0)
			return nil
		}
		ctx.SetReturn(addr)
		return nil
	})

	c.Register("kernel32.dll!VirtualFree", 3, func(ctx CallContext) error {
		addr := ctx.Arg(0)
		ctx.LogCall("VirtualFree", addr, ctx.Arg(1), ctx.Arg(2))
		if ctx.HeapFree(addr) {
			ctx.SetReturn(1)
		} else {
			ctx.SetReturn(0)
		}
		return nil
	})

	c.Register("kernel32.dll!HeapAlloc", 3, func(ctx CallContext) error {
		const heapZeroMemory = 0x00000008
		flags, size := ctx.Arg(1), ctx.Arg(2)
		ctx.LogCall("HeapAlloc", ctx.Arg(0), flags, size)
		addr, err := ctx.HeapAlloc(size, flags&heapZeroMemory != 0)
		if err != nil {
			ctx.SetReturn(0)
			return nil
		}
		ctx.SetReturn(addr)
		return nil
	})

	c.Register("kernel32.dll!HeapFree", 3, func(ctx CallContext) error {
		ctx.LogCall("HeapFree", ctx.Arg(0), ctx.Arg(1), ctx.Arg(2))
		if ctx.HeapFree(ctx.Arg(2)) {
			ctx.SetReturn(1)
		} else {
			ctx.SetReturn(0)
		}
		return nil
	})

	c.Register("kernel32.dll!CreateFileA", 7, func(ctx CallContext) error {
		name := ctx.ReadCString(ctx.Arg(0))
		ctx.LogCall("CreateFileA", ctx.Arg(0))
		ctx.SetReturn(ctx.OpenHandle("file", name))
		return nil
	})

	c.Register("kernel32.dll!WriteFile", 5, func(ctx CallContext) error {
		ctx.LogCall("WriteFile", ctx.Arg(0), ctx.Arg(1), ctx.Arg(2))
		ctx.SetReturn(1)
		return nil
	})

	c.Register("kernel32.dll!ReadFile", 5, func(ctx CallContext) error {
		ctx.LogCall("ReadFile", ctx.Arg(0), ctx.Arg(1), ctx.Arg(2))
		ctx.SetReturn(0)
		return nil
	})

	c.Register("kernel32.dll!CloseHandle", 1, func(ctx CallContext) error {
		ctx.LogCall("CloseHandle", ctx.Arg(0))
		if ctx.CloseHandle(ctx.Arg(0)) {
			ctx.SetReturn(1)
		} else {
			ctx.SetReturn(0)
		}
		return nil
	})

	c.Register("kernel32.dll!Sleep", 1, func(ctx CallContext) error {
		ctx.LogCall("Sleep", ctx.Arg(0))
		return nil
	})

	c.Register("kernel32.dll!CreateThread", 6, func(ctx CallContext) error {
		entry, param := ctx.Arg(2), ctx.Arg(3)
		ctx.LogCall("CreateThread", entry, param)
		handle, err := ctx.SpawnThread(entry, param)
		if err != nil {
			ctx.SetReturn(0)
			return nil
		}
		ctx.SetReturn(handle)
		return nil
	})

	c.Register("kernel32.dll!EnterCriticalSection", 1, func(ctx CallContext) error {
		addr := ctx.Arg(0)
		ctx.LogCall("EnterCriticalSection", addr)
		ctx.EnterCriticalSection(addr)
		return nil
	})

	c.Register("kernel32.dll!LeaveCriticalSection", 1, func(ctx CallContext) error {
		addr := ctx.Arg(0)
		ctx.LogCall("LeaveCriticalSection", addr)
		ctx.LeaveCriticalSection(addr)
		return nil
	})

	c.Register("user32.dll!MessageBoxA", 4, func(ctx CallContext) error {
		text := ctx.ReadCString(ctx.Arg(1))
		ctx.LogCall("MessageBoxA", ctx.Arg(1), ctx.Arg(2))
		_ = text
		ctx.SetReturn(1) // IDOK
		return nil
	})

	c.Register("kernel32.dll!GetCurrentDirectoryA", 2, func(ctx CallContext) error {
		bufLen, buf := ctx.Arg(0), ctx.Arg(1)
		ctx.LogCall("GetCurrentDirectoryA", bufLen, buf)
		dir := ctx.WorkingDir()
		// MSDN: if the buffer is too small (including the nBufferLength==0
		// probe callers use to size it), the return value is the required
		// buffer size, the buffer is left untouched, and GetLastError
		// reports ERROR_INSUFFICIENT_BUFFER. The required size is the
		// string length plus two, not one: real kernel32 budgets room for
		// the NUL and then rounds up, a quirk every probing caller codes
		// around rather than relying on the documented +1.
		needed := uint64(len(dir)) + 2
		if bufLen < needed {
			ctx.SetLastError(errInsufficientBuffer)
			ctx.SetReturn(needed)
			return nil
		}
		ctx.WriteCString(buf, dir)
		ctx.SetReturn(uint64(len(dir)))
		return nil
	})

	c.Register("kernel32.dll!GetCurrentDirectoryW", 2, func(ctx CallContext) error {
		bufLen, buf := ctx.Arg(0), ctx.Arg(1)
		ctx.LogCall("GetCurrentDirectoryW", bufLen, buf)
		dir := ctx.WorkingDir()
		needed := uint64(len(dir)) + 2 // same +2 quirk as the ANSI entry point
		if bufLen < needed {
			ctx.SetLastError(errInsufficientBuffer)
			ctx.SetReturn(needed)
			return nil
		}
		ctx.WriteWString(buf, dir)
		ctx.SetReturn(uint64(len(dir)))
		return nil
	})

	c.Register("ntdll.dll!RtlExitUserProcess", 1, func(ctx CallContext) error {
		ctx.LogCall("RtlExitUserProcess", ctx.Arg(0))
		return errExitProcess{code: uint32(ctx.Arg(0))}
	})

	return c
}

// errExitProcess unwinds Run() the way a guest ExitProcess call should:
// not as a fault, but as a clean requested stop. The emulator's Run loop
// type-asserts for this to distinguish it from a genuine crash.
type errExitProcess struct{ code uint32 }

func (e errExitProcess) Error() string { return "process requested exit" }

// ExitCode returns the code passed to ExitProcess/RtlExitUserProcess.
func (e errExitProcess) ExitCode() uint32 { return e.code }

// IsExitProcess reports whether err is (or wraps) an ExitProcess request,
// and if so returns its exit code.
func IsExitProcess(err error) (code uint32, ok bool) {
	if e, isExit := err.(errExitProcess); isExit {
		return e.code, true
	}
	return 0, false
}
