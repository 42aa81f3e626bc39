// Package winapi is the Win32 import gateway: a name-keyed table of
// handlers invoked in place of the real DLL code a loaded image imports,
// plus the stdcall/Microsoft-x64 argument-count metadata needed to unwind
// the caller's stack correctly even for imports with no handler.
//
// Grounded on the donor's coprocessor worker dispatch-by-name idiom
// (coproc_worker_x86.go's opcode-name-to-func map, since removed along
// with the fixed-bus architecture it served) generalized from opcode
// mnemonics to DLL export names.
package winapi

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CallContext is the argument/return surface a Handler needs; the
// emulator package implements it over its register file and address
// space so this package never has to import winemu back (which would
// create an import cycle).
type CallContext interface {
	// Arg returns the i'th stdcall/Microsoft-x64 argument, 0-indexed.
	Arg(i int) uint64
	// SetReturn stores the function's return value in EAX/RAX.
	SetReturn(v uint64)
	// ReadCString/ReadWString/WriteCString/WriteWString read or write
	// guest memory using the emulator's address space.
	ReadCString(addr uint64) string
	ReadWString(addr uint64) string
	WriteCString(addr uint64, s string)
	WriteWString(addr uint64, s string)
	// Is64 reports whether the calling guest image is 64-bit (Microsoft
	// x64 convention) or 32-bit (stdcall).
	Is64() bool
	// LogCall records an API invocation for tracing.
	LogCall(name string, args ...uint64)
	// HeapAlloc/HeapFree expose the process heap so handlers can satisfy
	// HeapAlloc/HeapFree/malloc-style imports with a real, reusable
	// allocation instead of a fixed stub address.
	HeapAlloc(size uint64, zero bool) (uint64, error)
	HeapFree(addr uint64) bool
	// OpenHandle/CloseHandle back CreateFileA/CreateThread/CloseHandle-
	// style imports with a real handle table instead of a fixed stub
	// value, so CloseHandle can actually report whether its argument was
	// ever a live handle.
	OpenHandle(kind, name string) uint64
	CloseHandle(id uint64) bool
	// EnterCriticalSection/LeaveCriticalSection back the Win32 lock pair
	// with the scheduler's FIFO-blocking CriticalSection machinery,
	// keyed by the guest CRITICAL_SECTION address. EnterCriticalSection
	// reports whether the calling thread acquired it immediately.
	EnterCriticalSection(addr uint64) bool
	LeaveCriticalSection(addr uint64)
	// SpawnThread registers a new guest thread with the scheduler,
	// starting at entry with param delivered the way CreateThread's
	// lpParameter reaches a real ThreadProc. Returns a handle for the
	// new thread.
	SpawnThread(entry, param uint64) (uint64, error)
	// ResolveExport looks up a bound import's synthetic gateway address
	// by "dll!Name" key, the way GetProcAddress/GetModuleHandleA resolve
	// real export addresses against the loaded image.
	ResolveExport(key string) (uint64, bool)
	// ModuleBase returns the loaded image's base address, for
	// GetModuleHandleA(NULL) and GetModuleHandleA(<this module's name>).
	ModuleBase() uint64
	// WorkingDir returns the guest-visible current working directory,
	// for GetCurrentDirectoryA/W.
	WorkingDir() string
	// LastError/SetLastError back GetLastError/SetLastError against a
	// single process-wide slot, letting handlers report real Win32
	// error codes (ERROR_INSUFFICIENT_BUFFER and the like) instead of
	// always reporting success.
	LastError() uint32
	SetLastError(code uint32)
}

// Handler implements one Win32 API's guest-visible behavior.
type Handler func(ctx CallContext) error

// Entry pairs a handler with the argument count the stack-unwind logic
// needs to know even when Fn is nil (an unimplemented import banzai mode
// should still pop cleanly off a 32-bit stdcall stack).
type Entry struct {
	ArgCount int
	Fn       Handler
}

// Catalog is the name-keyed table of known Win32 exports. Keys are
// "dll!Function" (case as exported), e.g. "kernel32.dll!ExitProcess".
type Catalog struct {
	entries map[string]Entry
	// DefaultArgCount is used for an import with no catalog entry, so
	// an unrecognized stdcall import still unwinds its caller's stack by
	// a plausible amount instead of corrupting ESP.
	DefaultArgCount int
}

// NewCatalog returns an empty catalog with a conservative stdcall
// fallback arg count.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]Entry), DefaultArgCount: 4}
}

// Register adds or replaces a handler.
func (c *Catalog) Register(key string, argCount int, fn Handler) {
	c.entries[key] = Entry{ArgCount: argCount, Fn: fn}
}

// Lookup returns the entry for key and whether it was found. When not
// found, callers should fall back to (nil, DefaultArgCount) semantics
// rather than treating the import as fatal.
func (c *Catalog) Lookup(key string) (Entry, bool) {
	e, ok := c.entries[key]
	return e, ok
}

// ArgCountFor returns the entry's arg count if known, else
// DefaultArgCount.
func (c *Catalog) ArgCountFor(key string) int {
	if e, ok := c.entries[key]; ok {
		return e.ArgCount
	}
	return c.DefaultArgCount
}

// Call invokes the handler for key if one is registered. It reports
// ok=false (not an error) when the import is unrecognized, so the
// emulator can decide whether that is fatal or a banzai no-op.
func (c *Catalog) Call(key string, ctx CallContext) (ok bool, err error) {
	e, found := c.entries[key]
	if !found || e.Fn == nil {
		return false, nil
	}
	return true, e.Fn(ctx)
}

// overlayEntry is the YAML shape used to extend a catalog with
// arg-count metadata for imports that have no Go-coded behavior yet —
// only the stack-unwind contract, not the semantics.
type overlayEntry struct {
	Name     string `yaml:"name"`
	ArgCount int    `yaml:"arg_count"`
}

// LoadOverlay reads a YAML file of {name, arg_count} entries and merges
// them into the catalog as argument-count-only stubs (Fn left nil),
// supplementing the Go-coded handlers with coverage for the long tail of
// imports a given sample might probe.
func (c *Catalog) LoadOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("winapi: reading overlay %q: %w", path, err)
	}
	var entries []overlayEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("winapi: parsing overlay %q: %w", path, err)
	}
	for _, e := range entries {
		if _, exists := c.entries[e.Name]; exists {
			continue
		}
		c.entries[e.Name] = Entry{ArgCount: e.ArgCount}
	}
	return nil
}
