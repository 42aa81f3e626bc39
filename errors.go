// errors.go - sentinel errors shared across the package, wrapped with
// fmt.Errorf("%w") at the call site the way the donor wraps bus/file
// errors rather than defining a bespoke error type hierarchy.

package winemu

import "errors"

var (
	// ErrNoMap is returned when an address has no backing memory region.
	ErrNoMap = errors.New("winemu: no mapping at address")

	// ErrAccessDenied is returned when an access violates a region's
	// read/write/exec permission bits.
	ErrAccessDenied = errors.New("winemu: access denied")

	// ErrOverlap is returned when CreateMap would collide with an
	// existing region.
	ErrOverlap = errors.New("winemu: region overlaps existing mapping")

	// ErrInvalidArgument is returned for malformed caller input, e.g. a
	// zero-size mapping request.
	ErrInvalidArgument = errors.New("winemu: invalid argument")

	// ErrBadHandle names a Win32 handle value that does not refer to any
	// live kernel object tracked by the emulator. Nothing in the package
	// returns it: HandleTable.Lookup and Close report an unknown handle
	// with a false result.
	ErrBadHandle = errors.New("winemu: invalid handle")

	// ErrUnimplementedOpcode names an instruction this emulator has no
	// handler for. Nothing in the package returns it: on an undefined
	// opcode the CPU prints a message and halts, and Run treats that
	// thread as finished.
	ErrUnimplementedOpcode = errors.New("winemu: unimplemented opcode")

	// ErrUnknownAPI is returned when a guest import has no catalog entry
	// and banzai leniency is off.
	ErrUnknownAPI = errors.New("winemu: unknown API import")

	// ErrExceptionUnhandled is returned when a CPU exception reaches the
	// top of the SEH chain with no frame willing to handle it.
	ErrExceptionUnhandled = errors.New("winemu: unhandled exception")

	// ErrNotLoaded is returned when Run is called before LoadImage.
	ErrNotLoaded = errors.New("winemu: no image loaded")
)
