// handles.go - the Win32 handle table backing CreateFileA/CloseHandle
// and friends. Grounded on Maps' named-region bookkeeping (component D):
// a handle here is the same "opaque id -> named resource" shape, just
// keyed by a Win32-style numeric handle instead of a guest address.

package winemu

import "github.com/google/uuid"

// HandleEntry is one open Win32-style handle: a file, a thread, a heap,
// a registry key — whatever a catalog handler decided was worth
// tracking rather than faking outright.
type HandleEntry struct {
	ID   uint64
	Kind string // "file", "thread", "heap", ...
	Name string // the path/name the guest passed to open it

	// ExternalID is a stable identifier an attached debugger or
	// analysis session can reference across a handle's lifetime. Numeric
	// IDs are never reused after a Close; ExternalID is unique as well.
	ExternalID string
}

// HandleTable issues and tracks Win32-style handles for the catalog's
// file/thread/registry handlers.
type HandleTable struct {
	next    uint64
	entries map[uint64]*HandleEntry
}

// NewHandleTable starts handle allocation at 0x1000: low values are
// reserved the way real Windows reserves a few sentinel handles
// (INVALID_HANDLE_VALUE, pseudo-handles for the current process/thread).
func NewHandleTable() *HandleTable {
	return &HandleTable{next: 0x1000, entries: make(map[uint64]*HandleEntry)}
}

// Open allocates a new handle for a resource of the given kind/name.
func (h *HandleTable) Open(kind, name string) *HandleEntry {
	e := &HandleEntry{ID: h.next, Kind: kind, Name: name, ExternalID: uuid.NewString()}
	h.entries[h.next] = e
	h.next += 4
	return e
}

// Close releases a handle, reporting whether it was open.
func (h *HandleTable) Close(id uint64) bool {
	if _, ok := h.entries[id]; !ok {
		return false
	}
	delete(h.entries, id)
	return true
}

// Lookup finds an open handle by its numeric ID.
func (h *HandleTable) Lookup(id uint64) (*HandleEntry, bool) {
	e, ok := h.entries[id]
	return e, ok
}
