// scheduler.go - cooperative thread scheduler
//
// Grounded on the donor's goroutine-per-chip scheduling in
// cpu_x86_runner.go (now removed): that model ran each CPU on its own
// free-running goroutine at real-time rate. A malware-analysis emulator
// instead wants deterministic, host-driven quantum rotation across
// however many guest threads CreateThread has spun up, so the rotation
// itself is plain round-robin Go code rather than goroutines plus a
// clock.

package winemu

import "fmt"

// ThreadState is a guest thread's scheduling state.
type ThreadState int

const (
	ThreadReady ThreadState = iota
	ThreadRunning
	ThreadBlocked  // blocked on a critical section or wait handle
	ThreadSuspended
	ThreadTerminated
)

func (s ThreadState) String() string {
	switch s {
	case ThreadReady:
		return "ready"
	case ThreadRunning:
		return "running"
	case ThreadBlocked:
		return "blocked"
	case ThreadSuspended:
		return "suspended"
	case ThreadTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Thread is one guest execution context: its own register file sharing
// the process's single address space, the way real Windows threads share
// one virtual memory but not one register file.
type Thread struct {
	ID        int
	CPU       *CPU
	State     ThreadState
	StackBase uint64
	StackSize uint64
	TEBAddr   uint64
	ExitCode  uint32

	waitingOn *CriticalSection
}

// CriticalSection is a simple FIFO-blocking mutex: at most one thread
// owns it, and the rest queue in arrival order, matching the fairness a
// Win32 EnterCriticalSection caller expects.
type CriticalSection struct {
	owner *Thread
	queue []*Thread
}

func NewCriticalSection() *CriticalSection { return &CriticalSection{} }

// Enter attempts to acquire cs for t. If it is already owned by another
// thread, t is queued and blocked; the scheduler must not run it again
// until Leave hands it ownership.
func (cs *CriticalSection) Enter(t *Thread) bool {
	if cs.owner == nil {
		cs.owner = t
		return true
	}
	if cs.owner == t {
		return true // re-entrant
	}
	cs.queue = append(cs.queue, t)
	t.State = ThreadBlocked
	t.waitingOn = cs
	return false
}

// Leave releases cs from t and wakes the next queued thread, if any.
func (cs *CriticalSection) Leave(t *Thread) {
	if cs.owner != t {
		return
	}
	if len(cs.queue) == 0 {
		cs.owner = nil
		return
	}
	next := cs.queue[0]
	cs.queue = cs.queue[1:]
	cs.owner = next
	next.State = ThreadReady
	next.waitingOn = nil
}

// Scheduler round-robins a fixed quantum of instructions across every
// ready thread, the cooperative model a single-core emulated process
// needs since there is no preemption hardware underneath it.
type Scheduler struct {
	threads []*Thread
	nextID  int
	cursor  int
	Quantum int // instructions run per thread per rotation

	// sections maps a guest CRITICAL_SECTION address to the
	// CriticalSection FIFO-blocking mutex backing it. Lazily created on
	// first EnterCriticalSection, the way Win32 itself treats the guest
	// struct as opaque storage the first caller to touch it initializes.
	sections map[uint64]*CriticalSection
}

func NewScheduler(quantum int) *Scheduler {
	if quantum <= 0 {
		quantum = 10000
	}
	return &Scheduler{Quantum: quantum, sections: make(map[uint64]*CriticalSection)}
}

func (s *Scheduler) sectionFor(addr uint64) *CriticalSection {
	cs, ok := s.sections[addr]
	if !ok {
		cs = NewCriticalSection()
		s.sections[addr] = cs
	}
	return cs
}

// EnterCriticalSection acquires the CriticalSection backing the guest
// CRITICAL_SECTION at addr for t, blocking (FIFO-queuing) t if another
// thread already owns it. Reports whether t acquired it immediately.
func (s *Scheduler) EnterCriticalSection(addr uint64, t *Thread) bool {
	return s.sectionFor(addr).Enter(t)
}

// LeaveCriticalSection releases the CriticalSection backing the guest
// CRITICAL_SECTION at addr, handing ownership to the next queued thread
// if any.
func (s *Scheduler) LeaveCriticalSection(addr uint64, t *Thread) {
	s.sectionFor(addr).Leave(t)
}

// AddThread registers a new thread and puts it in the Ready state.
func (s *Scheduler) AddThread(t *Thread) {
	t.ID = s.nextID
	s.nextID++
	t.State = ThreadReady
	s.threads = append(s.threads, t)
}

// Threads returns the live thread list in creation order.
func (s *Scheduler) Threads() []*Thread { return s.threads }

// ByID finds a thread by its ID, or nil.
func (s *Scheduler) ByID(id int) *Thread {
	for _, t := range s.threads {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *Scheduler) liveCount() int {
	n := 0
	for _, t := range s.threads {
		if t.State != ThreadTerminated {
			n++
		}
	}
	return n
}

// Next returns the next runnable thread in round-robin order, skipping
// blocked, suspended, and terminated threads, or nil if none are
// runnable.
func (s *Scheduler) Next() *Thread {
	if len(s.threads) == 0 {
		return nil
	}
	for i := 0; i < len(s.threads); i++ {
		idx := (s.cursor + i) % len(s.threads)
		t := s.threads[idx]
		if t.State == ThreadReady || t.State == ThreadRunning {
			s.cursor = (idx + 1) % len(s.threads)
			return t
		}
	}
	return nil
}

// Step runs step(t) for the next runnable thread's quantum and rotates
// to the following thread. It reports whether any thread ran.
func (s *Scheduler) Step(step func(t *Thread, quantum int) (ran int, halted bool)) bool {
	t := s.Next()
	if t == nil {
		return false
	}
	t.State = ThreadRunning
	ran, halted := step(t, s.Quantum)
	_ = ran
	if halted {
		t.State = ThreadTerminated
	} else if t.State == ThreadRunning {
		t.State = ThreadReady
	}
	return true
}

func (s *Scheduler) String() string {
	return fmt.Sprintf("scheduler: %d threads, %d live", len(s.threads), s.liveCount())
}
