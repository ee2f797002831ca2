//go:build linux

// pkg/masstree/affinity_linux.go
package masstree

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinToCPU binds the calling OS thread to a single CPU, matching spec.md
// section 5's "each worker thread pinned to a core when requested".
// Grounded on the teacher's own use of golang.org/x/sys/unix for
// OS-level resource control (pkg/pager/mmap_unix.go, pkg/turdb/lock_unix.go).
//
// Go's scheduler moves goroutines between OS threads, so pinning only
// takes effect while the calling goroutine stays locked to its current
// thread; PinToCPU calls runtime.LockOSThread itself, and Unpin releases
// that lock when the pinned work is done.
func (tc *ThreadContext) PinToCPU(cpu int) error {
	if cpu < 0 {
		return fmt.Errorf("masstree: invalid cpu %d", cpu)
	}
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("masstree: sched_setaffinity cpu %d: %w", cpu, err)
	}
	tc.cpu = cpu
	tc.pinned = true
	return nil
}

// Unpin releases the OS thread lock PinToCPU took. It does not attempt to
// restore the previous affinity mask; a fresh goroutine scheduled onto the
// now-unlocked thread gets the scheduler's normal placement.
func (tc *ThreadContext) Unpin() {
	if tc.pinned {
		runtime.UnlockOSThread()
		tc.pinned = false
		tc.cpu = -1
	}
}
