//go:build !linux

// pkg/masstree/affinity_other.go
package masstree

import "fmt"

// PinToCPU is a no-op outside Linux: golang.org/x/sys/unix.SchedSetaffinity
// has no portable equivalent on other platforms, so CPU pinning is a
// Linux-only capability here, matching the teacher's own mmap_unix.go /
// mmap_windows.go split by build tag.
func (tc *ThreadContext) PinToCPU(cpu int) error {
	if cpu < 0 {
		return fmt.Errorf("masstree: invalid cpu %d", cpu)
	}
	return nil
}

// Unpin is a no-op outside Linux.
func (tc *ThreadContext) Unpin() {}
