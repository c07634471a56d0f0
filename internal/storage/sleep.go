//go:build linux
// +build linux

// File: internal/storage/sleep.go
// Author: momentics <momentics@gmail.com>

package storage

// CanSleep reports whether the reactor may block without risking a missed
// completion: either nothing is outstanding against this context, or an
// eventfd has been wired so the kernel will wake the poller itself (spec
// §4.2 sleep predicate).
func (c *Context) CanSleep() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.outstanding() == 0 || c.aioEventFD >= 0
}
