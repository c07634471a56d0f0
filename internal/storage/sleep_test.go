//go:build linux
// +build linux

package storage

import (
	"log"
	"testing"

	"github.com/eapache/queue"
)

// newTestContext builds a Context without touching the kernel AIO facility,
// for exercising pool/queue bookkeeping in isolation from io_setup.
func newTestContext(maxAIO int) *Context {
	return &Context{
		log:          log.Default(),
		pool:         newControlBlockPool(maxAIO),
		pendingRetry: queue.New(),
		activeRetry:  queue.New(),
		aioEventFD:   -1,
		evBuf:        make([]ioEvent, maxAIO),
	}
}

func TestCanSleepWhenNothingOutstanding(t *testing.T) {
	c := newTestContext(4)
	if !c.CanSleep() {
		t.Fatal("CanSleep should be true when outstanding == 0")
	}
}

func TestCannotSleepWithOutstandingAndNoEventFD(t *testing.T) {
	c := newTestContext(4)
	c.pool.getOne()
	if c.CanSleep() {
		t.Fatal("CanSleep should be false with outstanding work and no eventfd wired")
	}
}

func TestCanSleepWithOutstandingButEventFDWired(t *testing.T) {
	c := newTestContext(4)
	c.pool.getOne()
	c.aioEventFD = 7
	if !c.CanSleep() {
		t.Fatal("CanSleep should be true once an eventfd is wired, regardless of outstanding")
	}
}

func TestNeedToRetryReflectsBothLists(t *testing.T) {
	c := newTestContext(4)
	if c.needToRetry() {
		t.Fatal("fresh context should not need a retry")
	}
	c.pendingRetry.Add(retryEntry{idx: 0})
	if !c.needToRetry() {
		t.Fatal("needToRetry should be true once pendingRetry is non-empty")
	}

	c = newTestContext(4)
	c.activeRetry.Add(retryEntry{idx: 0})
	if !c.needToRetry() {
		t.Fatal("needToRetry should be true once activeRetry is non-empty")
	}
}
