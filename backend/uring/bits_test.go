//go:build linux
// +build linux

package uring

import (
	"testing"

	"github.com/momentics/ioreactor/api"
)

func TestPollBitsForCombinesReadAndWrite(t *testing.T) {
	got := pollBitsFor(api.EdgeRead | api.EdgeWrite)
	want := uint32(pollIn | pollOut)
	if got != want {
		t.Fatalf("pollBitsFor(read|write) = %#x, want %#x", got, want)
	}
}

func TestReadyFutureResolvesImmediately(t *testing.T) {
	f := readyFuture()
	if !f.Ready() {
		t.Fatal("readyFuture() should already be resolved")
	}
}

func TestResultErrorMapsCanceledToAborted(t *testing.T) {
	if err := resultError(-ecanceled); err != api.ErrFDAborted {
		t.Fatalf("resultError(-ECANCELED) = %v, want api.ErrFDAborted", err)
	}
}

func TestLeadingDigitsStopsAtNonDigit(t *testing.T) {
	if got := leadingDigits("17-generic"); got != "17" {
		t.Fatalf("leadingDigits(17-generic) = %q, want 17", got)
	}
	if got := leadingDigits("0"); got != "0" {
		t.Fatalf("leadingDigits(0) = %q, want 0", got)
	}
}

func TestSlotTableTakeAndRelease(t *testing.T) {
	s := newSlotTable(2)
	if !s.hasCapacity() {
		t.Fatal("fresh slot table should have capacity")
	}
	idx1, ok := s.take(nil)
	if !ok {
		t.Fatal("take on fresh table should succeed")
	}
	idx2, ok := s.take(nil)
	if !ok {
		t.Fatal("second take on 2-slot table should succeed")
	}
	if s.hasCapacity() {
		t.Fatal("exhausted table should report no capacity")
	}
	if _, ok := s.take(nil); ok {
		t.Fatal("take on exhausted table should fail")
	}
	s.release(idx1)
	if !s.hasCapacity() {
		t.Fatal("table should have capacity after a release")
	}
	if idx3, ok := s.take(nil); !ok || idx3 != idx1 {
		t.Fatalf("expected released slot %d to be reused, got %d (ok=%v)", idx1, idx3, ok)
	}
	s.release(idx2)
}
