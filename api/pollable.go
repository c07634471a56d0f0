// File: api/pollable.go
// Author: momentics <momentics@gmail.com>
//
// PollableFDState is the per-descriptor record shared by the backend (which
// keeps it in its list of open descriptors) and by in-flight control blocks
// (which reference it via their user-data). Resolution discipline is arena
// allocation plus strict Forget: a backend must cancel and drain any
// in-flight reference before the state is freed.

package api

// Edge is a readiness direction bitmask, shared across all three backends.
// Values intentionally line up with EPOLLIN/EPOLLOUT/EPOLLHUP/EPOLLERR so
// the epoll-backed READY backend can use them directly.
type Edge uint32

const (
	EdgeRead  Edge = 0x001
	EdgeWrite Edge = 0x004
	EdgeHup   Edge = 0x010
	EdgeErr   Edge = 0x008
)

// Speculation hints the backend about the expected usage pattern of a
// descriptor (e.g. "mostly read"). It is recorded on the state; no backend
// in this module reads it, so it changes no behaviour.
type Speculation int

const (
	SpeculationNone Speculation = iota
	SpeculationReadMostly
	SpeculationWriteMostly
)

// PollableFDState is the per-descriptor state that
// Backend.MakePollableFDState returns. The fields below are the portion that
// is common across backends and visible to callers; backend-private interest
// bits (installed epoll events, queued iocbs, uring cancellation
// completions) live in each backend's own record, kept in a map keyed by FD
// and pointing back at this struct.
type PollableFDState struct {
	FD uintptr

	// EventsRequested marks edges the caller is currently awaiting.
	EventsRequested Edge
	// EventsKnown marks edges whose readiness was already observed by the
	// kernel but not yet delivered to a caller (an "overshoot" edge).
	EventsKnown Edge
	// EventsRW is set when a single future is shared across both read and
	// write completion (accept() surfaces errors via the write edge).
	EventsRW bool

	Speculation Speculation
}

// HasRequestedEdge reports whether any of the given edges are awaited.
func (s *PollableFDState) HasRequestedEdge(edges Edge) bool {
	return s.EventsRequested&edges != 0
}
