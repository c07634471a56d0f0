// File: internal/preempt/doc.go
// Author: momentics <momentics@gmail.com>

// Package preempt implements the tickless preemption subsystem shared by
// the AIO and URING backends, plus the sibling SCHED_FIFO timer thread used
// by the READY backend instead.
//
// The shared-ring variant exploits the legacy-AIO completion ring: the word
// eight bytes into the ring ("number of completions ready") doubles as the
// runtime's need_preempt flag, so a task can check for preemption with an
// ordinary memory load instead of a syscall. start_tick/stop_tick repoint
// need_preempt between that ring word and a private monitor word; the two
// calls are strict inverses.
package preempt
