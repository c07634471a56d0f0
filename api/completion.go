// File: api/completion.go
// Author: momentics <momentics@gmail.com>
//
// Completion is the type-erased kernel-callback contract. A control
// block's user-data field carries a Completion by
// interface value (the Go equivalent of a tagged pointer); the three
// backends never know the concrete type.

package api

// Completion is a kernel-completion handle with exactly two methods, per
// the data model: CompleteWith delivers a raw result (positive byte count
// or negative errno, mirroring what the kernel itself reports) and Abort
// delivers a terminal error when the operation could never complete (fd
// forgotten, ring torn down).
type Completion interface {
	// CompleteWith delivers the raw kernel result for this control block.
	CompleteWith(res int64)
	// Abort delivers a terminal error instead of a kernel result.
	Abort(err error)
}

// CompletionFunc adapts two plain functions to the Completion interface,
// used by callers (tests, the demo loop) that don't need a dedicated type.
type CompletionFunc struct {
	OnComplete func(res int64)
	OnAbort    func(err error)
}

func (f CompletionFunc) CompleteWith(res int64) {
	if f.OnComplete != nil {
		f.OnComplete(res)
	}
}

func (f CompletionFunc) Abort(err error) {
	if f.OnAbort != nil {
		f.OnAbort(err)
	}
}
