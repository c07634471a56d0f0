//go:build linux
// +build linux

package aiobackend

import (
	"log"
	"testing"

	"github.com/eapache/queue"

	"github.com/momentics/ioreactor/api"
)

// newEmptyGeneralContext builds a generalContext whose free list has
// already been exhausted, without touching io_setup, to exercise the
// exhaustion guard in submitPoll without a real AIO ring.
func newEmptyGeneralContext() *generalContext {
	return &generalContext{
		log:         log.Default(),
		blocks:      make([]iocb, 1),
		completions: make([]api.Completion, 1),
		free:        queue.New(),
		evBuf:       make([]ioEvent, 1),
	}
}

func TestSubmitPollReportsResourceExhaustion(t *testing.T) {
	g := newEmptyGeneralContext()
	_, err := g.submitPoll(0, pollIn, nil)
	if err != api.ErrResourceExhausted {
		t.Fatalf("submitPoll on exhausted context = %v, want ErrResourceExhausted", err)
	}
}

func TestGeneralContextCancelOfNegativeIndexIsNoop(t *testing.T) {
	g := newEmptyGeneralContext()
	g.cancel(-1) // must not panic or touch g.blocks
}
