//go:build linux
// +build linux

// File: backend/uring/uringbackend.go
// Author: momentics <momentics@gmail.com>
//
// Package uring implements api.Backend over a single unified io_uring
// instance: readiness polls, storage reads/writes/fsync, cancellations, and
// timer/eventfd polls all share one submission/completion ring.
package uring

import (
	"log"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioreactor/api"
	"github.com/momentics/ioreactor/control"
	"github.com/momentics/ioreactor/internal/preempt"
)

type pfdPrivate struct {
	pub      *api.PollableFDState
	idx      int32
	readFut  *api.Future
	writeFut *api.Future
	rwFut    *api.Future
	inForget bool
}

// Config holds the tunables a Backend is constructed with.
type Config struct {
	Entries     uint32
	QuotaPeriod time.Duration
}

// Backend is the URING strategy.
type Backend struct {
	log *log.Logger

	r       *ring
	slots   *slotTable
	preempt *preempt.Context

	sink        api.IOSink
	highresSink api.HighresTimerSink
	signalSink  api.SignalSink

	states map[uintptr]*pfdPrivate

	wakeupFD  int
	wakeupIdx int32

	hrtimerIdx int32

	metrics *control.MetricsRegistry
}

func New(sink api.IOSink, highresSink api.HighresTimerSink, signalSink api.SignalSink, cfg Config, logger *log.Logger) (*Backend, error) {
	if logger == nil {
		logger = log.Default()
	}
	entries := cfg.Entries
	if entries == 0 {
		entries = 512
	}

	r, err := newRing(entries)
	if err != nil {
		return nil, err
	}
	slots := newSlotTable(int(entries))

	quotaPeriod := cfg.QuotaPeriod
	if quotaPeriod <= 0 {
		quotaPeriod = 500 * time.Microsecond
	}
	preemptCtx, err := preempt.NewContext(unix.NsecToTimespec(quotaPeriod.Nanoseconds()), logger)
	if err != nil {
		r.close()
		return nil, err
	}

	wakeupFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		preemptCtx.Close()
		r.close()
		return nil, err
	}

	b := &Backend{
		log:         logger,
		r:           r,
		slots:       slots,
		preempt:     preemptCtx,
		sink:        sink,
		highresSink: highresSink,
		signalSink:  signalSink,
		states:      make(map[uintptr]*pfdPrivate),
		wakeupFD:    wakeupFD,
		wakeupIdx:   -1,
		hrtimerIdx:  -1,
	}
	if err := b.armWakeupPoll(); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.armHighresPoll(); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) Variant() api.Variant { return api.VariantURing }

// SetMetrics wires m into the backend and its preemption sub-context so
// submissions, completions, SQE-exhaustion retries, and preemption requests
// are counted under it.
func (b *Backend) SetMetrics(m *control.MetricsRegistry) {
	b.metrics = m
	b.preempt.SetMetrics(m)
}

var _ api.Backend = (*Backend)(nil)
