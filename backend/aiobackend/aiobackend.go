//go:build linux
// +build linux

// File: backend/aiobackend/aiobackend.go
// Author: momentics <momentics@gmail.com>
//
// Package aiobackend implements api.Backend entirely through AIO-style
// submission: storage via internal/storage, readiness via poll-type
// control blocks on a second, smaller ring, preemption via the same
// ring-head trick as uring.
package aiobackend

import (
	"log"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioreactor/api"
	"github.com/momentics/ioreactor/control"
	"github.com/momentics/ioreactor/internal/preempt"
	"github.com/momentics/ioreactor/internal/storage"
)

type pfdPrivate struct {
	pub      *api.PollableFDState
	idx      int32 // outstanding poll entry on the general context, -1 if none
	readFut  *api.Future
	writeFut *api.Future
	rwFut    *api.Future
	inForget bool
}

// Config holds the tunables a Backend is constructed with.
type Config struct {
	MaxAIO          int
	GeneralEntries  int
	KernelPageCache bool
	QuotaPeriod     time.Duration
}

// Backend is the AIO strategy.
type Backend struct {
	log *log.Logger

	storage *storage.Context
	general *generalContext
	preempt *preempt.Context

	sink        api.IOSink
	highresSink api.HighresTimerSink
	signalSink  api.SignalSink

	states map[uintptr]*pfdPrivate

	wakeupFD  int
	wakeupIdx int32

	hrtimerIdx int32
}

func New(sink api.IOSink, highresSink api.HighresTimerSink, signalSink api.SignalSink, cfg Config, logger *log.Logger) (*Backend, error) {
	if logger == nil {
		logger = log.Default()
	}

	storageCtx, err := storage.NewContext(sink, cfg.MaxAIO, cfg.KernelPageCache, logger)
	if err != nil {
		return nil, err
	}
	general, err := newGeneralContext(cfg.GeneralEntries, logger)
	if err != nil {
		storageCtx.Close()
		return nil, err
	}

	quotaPeriod := cfg.QuotaPeriod
	if quotaPeriod <= 0 {
		quotaPeriod = 500 * time.Microsecond
	}
	preemptCtx, err := preempt.NewContext(unix.NsecToTimespec(quotaPeriod.Nanoseconds()), logger)
	if err != nil {
		general.close()
		storageCtx.Close()
		return nil, err
	}

	wakeupFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		preemptCtx.Close()
		general.close()
		storageCtx.Close()
		return nil, err
	}
	storageCtx.SetWakeupEventFD(wakeupFD)

	b := &Backend{
		log:         logger,
		storage:     storageCtx,
		general:     general,
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

func (b *Backend) Variant() api.Variant { return api.VariantAIO }

// SetMetrics wires m into the storage and preemption sub-contexts so
// submissions, completions, retries, EAGAIN/EBADF dispositions, and
// preemption requests are counted under it.
func (b *Backend) SetMetrics(m *control.MetricsRegistry) {
	b.storage.SetMetrics(m)
	b.preempt.SetMetrics(m)
}

var _ api.Backend = (*Backend)(nil)
