//go:build linux
// +build linux

// File: backend/ready/ready.go
// Author: momentics <momentics@gmail.com>
//
// Package ready implements api.Backend over a single epoll instance (the
// source's reactor_backend_epoll). Storage I/O is delegated to the shared
// internal/storage engine; readiness and storage run on independent
// rings, never mixed.
package ready

import (
	"fmt"
	"log"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioreactor/api"
	"github.com/momentics/ioreactor/control"
	"github.com/momentics/ioreactor/internal/preempt"
	"github.com/momentics/ioreactor/internal/storage"
)

// pfdPrivate is the epoll-specific half of a descriptor's state: installed
// interest bits and the per-direction futures handed out to callers. It is
// kept out of api.PollableFDState because MakePollableFDState's return
// type is shared across all three backends and jointly referenced.
type pfdPrivate struct {
	pub       *api.PollableFDState
	installed api.Edge // events_epoll: interest bits currently on the epoll instance
	readFut   *api.Future
	writeFut  *api.Future
	rwFut     *api.Future // shared read/write future when EventsRW
	inForget  bool
}

// Config holds the tunables a Backend is constructed with.
type Config struct {
	MaxAIO          int
	KernelPageCache bool
	QuotaPeriod     time.Duration
}

// Backend is the READY/epoll strategy. Every method runs on the owning
// core's loop thread; no locking guards the maps below.
type Backend struct {
	log  *log.Logger
	epfd int

	storage *storage.Context
	sink    api.IOSink

	highresSink api.HighresTimerSink
	signalSink  api.SignalSink

	// states is keyed by fd because epoll_event's user-data slot on Linux
	// amd64 only carries a 4-byte fd (golang.org/x/sys/unix.EpollEvent has
	// no pointer-sized data field), not an arbitrary pointer.
	states map[uintptr]*pfdPrivate

	// Steady-clock timer: two fds, only one armed at a time.
	reactorTimerFD  int  // installed on the epoll instance while sleeping
	reactorInstalled bool
	highresDeadline time.Time

	needPreempt uint32 // the private word READY writes/reads directly
	ticking     bool
	timerThread *preempt.TimerThread
	quotaPeriod unix.Timespec

	metrics *control.MetricsRegistry
}

// New creates the epoll instance, the reactor-thread-side high-resolution
// timerfd, and wires the shared storage engine.
func New(sink api.IOSink, highresSink api.HighresTimerSink, signalSink api.SignalSink, cfg Config, logger *log.Logger) (*Backend, error) {
	if logger == nil {
		logger = log.Default()
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("ready: epoll_create1: %w", err)
	}
	reactorTimerFD, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("ready: reactor-side timerfd_create: %w", err)
	}

	storageCtx, err := storage.NewContext(sink, cfg.MaxAIO, cfg.KernelPageCache, logger)
	if err != nil {
		unix.Close(epfd)
		unix.Close(reactorTimerFD)
		return nil, err
	}

	quotaPeriod := cfg.QuotaPeriod
	if quotaPeriod <= 0 {
		quotaPeriod = 500 * time.Microsecond
	}

	b := &Backend{
		log:            logger,
		epfd:           epfd,
		storage:        storageCtx,
		sink:           sink,
		highresSink:    highresSink,
		signalSink:     signalSink,
		states:         make(map[uintptr]*pfdPrivate),
		reactorTimerFD: reactorTimerFD,
		quotaPeriod:    unix.NsecToTimespec(quotaPeriod.Nanoseconds()),
	}

	timerThread, err := preempt.NewTimerThread(&b.needPreempt, logger)
	if err != nil {
		storageCtx.Close()
		unix.Close(epfd)
		unix.Close(reactorTimerFD)
		return nil, err
	}
	b.timerThread = timerThread
	if err := timerThread.ArmQuota(b.quotaPeriod); err != nil {
		return nil, fmt.Errorf("ready: arming task-quota timer: %w", err)
	}
	timerThread.Start()

	if err := b.installReactorTimer(); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *Backend) Variant() api.Variant { return api.VariantReady }

// SetMetrics wires m into the shared storage engine so submissions,
// completions, retries, and EAGAIN/EBADF dispositions are counted under it.
func (b *Backend) SetMetrics(m *control.MetricsRegistry) {
	b.metrics = m
	b.storage.SetMetrics(m)
}

var _ api.Backend = (*Backend)(nil)
