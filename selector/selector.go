//go:build linux
// +build linux

// File: selector/selector.go
// Author: momentics <momentics@gmail.com>
//
// Package selector probes the host kernel's capability set and chooses one
// of the three backend strategies, grounded on
// original_source's reactor_backend_selector.
package selector

import (
	"fmt"
	"log"
	"time"

	"github.com/momentics/ioreactor/api"
	"github.com/momentics/ioreactor/backend/aiobackend"
	"github.com/momentics/ioreactor/backend/ready"
	"github.com/momentics/ioreactor/backend/uring"
)

// Name identifies one of the three selectable backend strategies.
type Name string

const (
	NameURing    Name = "io_uring"
	NameLinuxAIO Name = "linux-aio"
	NameEpoll    Name = "epoll"
)

// Config aggregates the per-strategy tunables plus the capacity-gate
// inputs: maxAIO reservation per core, worker count on the host.
type Config struct {
	MaxAIO          int
	WorkerCount     int
	KernelPageCache bool
	QuotaPeriod     time.Duration
	URingEntries    uint32
}

func (c Config) readyConfig() ready.Config {
	return ready.Config{MaxAIO: c.MaxAIO, KernelPageCache: c.KernelPageCache, QuotaPeriod: c.QuotaPeriod}
}

func (c Config) aioConfig() aiobackend.Config {
	return aiobackend.Config{MaxAIO: c.MaxAIO, KernelPageCache: c.KernelPageCache, QuotaPeriod: c.QuotaPeriod}
}

func (c Config) uringConfig() uring.Config {
	return uring.Config{Entries: c.URingEntries, QuotaPeriod: c.QuotaPeriod}
}

// Available probes the host and returns every selectable backend name, in
// preference order {"io_uring", "linux-aio", "epoll"}, gated so that AIO
// and READY both require AIO reservation headroom while URING requires
// the feature/opcode probe plus the RAID-kernel check.
func Available(cfg Config) []Name {
	var names []Name

	aioCapacityOK := hasEnoughAIONr(cfg.MaxAIO, cfg.WorkerCount) && detectAIOPoll()

	if uring.RAIDSafe() && uring.Probe() {
		names = append(names, NameURing)
	}
	if aioCapacityOK {
		names = append(names, NameLinuxAIO)
		names = append(names, NameEpoll)
	}
	return names
}

// Default returns the first available backend name, or "" if none is
// selectable.
func Default(cfg Config) Name {
	avail := Available(cfg)
	if len(avail) == 0 {
		return ""
	}
	return avail[0]
}

// Create constructs the named backend. It is the caller's responsibility
// to have obtained name from Available/Default for this host.
func Create(name Name, sink api.IOSink, highresSink api.HighresTimerSink, signalSink api.SignalSink, cfg Config, logger *log.Logger) (api.Backend, error) {
	switch name {
	case NameURing:
		return uring.New(sink, highresSink, signalSink, cfg.uringConfig(), logger)
	case NameLinuxAIO:
		return aiobackend.New(sink, highresSink, signalSink, cfg.aioConfig(), logger)
	case NameEpoll:
		return ready.New(sink, highresSink, signalSink, cfg.readyConfig(), logger)
	default:
		return nil, fmt.Errorf("selector: unknown backend name %q", name)
	}
}
