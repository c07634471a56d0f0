//go:build linux
// +build linux

// File: cmd/ioreactor-demo/main.go
// Author: momentics <momentics@gmail.com>
//
// Demonstration wiring of the cooperative per-core loop: probes the host,
// selects a backend, queues one read against a pipe, and drives
// submit/wait/reap by hand the way a scheduler's core loop would.

package main

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/ioreactor/affinity"
	"github.com/momentics/ioreactor/api"
	"github.com/momentics/ioreactor/control"
	"github.com/momentics/ioreactor/selector"
)

// metricsSettable is implemented by every backend's SetMetrics method; the
// demo wires metrics through it without selector needing to know about
// control at all.
type metricsSettable interface {
	SetMetrics(*control.MetricsRegistry)
}

type demoHighresSink struct{ log *os.File }

func (d demoHighresSink) ServiceHighresTimer() {
	fmt.Fprintln(d.log, "[ioreactor-demo] high-resolution timer fired")
}

type demoSignalSink struct{}

func (demoSignalSink) Action(signo int) {
	fmt.Printf("[ioreactor-demo] signal %d delivered\n", signo)
}

func main() {
	logger := control.NewCoreLogger(0)
	metrics := control.NewMetricsRegistry()
	debug := control.NewDebugProbes()
	cfgStore := control.NewConfigStore()
	cfgStore.SetConfig(map[string]any{"quota_period_us": 500})

	if err := affinity.PinCurrentGoroutine(0); err != nil {
		logger.Printf("affinity: could not pin to cpu0, continuing unpinned: %v", err)
	}

	cfg := selector.Config{
		MaxAIO:          64,
		WorkerCount:     1,
		KernelPageCache: false,
		QuotaPeriod:     500 * time.Microsecond,
		URingEntries:    256,
	}

	name := selector.Default(cfg)
	if name == "" {
		logger.Fatal("no backend strategy is available on this host")
	}
	logger.Printf("selected backend: %s (available: %v)", name, selector.Available(cfg))

	sink := newDemoSink(64)
	highres := demoHighresSink{log: os.Stdout}
	signals := demoSignalSink{}

	backend, err := selector.Create(name, sink, highres, signals, cfg, logger)
	if err != nil {
		logger.Fatalf("selector.Create(%s): %v", name, err)
	}
	defer backend.Close()

	if ms, ok := backend.(metricsSettable); ok {
		ms.SetMetrics(metrics)
	}
	debug.RegisterProbe("backend.variant", func() any { return backend.Variant().String() })
	debug.RegisterProbe("metrics", func() any { return metrics.GetSnapshot() })

	rfd, wfd, err := pipeFDs()
	if err != nil {
		logger.Fatalf("pipe: %v", err)
	}
	defer unix.Close(rfd)
	defer unix.Close(wfd)

	payload := []byte("ioreactor\n")
	if _, err := unix.Write(wfd, payload); err != nil {
		logger.Fatalf("write seed payload: %v", err)
	}

	readBuf := make([]byte, 64)
	done := make(chan struct{})
	sink.Submit(api.IORequest{
		Opcode: api.OpRead,
		FD:     rfd,
		Addr:   readBuf,
	}, api.CompletionFunc{
		OnComplete: func(res int64) {
			logger.Printf("read completed: %d bytes %q", res, readBuf[:res])
			close(done)
		},
		OnAbort: func(err error) {
			logger.Printf("read aborted: %v", err)
			close(done)
		},
	})

	for i := 0; i < 100; i++ {
		backend.KernelSubmitWork()
		backend.WaitAndProcessEvents(nil)
		backend.ReapKernelCompletions()
		select {
		case <-done:
			logger.Printf("debug snapshot: %+v", debug.DumpState())
			return
		default:
		}
	}
	logger.Printf("demo loop exhausted its iteration budget without a completion")
}

func pipeFDs() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}
