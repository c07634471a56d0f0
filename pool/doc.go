// Package pool
// Author: momentics <momentics@gmail.com>
//
// High-performance IO and Memory Layer.
// Implements NUMA-aware, lock-free, zero-copy byte/object pooling and ring buffering.
// All primitives are cross-platform (Linux/Windows) and designed for ultra-low-latency, high-throughput workloads.
// See bytepool.go, numapool.go, ring.go for implementation details.
package pool
