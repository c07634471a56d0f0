// Package storage implements the batched, retrying linux-aio submission
// engine shared by the READY and AIO backends. It owns the
// fixed-size control-block pool, the submission/retry staging queues, and
// the non-blocking completion reaper; the three invariants it must hold are
// that outstanding == max_aio-free_count at all times, that EAGAIN never
// surfaces to the caller (it is retried transparently), and that EBADF
// never poisons the pool (it is synthesized as an immediate completion for
// the one offending block).
//
// Author: momentics <momentics@gmail.com>
package storage
