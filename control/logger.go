// control/logger.go
// Author: momentics <momentics@gmail.com>
//
// NewCoreLogger builds a standard *log.Logger whose prefix names the core
// that owns it, so log lines are attributable to the core that produced
// them; backends take such a *log.Logger directly.

package control

import (
	"fmt"
	"log"
	"os"
)

// NewCoreLogger returns a *log.Logger prefixed with the owning core's
// index, writing to stderr with the standard library's default flags.
func NewCoreLogger(core int) *log.Logger {
	return log.New(os.Stderr, fmt.Sprintf("[core%d] ", core), log.LstdFlags|log.Lmicroseconds)
}
