//go:build !windows

package pipes

import (
	"os"
	"sync"

	"github.com/creack/pty"
)

var (
	ptyOnce      sync.Once
	ptySupported bool
)

// IsPtySupported reports whether this system can allocate a
// pseudo-terminal. The probe runs once and the answer is cached for the
// process lifetime.
func IsPtySupported() bool {
	ptyOnce.Do(func() {
		ptmx, tts, err := pty.Open()
		if err != nil {
			return
		}
		ptmx.Close()
		tts.Close()
		ptySupported = true
	})
	return ptySupported
}

func openPty() (ptmx, tts *os.File, err error) {
	return pty.Open()
}
