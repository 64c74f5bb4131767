//go:build !windows

package process

import (
	"os"

	"golang.org/x/term"
)

// checkTTY verifies that the controlling terminal exists and really is
// one before TTY mode is accepted.
func checkTTY() error {
	f, err := os.Open("/dev/tty")
	if err != nil {
		return newRuntimeError("TTY mode requires /dev/tty to be readable.")
	}
	defer f.Close()
	if !term.IsTerminal(int(f.Fd())) {
		return newRuntimeError("TTY mode requires /dev/tty to be a terminal.")
	}
	return nil
}
