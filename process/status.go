package process

import "sync"

// statusInfo is the last snapshot of OS-reported status for the child,
// the proc_get_status analogue.
type statusInfo struct {
	Running  bool
	Pid      int
	ExitCode int // -1 when the OS did not report one
	Signaled bool
	TermSig  int
	Stopped  bool
	StopSig  int
}

var (
	sigchildMu   sync.Mutex
	sigchildInit bool
	sigchildOn   bool
)

// isSigchildEnabled reports whether the platform cannot deliver exit
// codes through the normal reaping path, forcing the fd-3 fallback
// channel. The probe result is cached for the process lifetime; no
// supported platform currently needs the workaround, so it resolves to
// false unless a test forces it.
func isSigchildEnabled() bool {
	sigchildMu.Lock()
	defer sigchildMu.Unlock()
	if !sigchildInit {
		sigchildInit = true
		sigchildOn = false
	}
	return sigchildOn
}

func setSigchildEnabled(v bool) {
	sigchildMu.Lock()
	defer sigchildMu.Unlock()
	sigchildInit = true
	sigchildOn = v
}
