package process

import "syscall"

// GetStatus returns the current lifecycle status after a lazy refresh.
func (p *Process) GetStatus() string {
	if p.status == StatusStarted {
		p.updateStatus(false)
	}
	return p.status
}

// IsStarted reports whether Start has ever succeeded on this Process.
func (p *Process) IsStarted() bool {
	return p.status != StatusReady
}

// IsRunning reports whether the child is alive right now.
func (p *Process) IsRunning() bool {
	if p.status != StatusStarted {
		return false
	}
	p.updateStatus(false)
	return p.info.Running
}

// IsTerminated reports whether the child has exited.
func (p *Process) IsTerminated() bool {
	if p.status == StatusStarted {
		p.updateStatus(false)
	}
	return p.status == StatusTerminated
}

// ExitCode returns the child's final exit code. It is defined only once
// the process has terminated; -1 means the code was unavailable.
func (p *Process) ExitCode() (int, error) {
	if p.status == StatusStarted {
		p.updateStatus(false)
	}
	if p.exitCode == nil {
		return -1, newLogicError("Process must be terminated before calling ExitCode().")
	}
	return *p.exitCode, nil
}

// ExitCodeText returns the human-readable label for the final exit code.
func (p *Process) ExitCodeText() (string, error) {
	code, err := p.ExitCode()
	if err != nil {
		return "", err
	}
	return ExitCodeText(code), nil
}

// IsSuccessful reports whether the child terminated with exit code 0.
func (p *Process) IsSuccessful() bool {
	code, err := p.ExitCode()
	return err == nil && code == 0
}

// Pid returns the child's process id while it runs. Under sigchild
// compatibility the pid belongs to the wrapper shell, so it is withheld.
func (p *Process) Pid() (int, error) {
	if p.usedSigchild {
		return 0, newRuntimeError("The process pid can not be retrieved in sigchild compatibility mode.")
	}
	if !p.IsRunning() {
		return 0, newLogicError("Process must be running to retrieve its pid.")
	}
	return p.info.Pid, nil
}

// HasBeenSignaled reports whether the child died from an uncaught
// signal.
func (p *Process) HasBeenSignaled() (bool, error) {
	if err := p.requireTerminated("HasBeenSignaled"); err != nil {
		return false, err
	}
	if p.usedSigchild {
		return false, newRuntimeError("The term signal can not be retrieved in sigchild compatibility mode.")
	}
	return p.info.Signaled, nil
}

// TermSignal returns the signal that killed the child.
func (p *Process) TermSignal() (syscall.Signal, error) {
	if err := p.requireTerminated("TermSignal"); err != nil {
		return 0, err
	}
	if p.usedSigchild {
		return 0, newRuntimeError("The term signal can not be retrieved in sigchild compatibility mode.")
	}
	return syscall.Signal(p.info.TermSig), nil
}

// HasBeenStopped reports whether the child was stopped by a signal.
func (p *Process) HasBeenStopped() (bool, error) {
	if err := p.requireTerminated("HasBeenStopped"); err != nil {
		return false, err
	}
	return p.info.Stopped, nil
}

// StopSignal returns the signal that stopped the child.
func (p *Process) StopSignal() (syscall.Signal, error) {
	if err := p.requireTerminated("StopSignal"); err != nil {
		return 0, err
	}
	return syscall.Signal(p.info.StopSig), nil
}

// LatestSignal returns the last signal the caller asked to deliver.
func (p *Process) LatestSignal() syscall.Signal { return p.latestSignal }

func (p *Process) requireTerminated(caller string) error {
	if p.status == StatusStarted {
		p.updateStatus(false)
	}
	if p.status != StatusTerminated {
		return newLogicError("Process must be terminated before calling %s().", caller)
	}
	return nil
}
