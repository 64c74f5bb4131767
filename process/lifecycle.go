package process

import (
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/guseggert/subproc/internal/pipes"
)

// Start launches the child and returns once the spawn has completed. The
// optional callback receives output chunks as they arrive. On POSIX the
// status is polled once before returning; in TTY mode Start returns
// immediately after the spawn.
func (p *Process) Start(cb Callback) error {
	if p.IsRunning() {
		return newRuntimeError("Process is already running.")
	}
	if p.status == StatusTerminated {
		return newLogicError("A terminated process can not be started again; use Restart().")
	}
	if p.outputDisabled && cb != nil {
		return newLogicError("Output has been disabled, enable it to allow the use of a callback.")
	}

	p.resetProcessData()
	now := time.Now()
	p.startTime = now
	p.lastOutputTime = now
	p.callback = p.buildCallback(cb)
	p.usedSigchild = p.enhanceSigchild && isSigchildEnabled()

	backend, err := pipes.New(pipes.Config{
		Log:              p.log,
		InputReader:      p.input.reader,
		InputBytes:       p.input.bytes,
		DisableOutput:    p.outputDisabled,
		TTY:              p.tty,
		PTY:              p.pty && pipes.IsPtySupported(),
		SigchildFallback: p.usedSigchild,
	})
	if err != nil {
		return newRuntimeError("Unable to allocate pipes for the process: %s", err)
	}
	p.pipes = backend

	cmdline := p.prepareCommandLine()
	files, err := backend.ChildFiles()
	if err != nil {
		backend.Close()
		p.pipes = nil
		return newRuntimeError("Unable to build process descriptors: %s", err)
	}

	handle, err := spawn(cmdline, files, p.cwd, p.buildEnv(), p.options)
	if err != nil {
		p.log.Debugf("spawn failed: %s", err)
		backend.Close()
		p.pipes = nil
		return newRuntimeError("Unable to launch a new process.")
	}
	backend.PostStart()
	p.handle = handle
	p.info.Pid = handle.pid
	p.status = StatusStarted
	p.log.Debugw("process started", "Pid", handle.pid, "CommandLine", p.commandLine)

	if p.tty {
		return nil
	}
	p.updateStatus(false)
	return p.CheckTimeout()
}

// Wait blocks until the child terminates, pumping the pipes and checking
// both timeout clocks on every step. It returns the final exit code. If
// the child died from a signal other than the last one the caller
// requested, Wait fails with a RuntimeError.
func (p *Process) Wait(cb Callback) (int, error) {
	if err := p.requireStarted("Wait"); err != nil {
		return -1, err
	}
	if cb != nil {
		if p.outputDisabled {
			return -1, newLogicError("Output has been disabled, enable it to allow the use of a callback.")
		}
		p.callback = p.buildCallback(cb)
	}

	for {
		if err := p.CheckTimeout(); err != nil {
			return -1, err
		}
		var running bool
		if runtime.GOOS == "windows" {
			running = p.IsRunning()
		} else {
			running = p.pipes != nil && p.pipes.AreOpen()
		}
		p.readPipes(true, closingFor(running))
		if !running {
			break
		}
	}
	for p.IsRunning() {
		time.Sleep(time.Millisecond)
	}
	if p.status != StatusTerminated {
		p.close()
	}

	if p.info.Signaled && p.info.TermSig != int(p.latestSignal) {
		return -1, newRuntimeError("The process has been signaled with signal %d.", p.info.TermSig)
	}
	return *p.exitCode, nil
}

// Run starts the child and waits for it to terminate.
func (p *Process) Run(cb Callback) (int, error) {
	if err := p.Start(cb); err != nil {
		return -1, err
	}
	return p.Wait(nil)
}

// MustRun runs the child and fails with a FailedError when it exits
// non-zero.
func (p *Process) MustRun(cb Callback) error {
	code, err := p.Run(cb)
	if err != nil {
		return err
	}
	if code != 0 {
		return &FailedError{Process: p}
	}
	return nil
}

// Restart clones this process and starts the clone, leaving the original
// untouched. The clone begins life in the ready state with fresh buffers.
func (p *Process) Restart(cb Callback) (*Process, error) {
	if p.IsRunning() {
		return nil, newRuntimeError("Process is already running.")
	}
	q := p.clone()
	if err := q.Start(cb); err != nil {
		return nil, err
	}
	return q, nil
}

// Stop terminates a running child: a termination request first, then an
// escalation signal (SIGKILL unless overridden) once the grace period
// expires. It returns the exit code, or -1 when none was captured.
func (p *Process) Stop(grace time.Duration, escalation ...syscall.Signal) (int, error) {
	deadline := time.Now().Add(grace)
	if p.IsRunning() {
		if runtime.GOOS == "windows" && !p.usedSigchild {
			if err := p.handle.killTree(); err != nil {
				p.log.Debugf("kill tree failed: %s", err)
			}
		}
		p.doSignal(syscall.SIGTERM, false)
		for p.IsRunning() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if p.IsRunning() {
			sig := syscall.SIGKILL
			if len(escalation) > 0 {
				sig = escalation[0]
			}
			p.doSignal(sig, false)
		}
	}

	p.updateStatus(false)
	if p.status == StatusStarted {
		// the child is unkillable-dead or a zombie; reap it now
		p.close()
	}
	if p.exitCode == nil {
		return -1, nil
	}
	return *p.exitCode, nil
}

// Signal delivers sig to the child.
func (p *Process) Signal(sig syscall.Signal) error {
	_, err := p.doSignal(sig, true)
	return err
}

// CheckTimeout enforces both timeout clocks. On expiry the child is
// stopped and a TimedOutError is returned.
func (p *Process) CheckTimeout() error {
	if p.status != StatusStarted {
		return nil
	}
	if p.timeout > 0 && time.Since(p.startTime) > p.timeout {
		p.Stop(0)
		return &TimedOutError{Process: p, Kind: TimeoutGeneral}
	}
	if p.idleTimeout > 0 && time.Since(p.lastOutputTime) > p.idleTimeout {
		p.Stop(0)
		return &TimedOutError{Process: p, Kind: TimeoutIdle}
	}
	return nil
}

// resetProcessData clears all runtime state ahead of a fresh start.
func (p *Process) resetProcessData() {
	p.startTime = time.Time{}
	p.lastOutputTime = time.Time{}
	p.callback = nil
	p.exitCode = nil
	p.fallbackExitCode = nil
	p.info = statusInfo{ExitCode: -1}
	p.handle = nil
	p.pipes = nil
	p.usedSigchild = false
	p.latestSignal = 0
	p.stdout = nil
	p.stderr = nil
	p.outCursor = 0
	p.errCursor = 0
}

// updateStatus refreshes the OS snapshot, pumps the pipes once, and
// finalizes the process when the OS first reports it gone.
func (p *Process) updateStatus(blocking bool) {
	if p.status != StatusStarted {
		return
	}
	p.refreshInfo()
	running := p.info.Running
	p.readPipes(running && blocking, closingFor(running))
	if !running {
		p.close()
	}
}

// refreshInfo takes a status snapshot and records any exit code the OS
// reported along the way.
func (p *Process) refreshInfo() {
	if p.handle == nil {
		return
	}
	p.handle.refresh(&p.info)
	if !p.info.Running && p.info.ExitCode != -1 {
		code := p.info.ExitCode
		p.exitCode = &code
	}
}

// readPipes performs one backend I/O step and routes the results: output
// chunks go through the built callback, the fallback channel carries the
// sigchild exit code.
func (p *Process) readPipes(blocking, closing bool) {
	if p.pipes == nil {
		return
	}
	result := p.pipes.ReadAndWrite(blocking, closing)
	for _, slot := range []int{pipes.Stdout, pipes.Stderr, pipes.Fallback} {
		data := result[slot]
		if len(data) == 0 {
			continue
		}
		switch slot {
		case pipes.Fallback:
			if code, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
				p.fallbackExitCode = &code
			}
		case pipes.Stdout:
			p.callback(Out, data)
		default:
			p.callback(Err, data)
		}
	}
}

// buildCallback wraps the user callback with the buffer sinks and the
// idle-clock stamp.
func (p *Process) buildCallback(cb Callback) Callback {
	if p.outputDisabled {
		return func(stream string, data []byte) {}
	}
	return func(stream string, data []byte) {
		p.lastOutputTime = time.Now()
		if stream == Out {
			p.stdout = append(p.stdout, data...)
		} else {
			p.stderr = append(p.stderr, data...)
		}
		if cb != nil {
			cb(stream, data)
		}
	}
}

// doSignal delivers sig, optionally converting failures to errors. On
// success the signal is recorded as the caller's latest request.
func (p *Process) doSignal(sig syscall.Signal, throwOnError bool) (bool, error) {
	if !p.IsRunning() {
		if throwOnError {
			return false, newLogicError("Can not send signal on a non running process.")
		}
		return false, nil
	}
	if p.usedSigchild {
		if throwOnError {
			return false, newRuntimeError("The process can not be signaled in sigchild compatibility mode.")
		}
		return false, nil
	}
	if err := p.handle.signal(sig); err != nil {
		if throwOnError {
			return false, newRuntimeError("Error while sending signal %d: %s", sig, err)
		}
		return false, nil
	}
	p.latestSignal = sig
	return true, nil
}

// close releases the pipes, reaps the child, and computes the final exit
// code. The process is terminated afterward.
func (p *Process) close() int {
	if p.pipes != nil {
		p.pipes.Close()
	}
	reaped := -1
	if p.handle != nil {
		reaped = p.handle.reap()
		p.handle.refresh(&p.info)
	}
	code := resolveExitCode(reaped, p.exitCode, p.fallbackExitCode, p.info.Signaled, p.info.TermSig)
	p.exitCode = &code
	p.status = StatusTerminated
	p.log.Debugw("process terminated", "Pid", p.info.Pid, "ExitCode", code)
	return code
}

func (p *Process) requireStarted(caller string) error {
	if p.status == StatusReady {
		return newLogicError("Process must be started before calling %s().", caller)
	}
	return nil
}
