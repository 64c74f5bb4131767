//go:build !windows

package process

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

const defaultShell = "/bin/sh"

// procHandle owns the OS process: it spawns, polls, signals, and reaps
// exactly one child.
type procHandle struct {
	pid    int
	reaped bool
	ws     unix.WaitStatus
}

// spawn launches the shell-ready command line through the shell, wiring
// files as the child's fds 0..N.
func spawn(cmdline string, files []*os.File, cwd string, env []string, opts SpawnOptions) (*procHandle, error) {
	argv := []string{"sh", "-c", cmdline}
	proc, err := os.StartProcess(defaultShell, argv, &os.ProcAttr{
		Dir:   cwd,
		Env:   env,
		Files: files,
	})
	if err != nil {
		return nil, err
	}
	pid := proc.Pid
	// drop the runtime's handle; this engine polls and reaps by pid
	proc.Release()
	return &procHandle{pid: pid}, nil
}

// prepareCommandLine applies the platform command rewrites. Under
// sigchild compatibility the command echoes its exit code on fd 3 so it
// survives even when the reaping path cannot report it.
func (p *Process) prepareCommandLine() string {
	cmd := p.commandLine
	if p.usedSigchild {
		cmd = "(" + cmd + ") 3>/dev/null; code=$?; echo $code >&3; exit $code"
	}
	return cmd
}

// closingFor computes the closing flag passed to the pipe backend.
// Pipes here tolerate eager closing: a descriptor at EOF is done for
// good, so it always closes.
func closingFor(running bool) bool {
	return true
}

// refresh polls the child without blocking and fills info with the
// latest snapshot. Once the child has been reaped the cached wait status
// keeps answering.
func (h *procHandle) refresh(info *statusInfo) {
	info.Pid = h.pid
	if h.reaped {
		h.fill(info)
		return
	}
	var ws unix.WaitStatus
	for {
		pid, err := unix.Wait4(h.pid, &ws, unix.WNOHANG|unix.WUNTRACED, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			// reaped elsewhere; nothing more the OS can tell us
			info.Running = false
			info.ExitCode = -1
			return
		case pid == 0:
			info.Running = true
			info.ExitCode = -1
			return
		default:
			if ws.Stopped() {
				info.Running = true
				info.Stopped = true
				info.StopSig = int(ws.StopSignal())
				info.ExitCode = -1
				return
			}
			h.reaped = true
			h.ws = ws
			h.fill(info)
			return
		}
	}
}

func (h *procHandle) fill(info *statusInfo) {
	info.Running = false
	info.Stopped = false
	if h.ws.Exited() {
		info.ExitCode = h.ws.ExitStatus()
	} else {
		info.ExitCode = -1
	}
	if h.ws.Signaled() {
		info.Signaled = true
		info.TermSig = int(h.ws.Signal())
	}
}

// reap blocks until the child is gone and returns the OS exit code, or
// -1 when unavailable.
func (h *procHandle) reap() int {
	if !h.reaped {
		var ws unix.WaitStatus
		for {
			pid, err := unix.Wait4(h.pid, &ws, 0, nil)
			if err == unix.EINTR {
				continue
			}
			if err != nil {
				return -1
			}
			if pid == h.pid {
				h.reaped = true
				h.ws = ws
				break
			}
		}
	}
	if h.ws.Exited() {
		return h.ws.ExitStatus()
	}
	return -1
}

func (h *procHandle) signal(sig syscall.Signal) error {
	return unix.Kill(h.pid, sig)
}

// killTree force-kills the child's process tree. The POSIX engine
// escalates through signals instead, so this is never reached here.
func (h *procHandle) killTree() error {
	return unix.Kill(h.pid, unix.SIGKILL)
}
