//go:build windows

package process

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/guseggert/subproc/escape"
	"github.com/guseggert/subproc/finder"
)

// procHandle owns the OS process: it spawns, polls, signals, and reaps
// exactly one child.
type procHandle struct {
	pid    int
	handle windows.Handle
	reaped bool
	code   uint32
}

// spawn launches the prepared command line through cmd.exe. The command
// string is passed verbatim so the temp-file redirections survive.
func spawn(cmdline string, files []*os.File, cwd string, env []string, opts SpawnOptions) (*procHandle, error) {
	cmdPath := finder.Find("cmd", `C:\Windows\System32\cmd.exe`)
	if comspec := os.Getenv("COMSPEC"); comspec != "" {
		cmdPath = comspec
	}
	sys := &syscall.SysProcAttr{CmdLine: cmdline}
	if opts.SuppressErrors {
		sys.HideWindow = true
		sys.CreationFlags = windows.CREATE_NO_WINDOW
	}
	proc, err := os.StartProcess(cmdPath, []string{cmdPath}, &os.ProcAttr{
		Dir:   cwd,
		Env:   env,
		Files: files,
		Sys:   sys,
	})
	if err != nil {
		return nil, err
	}
	pid := proc.Pid
	proc.Release()

	h, err := windows.OpenProcess(
		windows.PROCESS_QUERY_LIMITED_INFORMATION|windows.SYNCHRONIZE, false, uint32(pid))
	if err != nil {
		return nil, err
	}
	return &procHandle{pid: pid, handle: h}, nil
}

// prepareCommandLine wraps the command so stdout and stderr land in the
// backend's temp files at the shell level, dodging the pipe-hang bug.
func (p *Process) prepareCommandLine() string {
	files := p.pipes.Files()
	cmd := `cmd /V:ON /E:ON /C "(` + p.commandLine + `)`
	fds := make([]int, 0, len(files))
	for fd := range files {
		fds = append(fds, fd)
	}
	sort.Ints(fds)
	for _, fd := range fds {
		cmd += fmt.Sprintf(" %d>%s", fd, escape.Windows(files[fd]))
	}
	return cmd + `"`
}

// closingFor computes the closing flag passed to the pipe backend. A
// temp file at EOF may still grow while the child runs, so it may only
// close once the child is gone.
func closingFor(running bool) bool {
	return !running
}

// refresh polls the child without blocking and fills info with the
// latest snapshot.
func (h *procHandle) refresh(info *statusInfo) {
	info.Pid = h.pid
	if h.reaped {
		info.Running = false
		info.ExitCode = int(h.code)
		return
	}
	var code uint32
	if err := windows.GetExitCodeProcess(h.handle, &code); err != nil {
		info.Running = false
		info.ExitCode = -1
		return
	}
	if code == uint32(windows.STILL_ACTIVE) {
		info.Running = true
		info.ExitCode = -1
		return
	}
	h.reaped = true
	h.code = code
	info.Running = false
	info.ExitCode = int(code)
}

// reap blocks until the child is gone and returns the OS exit code, or
// -1 when unavailable.
func (h *procHandle) reap() int {
	if !h.reaped {
		if _, err := windows.WaitForSingleObject(h.handle, windows.INFINITE); err != nil {
			return -1
		}
		var code uint32
		if err := windows.GetExitCodeProcess(h.handle, &code); err != nil {
			return -1
		}
		h.reaped = true
		h.code = code
	}
	if h.handle != windows.InvalidHandle {
		windows.CloseHandle(h.handle)
		h.handle = windows.InvalidHandle
	}
	return int(h.code)
}

// signal delivers the rough equivalent of a POSIX signal: termination
// requests terminate the process, everything else is undeliverable.
func (h *procHandle) signal(sig syscall.Signal) error {
	switch sig {
	case syscall.SIGKILL, syscall.SIGTERM, syscall.SIGINT:
		return windows.TerminateProcess(h.handle, uint32(128+int(sig)))
	default:
		return fmt.Errorf("signal %d is not deliverable on this platform", sig)
	}
}

// killTree force-kills the child and everything it spawned.
func (h *procHandle) killTree() error {
	out, err := exec.Command("taskkill", "/F", "/T", "/PID", fmt.Sprint(h.pid)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("taskkill: %w (%s)", err, out)
	}
	return nil
}
