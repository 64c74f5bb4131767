//go:build !windows

package pipes

import (
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// unixBackend wires the child through anonymous pipes (or the terminal /
// a pty, depending on Config) and multiplexes them with poll(2). Parent
// ends are raw nonblocking fds; child ends stay wrapped in *os.File so
// they can be handed to the spawn call.
type unixBackend struct {
	log *zap.SugaredLogger

	child  []*os.File  // child-side files, fd order
	parent map[int]int // slot -> parent-side fd
	ptmx   *os.File    // pty master, shared by the Stdin and Stdout slots

	inputReader readerState
	inputBuf    []byte

	ttyMode bool
	lost    bool
	closed  bool
}

// New builds the backend for this platform.
func New(cfg Config) (Backend, error) {
	b := &unixBackend{
		log:    cfg.log().Named("pipes.unix"),
		parent: make(map[int]int),
	}
	b.inputReader.init(cfg.InputReader)
	if cfg.InputReader == nil && len(cfg.InputBytes) > 0 {
		b.inputBuf = append([]byte(nil), cfg.InputBytes...)
	}

	var err error
	switch {
	case cfg.DisableOutput:
		err = b.initNullOutput()
	case cfg.TTY:
		err = b.initTTY()
	case cfg.PTY:
		err = b.initPty()
	default:
		err = b.initPipes()
	}
	if err != nil {
		b.Close()
		return nil, err
	}

	if cfg.SigchildFallback && !cfg.TTY {
		r, w, perr := newRawPipe()
		if perr != nil {
			b.Close()
			return nil, perr
		}
		b.child = append(b.child, os.NewFile(uintptr(w), "|3"))
		b.parent[Fallback] = r
	}

	for _, fd := range b.parent {
		unix.SetNonblock(fd, true)
	}
	return b, nil
}

func (b *unixBackend) initPipes() error {
	stdinR, stdinW, err := newRawPipe()
	if err != nil {
		return err
	}
	stdoutR, stdoutW, err := newRawPipe()
	if err != nil {
		unix.Close(stdinR)
		unix.Close(stdinW)
		return err
	}
	stderrR, stderrW, err := newRawPipe()
	if err != nil {
		unix.Close(stdinR)
		unix.Close(stdinW)
		unix.Close(stdoutR)
		unix.Close(stdoutW)
		return err
	}
	b.child = []*os.File{
		os.NewFile(uintptr(stdinR), "|0"),
		os.NewFile(uintptr(stdoutW), "|1"),
		os.NewFile(uintptr(stderrW), "|2"),
	}
	b.parent[Stdin] = stdinW
	b.parent[Stdout] = stdoutR
	b.parent[Stderr] = stderrR
	return nil
}

func (b *unixBackend) initNullOutput() error {
	stdinR, stdinW, err := newRawPipe()
	if err != nil {
		return err
	}
	null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		unix.Close(stdinR)
		unix.Close(stdinW)
		return err
	}
	b.child = []*os.File{os.NewFile(uintptr(stdinR), "|0"), null, null}
	b.parent[Stdin] = stdinW
	return nil
}

func (b *unixBackend) initTTY() error {
	in, err := os.OpenFile("/dev/tty", os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	out, err := os.OpenFile("/dev/tty", os.O_WRONLY, 0)
	if err != nil {
		in.Close()
		return err
	}
	errOut, err := os.OpenFile("/dev/tty", os.O_WRONLY, 0)
	if err != nil {
		in.Close()
		out.Close()
		return err
	}
	b.child = []*os.File{in, out, errOut}
	b.ttyMode = true
	return nil
}

func (b *unixBackend) initPty() error {
	ptmx, tts, err := openPty()
	if err != nil {
		return err
	}
	b.ptmx = ptmx
	b.child = []*os.File{tts, tts, tts}
	// the master carries both directions; the two slots share its fd
	fd := int(ptmx.Fd())
	b.parent[Stdin] = fd
	b.parent[Stdout] = fd
	return nil
}

func newRawPipe() (r, w int, err error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return 0, 0, err
	}
	unix.CloseOnExec(p[0])
	unix.CloseOnExec(p[1])
	return p[0], p[1], nil
}

func (b *unixBackend) ChildFiles() ([]*os.File, error) {
	return b.child, nil
}

func (b *unixBackend) Files() map[int]string {
	return nil
}

func (b *unixBackend) PostStart() {
	closed := map[*os.File]bool{}
	for _, f := range b.child {
		if f != nil && !closed[f] {
			closed[f] = true
			f.Close()
		}
	}
	b.child = nil
}

func (b *unixBackend) AreOpen() bool {
	return !b.lost && len(b.parent) > 0
}

func (b *unixBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.closeAllParent()
	closed := map[*os.File]bool{}
	for _, f := range b.child {
		if f != nil && !closed[f] {
			closed[f] = true
			f.Close()
		}
	}
	b.child = nil
	return nil
}

// ReadAndWrite performs one poll-driven step. An interrupted poll leaves
// all state intact and returns an empty result; any other poll failure
// marks the pipes as lost.
func (b *unixBackend) ReadAndWrite(blocking, closing bool) map[int][]byte {
	read := make(map[int][]byte)
	if b.lost || b.ttyMode {
		return read
	}

	// stdin is closed first when it is the only pipe left and there is
	// nothing more to feed, so the child sees EOF
	if _, ok := b.parent[Stdin]; ok && len(b.parent) == 1 && b.inputReader.drained() && len(b.inputBuf) == 0 {
		b.closeSlot(Stdin)
		return read
	}
	if len(b.parent) == 0 {
		return read
	}

	b.inputReader.topUp(&b.inputBuf)

	type ref struct {
		slot  int
		write bool
		input bool
	}
	var fds []unix.PollFd
	var refs []ref
	for _, slot := range []int{Stdout, Stderr, Fallback} {
		if fd, ok := b.parent[slot]; ok {
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
			refs = append(refs, ref{slot: slot})
		}
	}
	if fd, ok := b.parent[Stdin]; ok && len(b.inputBuf) > 0 {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLOUT})
		refs = append(refs, ref{slot: Stdin, write: true})
	}
	if fd, pollable := b.inputReader.pollFd(); pollable {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		refs = append(refs, ref{input: true})
	}
	if len(fds) == 0 {
		b.maybeCloseStdin()
		return read
	}

	timeout := 0
	if blocking {
		timeout = int(PollTimeout / time.Millisecond)
	}
	n, err := unix.Poll(fds, timeout)
	if err != nil {
		if err == unix.EINTR {
			// interrupted system call: no-op, retried on the next step
			return read
		}
		b.log.Debugf("poll failed, marking pipes lost: %s", err)
		b.markLost()
		return read
	}
	if n == 0 {
		b.maybeCloseStdin()
		return read
	}

	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		r := refs[i]
		switch {
		case r.input:
			data, eof, rerr := drainFd(int(pfd.Fd))
			if len(data) > 0 {
				b.inputBuf = append(b.inputBuf, data...)
			}
			if eof || rerr != nil {
				b.inputReader.markDrained()
			}
		case r.write:
			b.flushInput(int(pfd.Fd))
		default:
			data, eof, rerr := drainFd(int(pfd.Fd))
			if len(data) > 0 {
				read[r.slot] = data
			}
			if rerr != nil {
				b.closeSlot(r.slot)
				continue
			}
			if eof && closing {
				b.closeSlot(r.slot)
			}
		}
	}

	b.maybeCloseStdin()
	return read
}

// maybeCloseStdin signals EOF to the child once the input source is
// drained and every buffered byte has been written.
func (b *unixBackend) maybeCloseStdin() {
	if _, ok := b.parent[Stdin]; !ok {
		return
	}
	if b.inputReader.drained() && len(b.inputBuf) == 0 {
		b.closeSlot(Stdin)
	}
}

// flushInput writes buffered input in bursts until the buffer empties or
// the pipe would block.
func (b *unixBackend) flushInput(fd int) {
	for len(b.inputBuf) > 0 {
		chunk := b.inputBuf
		if len(chunk) > WriteBurst {
			chunk = chunk[:WriteBurst]
		}
		n, err := unix.Write(fd, chunk)
		if n > 0 {
			b.inputBuf = b.inputBuf[n:]
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err != unix.EAGAIN {
				b.log.Debugf("stdin write failed: %s", err)
				b.closeSlot(Stdin)
			}
			return
		}
		if n == 0 {
			return
		}
	}
}

// drainFd reads until the descriptor has no bytes left pending, returning
// whatever was read plus whether EOF was observed.
func drainFd(fd int) (data []byte, eof bool, err error) {
	buf := make([]byte, ChunkSize)
	for {
		n, rerr := unix.Read(fd, buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		switch {
		case rerr == unix.EINTR:
			continue
		case rerr == unix.EAGAIN:
			return data, false, nil
		case rerr == unix.EIO:
			// a pty master reports EIO when the slave side is gone
			return data, true, nil
		case rerr != nil:
			return data, false, rerr
		case n == 0:
			return data, true, nil
		}
	}
}

// closeSlot removes a slot from the table and closes its fd unless
// another slot (the pty master case) still references it.
func (b *unixBackend) closeSlot(slot int) {
	fd, ok := b.parent[slot]
	if !ok {
		return
	}
	delete(b.parent, slot)
	for _, other := range b.parent {
		if other == fd {
			return
		}
	}
	b.closeFd(fd)
}

// closeFd closes a parent-side fd, going through the pty master's
// *os.File when the fd belongs to it so the wrapper does not close a
// recycled descriptor later.
func (b *unixBackend) closeFd(fd int) {
	if b.ptmx != nil && fd == int(b.ptmx.Fd()) {
		b.ptmx.Close()
		b.ptmx = nil
		return
	}
	unix.Close(fd)
}

func (b *unixBackend) markLost() {
	b.closeAllParent()
	b.lost = true
}

func (b *unixBackend) closeAllParent() {
	seen := map[int]bool{}
	for slot, fd := range b.parent {
		delete(b.parent, slot)
		if !seen[fd] {
			seen[fd] = true
			b.closeFd(fd)
		}
	}
}
