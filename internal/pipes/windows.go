//go:build windows

package pipes

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// windowsBackend redirects the child's stdout and stderr to temp files at
// the shell level and streams them back incrementally. Reading a full
// anonymous pipe from the parent can deadlock the child here, so the
// child's real fds 1 and 2 point at the null device while the command
// line carries `1>file 2>file` redirections built from Files().
type windowsBackend struct {
	log *zap.SugaredLogger

	child  []*os.File
	stdinW *os.File

	files     map[int]string
	handles   map[int]*os.File
	readBytes map[int]int64

	inputReader readerState
	inputBuf    []byte

	closed bool
}

// New builds the backend for this platform.
func New(cfg Config) (Backend, error) {
	if cfg.TTY || cfg.PTY {
		return nil, errors.New("TTY and PTY modes are not supported on this platform")
	}
	b := &windowsBackend{
		log:       cfg.log().Named("pipes.windows"),
		files:     make(map[int]string),
		handles:   make(map[int]*os.File),
		readBytes: make(map[int]int64),
	}
	b.inputReader.init(cfg.InputReader)
	if cfg.InputReader == nil && len(cfg.InputBytes) > 0 {
		b.inputBuf = append([]byte(nil), cfg.InputBytes...)
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	b.stdinW = stdinW

	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, err
	}
	b.child = []*os.File{stdinR, null, null}

	if !cfg.DisableOutput {
		id := uuid.NewString()
		for slot, kind := range map[int]string{Stdout: "out", Stderr: "err"} {
			name := filepath.Join(os.TempDir(), fmt.Sprintf("sf_proc_%s.%s", id, kind))
			f, cerr := os.Create(name)
			if cerr != nil {
				b.Close()
				return nil, cerr
			}
			f.Close()
			h, oerr := os.Open(name)
			if oerr != nil {
				b.Close()
				return nil, oerr
			}
			b.files[slot] = name
			b.handles[slot] = h
		}
	}
	return b, nil
}

func (b *windowsBackend) ChildFiles() ([]*os.File, error) {
	return b.child, nil
}

func (b *windowsBackend) Files() map[int]string {
	out := make(map[int]string, len(b.files))
	for k, v := range b.files {
		out[k] = v
	}
	return out
}

func (b *windowsBackend) PostStart() {
	closed := map[*os.File]bool{}
	for _, f := range b.child {
		if f != nil && !closed[f] {
			closed[f] = true
			f.Close()
		}
	}
	b.child = nil
}

func (b *windowsBackend) AreOpen() bool {
	if b.stdinW != nil {
		return true
	}
	for _, h := range b.handles {
		if h != nil {
			return true
		}
	}
	return false
}

// ReadAndWrite feeds stdin, then tails each output temp file from its
// cursor to EOF.
func (b *windowsBackend) ReadAndWrite(blocking, closing bool) map[int][]byte {
	read := make(map[int][]byte)
	b.write()

	for _, slot := range []int{Stdout, Stderr} {
		h := b.handles[slot]
		if h == nil {
			continue
		}
		data, err := b.tail(slot, h)
		if len(data) > 0 {
			read[slot] = data
		}
		if err != nil || (closing && len(data) == 0) {
			h.Close()
			b.handles[slot] = nil
		}
	}
	if blocking && len(read) == 0 {
		// temp files have no readiness primitive to park on
		time.Sleep(PollTimeout / 10)
	}
	return read
}

// tail reads from the stream's cursor to the current EOF and advances
// the cursor.
func (b *windowsBackend) tail(slot int, h *os.File) ([]byte, error) {
	if _, err := h.Seek(b.readBytes[slot], io.SeekStart); err != nil {
		return nil, err
	}
	var data []byte
	buf := make([]byte, ChunkSize)
	for {
		n, err := h.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if err != nil {
			b.readBytes[slot] += int64(len(data))
			if errors.Is(err, io.EOF) {
				return data, nil
			}
			return data, err
		}
	}
}

// write drains buffered input into the child's stdin in bursts and closes
// stdin once the source is exhausted.
func (b *windowsBackend) write() {
	if b.stdinW == nil {
		return
	}
	b.inputReader.topUp(&b.inputBuf)
	for len(b.inputBuf) > 0 {
		chunk := b.inputBuf
		if len(chunk) > WriteBurst {
			chunk = chunk[:WriteBurst]
		}
		n, err := b.stdinW.Write(chunk)
		if n > 0 {
			b.inputBuf = b.inputBuf[n:]
		}
		if err != nil {
			b.log.Debugf("stdin write failed: %s", err)
			b.closeStdin()
			return
		}
		b.inputReader.topUp(&b.inputBuf)
	}
	if b.inputReader.drained() && len(b.inputBuf) == 0 {
		b.closeStdin()
	}
}

func (b *windowsBackend) closeStdin() {
	if b.stdinW != nil {
		b.stdinW.Close()
		b.stdinW = nil
	}
}

func (b *windowsBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.closeStdin()
	for slot, h := range b.handles {
		if h != nil {
			h.Close()
			b.handles[slot] = nil
		}
	}
	closed := map[*os.File]bool{}
	for _, f := range b.child {
		if f != nil && !closed[f] {
			closed[f] = true
			f.Close()
		}
	}
	b.child = nil
	for _, name := range b.files {
		// best effort; the shell may still hold the file briefly
		os.Remove(name)
	}
	return nil
}
