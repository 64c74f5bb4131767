package pipes

import (
	"io"
	"os"
)

// readerState tracks the caller's input stream. A stream backed by an
// *os.File joins the readiness set under its own slot; any other reader
// is topped up in bounded chunks whenever the internal buffer has room.
type readerState struct {
	reader io.Reader
	file   *os.File
	eof    bool
}

func (r *readerState) init(reader io.Reader) {
	r.reader = reader
	if reader == nil {
		r.eof = true
		return
	}
	if f, ok := reader.(*os.File); ok {
		r.file = f
	}
}

// drained reports whether the source has nothing more to give.
func (r *readerState) drained() bool {
	return r.eof
}

func (r *readerState) markDrained() {
	r.eof = true
}

// pollFd returns the fd to include in the readiness set, when the source
// is pollable and not yet drained.
func (r *readerState) pollFd() (int, bool) {
	if r.file == nil || r.eof {
		return -1, false
	}
	return int(r.file.Fd()), true
}

// topUp reads one bounded chunk from a non-pollable reader into buf.
func (r *readerState) topUp(buf *[]byte) {
	if r.reader == nil || r.file != nil || r.eof || len(*buf) >= ChunkSize {
		return
	}
	chunk := make([]byte, ChunkSize)
	n, err := r.reader.Read(chunk)
	if n > 0 {
		*buf = append(*buf, chunk[:n]...)
	}
	if err != nil {
		r.eof = true
	}
}
