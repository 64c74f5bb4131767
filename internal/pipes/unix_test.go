//go:build !windows

package pipes

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The tests play the child's side of the descriptors directly, so none
// of them spawn a real process.

func TestWritesInputAndDrainsOutput(t *testing.T) {
	b, err := New(Config{InputBytes: []byte("ping")})
	require.NoError(t, err)
	defer b.Close()

	files, err := b.ChildFiles()
	require.NoError(t, err)
	require.Len(t, files, 3)

	_, err = files[1].Write([]byte("hello"))
	require.NoError(t, err)
	_, err = files[2].Write([]byte("oops"))
	require.NoError(t, err)

	read := b.ReadAndWrite(false, false)
	assert.Equal(t, "hello", string(read[Stdout]))
	assert.Equal(t, "oops", string(read[Stderr]))

	// the whole payload arrived on stdin, followed by EOF
	got, err := io.ReadAll(files[0])
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
}

func TestClosesOnEOFWhenClosing(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	defer b.Close()

	files, err := b.ChildFiles()
	require.NoError(t, err)

	// child exits: its ends go away
	for _, f := range files {
		f.Close()
	}

	b.ReadAndWrite(true, true)
	assert.False(t, b.AreOpen())
}

func TestKeepsEOFDescriptorsWithoutClosing(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	defer b.Close()

	files, err := b.ChildFiles()
	require.NoError(t, err)
	for _, f := range files {
		f.Close()
	}

	b.ReadAndWrite(false, false)
	assert.True(t, b.AreOpen())
}

func TestDrainsLargeOutputInOneStep(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	defer b.Close()

	files, err := b.ChildFiles()
	require.NoError(t, err)

	// more than one chunk, less than a pipe buffer
	payload := bytes.Repeat([]byte("x"), 3*ChunkSize)
	_, err = files[1].Write(payload)
	require.NoError(t, err)

	read := b.ReadAndWrite(false, false)
	assert.Len(t, read[Stdout], len(payload))
}

func TestStreamInputFromReader(t *testing.T) {
	b, err := New(Config{InputReader: strings.NewReader("streamed")})
	require.NoError(t, err)
	defer b.Close()

	files, err := b.ChildFiles()
	require.NoError(t, err)

	// one step writes the first chunk, the next observes reader EOF and
	// closes stdin
	b.ReadAndWrite(false, false)
	b.ReadAndWrite(false, false)
	got, err := io.ReadAll(files[0])
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(got))
}

func TestDisabledOutputClosesStdinImmediately(t *testing.T) {
	b, err := New(Config{DisableOutput: true})
	require.NoError(t, err)
	defer b.Close()

	files, err := b.ChildFiles()
	require.NoError(t, err)
	require.Len(t, files, 3)

	// no input at all: the only pipe is stdin and it closes right away
	b.ReadAndWrite(false, false)
	assert.False(t, b.AreOpen())
}

func TestSigchildFallbackDescriptor(t *testing.T) {
	b, err := New(Config{SigchildFallback: true})
	require.NoError(t, err)
	defer b.Close()

	files, err := b.ChildFiles()
	require.NoError(t, err)
	require.Len(t, files, 4)

	_, err = files[3].Write([]byte("42\n"))
	require.NoError(t, err)

	read := b.ReadAndWrite(false, false)
	assert.Equal(t, "42\n", string(read[Fallback]))
}
