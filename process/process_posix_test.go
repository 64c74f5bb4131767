//go:build !windows

package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunEcho(t *testing.T) {
	p, err := New("echo hello")
	require.NoError(t, err)

	code, err := p.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, StatusTerminated, p.GetStatus())
	assert.True(t, p.IsSuccessful())

	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	errOut, err := p.ErrorOutput()
	require.NoError(t, err)
	assert.Empty(t, errOut)
}

func TestStderrAndExitCode(t *testing.T) {
	p, err := New("printf oops >&2; exit 1")
	require.NoError(t, err)

	code, err := p.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.False(t, p.IsSuccessful())

	errOut, err := p.ErrorOutput()
	require.NoError(t, err)
	assert.Contains(t, errOut, "oops")

	text, err := p.ExitCodeText()
	require.NoError(t, err)
	assert.Equal(t, "General error", text)
}

func TestInputString(t *testing.T) {
	p, err := New("cat", WithInput("ping"))
	require.NoError(t, err)

	code, err := p.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, "ping", out)
}

func TestInputReader(t *testing.T) {
	p, err := New("cat", WithInput(strings.NewReader("streamed input")))
	require.NoError(t, err)

	code, err := p.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, "streamed input", out)
}

func TestInputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stdin")
	require.NoError(t, os.WriteFile(path, []byte("from a file"), 0644))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	p, err := New("cat", WithInput(f))
	require.NoError(t, err)

	code, err := p.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, "from a file", out)
}

func TestLargeOutputDoesNotDeadlock(t *testing.T) {
	const want = 2 * 1024 * 1024
	p, err := New(fmt.Sprintf("dd if=/dev/zero bs=65536 count=%d 2>/dev/null", want/65536))
	require.NoError(t, err)

	code, err := p.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	out, err := p.Output()
	require.NoError(t, err)
	assert.Len(t, out, want)
}

func TestTimeout(t *testing.T) {
	p, err := New("sleep 10", WithTimeout(500*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Run(nil)
	elapsed := time.Since(start)

	var timedOut *TimedOutError
	require.ErrorAs(t, err, &timedOut)
	assert.True(t, timedOut.IsGeneral())
	assert.Same(t, p, timedOut.Process)
	assert.Less(t, elapsed, 500*time.Millisecond+2*TimeoutPrecision+time.Second)

	// the child was stopped and an exit code captured
	_, err = p.ExitCode()
	assert.NoError(t, err)
	time.Sleep(time.Second)
	assert.False(t, p.IsRunning())
}

func TestIdleTimeout(t *testing.T) {
	p, err := New("echo hi; sleep 10", WithIdleTimeout(500*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Run(nil)
	elapsed := time.Since(start)

	var timedOut *TimedOutError
	require.ErrorAs(t, err, &timedOut)
	assert.True(t, timedOut.IsIdle())
	assert.Less(t, elapsed, 3*time.Second)

	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out)
}

func TestWaitReportsUnexpectedSignal(t *testing.T) {
	p, err := New("sleep 10")
	require.NoError(t, err)
	require.NoError(t, p.Start(nil))

	pid, err := p.Pid()
	require.NoError(t, err)
	require.NoError(t, syscall.Kill(pid, syscall.SIGTERM))

	_, err = p.Wait(nil)
	var runtimeErr *RuntimeError
	require.ErrorAs(t, err, &runtimeErr)
	assert.Contains(t, err.Error(), "signal 15")
}

func TestWaitAcceptsRequestedSignal(t *testing.T) {
	p, err := New("sleep 10")
	require.NoError(t, err)
	require.NoError(t, p.Start(nil))

	require.NoError(t, p.Signal(syscall.SIGTERM))

	code, err := p.Wait(nil)
	require.NoError(t, err)
	assert.Equal(t, 143, code)

	signaled, err := p.HasBeenSignaled()
	require.NoError(t, err)
	assert.True(t, signaled)
	sig, err := p.TermSignal()
	require.NoError(t, err)
	assert.Equal(t, syscall.SIGTERM, sig)
}

func TestMustRunFailure(t *testing.T) {
	p, err := New("false")
	require.NoError(t, err)

	err = p.MustRun(nil)
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Same(t, p, failed.Process)

	code, cerr := failed.Process.ExitCode()
	require.NoError(t, cerr)
	assert.Equal(t, 1, code)
	assert.Contains(t, err.Error(), "false")
	assert.Contains(t, err.Error(), "Exit Code: 1")
}

func TestMustRunSuccess(t *testing.T) {
	p, err := New("true")
	require.NoError(t, err)
	assert.NoError(t, p.MustRun(nil))
}

func TestStartWhileRunning(t *testing.T) {
	p, err := New("sleep 5")
	require.NoError(t, err)
	require.NoError(t, p.Start(nil))
	defer p.Stop(time.Second)

	err = p.Start(nil)
	var runtimeErr *RuntimeError
	assert.ErrorAs(t, err, &runtimeErr)
}

func TestStopTerminatesWithinGrace(t *testing.T) {
	p, err := New("sleep 5")
	require.NoError(t, err)
	require.NoError(t, p.Start(nil))

	code, err := p.Stop(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 143, code)
	assert.True(t, p.IsTerminated())
}

func TestCallbackChunksConcatenateToOutput(t *testing.T) {
	p, err := New("printf a; printf b; printf 'x' >&2; printf c")
	require.NoError(t, err)

	var outChunks, errChunks []byte
	code, err := p.Run(func(stream string, data []byte) {
		if stream == Out {
			outChunks = append(outChunks, data...)
		} else {
			errChunks = append(errChunks, data...)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, out, string(outChunks))

	errOut, err := p.ErrorOutput()
	require.NoError(t, err)
	assert.Equal(t, errOut, string(errChunks))
	assert.Equal(t, "x", errOut)
}

func TestIncrementalOutputConcatenates(t *testing.T) {
	p, err := New("printf x; sleep 0.3; printf y")
	require.NoError(t, err)
	require.NoError(t, p.Start(nil))

	var collected strings.Builder
	for p.IsRunning() {
		chunk, err := p.IncrementalOutput()
		require.NoError(t, err)
		collected.WriteString(chunk)
		time.Sleep(20 * time.Millisecond)
	}
	_, err = p.Wait(nil)
	require.NoError(t, err)

	chunk, err := p.IncrementalOutput()
	require.NoError(t, err)
	collected.WriteString(chunk)

	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, out, collected.String())
	assert.Equal(t, "xy", out)
}

func TestIncrementalErrorOutput(t *testing.T) {
	p, err := New("printf one >&2")
	require.NoError(t, err)
	_, err = p.Run(nil)
	require.NoError(t, err)

	chunk, err := p.IncrementalErrorOutput()
	require.NoError(t, err)
	assert.Equal(t, "one", chunk)

	chunk, err = p.IncrementalErrorOutput()
	require.NoError(t, err)
	assert.Empty(t, chunk)
}

func TestRestartDoesNotMutateOriginal(t *testing.T) {
	p, err := New("echo foo")
	require.NoError(t, err)
	code, err := p.Run(nil)
	require.NoError(t, err)
	require.Equal(t, 0, code)
	origOut, err := p.Output()
	require.NoError(t, err)

	q, err := p.Restart(nil)
	require.NoError(t, err)
	require.NotSame(t, p, q)
	_, err = q.Wait(nil)
	require.NoError(t, err)

	// the original keeps its exit code and buffers
	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, origOut, out)
	code, err = p.ExitCode()
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	qOut, err := q.Output()
	require.NoError(t, err)
	assert.Equal(t, "foo\n", qOut)
}

func TestDisabledOutputRun(t *testing.T) {
	p, err := New("echo hi")
	require.NoError(t, err)
	require.NoError(t, p.DisableOutput())

	code, err := p.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	var logic *LogicError
	_, err = p.Output()
	assert.ErrorAs(t, err, &logic)
}

func TestEnvSelection(t *testing.T) {
	t.Setenv("SUBPROC_AMBIENT", "yes")

	p, err := New("echo \"$SUBPROC_USER-$SUBPROC_AMBIENT\"",
		WithEnv(map[string]string{"SUBPROC_USER": "u"}))
	require.NoError(t, err)
	_, err = p.Run(nil)
	require.NoError(t, err)
	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, "u-yes\n", out)

	p, err = New("echo \"$SUBPROC_USER-$SUBPROC_AMBIENT\"",
		WithInheritEnv(false),
		WithEnv(map[string]string{"SUBPROC_USER": "u"}))
	require.NoError(t, err)
	_, err = p.Run(nil)
	require.NoError(t, err)
	out, err = p.Output()
	require.NoError(t, err)
	assert.Equal(t, "u-\n", out)
}

func TestCwd(t *testing.T) {
	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	p, err := New("pwd", WithCwd(resolved))
	require.NoError(t, err)
	_, err = p.Run(nil)
	require.NoError(t, err)
	out, err := p.Output()
	require.NoError(t, err)
	assert.Equal(t, resolved+"\n", out)
}

func TestSpawnFailure(t *testing.T) {
	p, err := New("true", WithCwd(filepath.Join(t.TempDir(), "missing")))
	require.NoError(t, err)

	err = p.Start(nil)
	var runtimeErr *RuntimeError
	require.ErrorAs(t, err, &runtimeErr)
	assert.Contains(t, err.Error(), "Unable to launch a new process.")
	assert.Equal(t, StatusReady, p.GetStatus())
}

func TestEscapeRoundTrip(t *testing.T) {
	args := []string{
		"plain",
		"a b c",
		"it's",
		`"quoted"`,
		"$HOME",
		"*.go",
		"a\nb",
		"back\\slash",
		"%PATH%",
		"--flag=value with spaces",
	}
	for _, arg := range args {
		t.Run(arg, func(t *testing.T) {
			p, err := Command([]string{"printf", "%s", arg})
			require.NoError(t, err)
			code, err := p.Run(nil)
			require.NoError(t, err)
			require.Equal(t, 0, code)
			out, err := p.Output()
			require.NoError(t, err)
			assert.Equal(t, arg, out)
		})
	}
}

func TestSigchildCompatibility(t *testing.T) {
	setSigchildEnabled(true)
	defer setSigchildEnabled(false)

	p, err := New("exit 5")
	require.NoError(t, err)
	code, err := p.Run(nil)
	require.NoError(t, err)
	assert.Equal(t, 5, code)

	// the wrapper echoed the code on the fallback channel
	require.NotNil(t, p.fallbackExitCode)
	assert.Equal(t, 5, *p.fallbackExitCode)

	// pid and signals are withheld in this mode
	p, err = New("sleep 5")
	require.NoError(t, err)
	require.NoError(t, p.Start(nil))
	defer func() {
		setSigchildEnabled(false)
		p.usedSigchild = false
		p.Stop(time.Second)
	}()

	var runtimeErr *RuntimeError
	_, err = p.Pid()
	assert.ErrorAs(t, err, &runtimeErr)
	err = p.Signal(syscall.SIGTERM)
	assert.ErrorAs(t, err, &runtimeErr)
}

func TestCommandQuotesArguments(t *testing.T) {
	p, err := Command([]string{"printf", "%s", "a b"})
	require.NoError(t, err)
	assert.Equal(t, `'printf' '%s' 'a b'`, p.CommandLine())
}

func TestGetStatusLifecycle(t *testing.T) {
	p, err := New("sleep 0.2")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, p.GetStatus())

	require.NoError(t, p.Start(nil))
	assert.Equal(t, StatusStarted, p.GetStatus())
	assert.True(t, p.IsStarted())

	_, err = p.Wait(nil)
	require.NoError(t, err)
	assert.Equal(t, StatusTerminated, p.GetStatus())
	assert.True(t, p.IsTerminated())
	assert.False(t, p.IsRunning())
}
