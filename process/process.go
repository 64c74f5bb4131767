// Package process runs external commands: it spawns a child, feeds it
// input, drains its standard streams without blocking, enforces runtime
// and idle timeouts, delivers signals, and reports rich termination
// information.
package process

import (
	"os"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/guseggert/subproc/escape"
	"github.com/guseggert/subproc/internal/pipes"
)

// Stream names passed to output callbacks.
const (
	Out = "out"
	Err = "err"
)

// Process statuses. A process moves ready -> started -> terminated and
// never re-enters an earlier state; restarting yields a new Process.
const (
	StatusReady      = "ready"
	StatusStarted    = "started"
	StatusTerminated = "terminated"
)

// Child descriptor numbers.
const (
	Stdin  = 0
	Stdout = 1
	Stderr = 2
)

// TimeoutPrecision is the polling quantum: timeouts are enforced within
// roughly this much slack, not preemptively.
const TimeoutPrecision = 200 * time.Millisecond

// Callback receives output chunks as they are drained from the child.
// stream is Out or Err. It is never entered re-entrantly.
type Callback func(stream string, data []byte)

// SpawnOptions are opaque platform spawn hints.
type SpawnOptions struct {
	// SuppressErrors hides the child's console window on platforms that
	// would otherwise pop one.
	SuppressErrors bool
	// BypassShell skips the extra shell layer where the platform spawn
	// facility would add one. The engine always talks to the shell
	// directly, so this is advisory.
	BypassShell bool
}

// Process is one external command invocation.
type Process struct {
	log *zap.SugaredLogger

	commandLine     string
	cwd             string
	env             map[string]string
	inheritEnv      bool
	input           inputSource
	timeout         time.Duration
	idleTimeout     time.Duration
	options         SpawnOptions
	tty             bool
	pty             bool
	outputDisabled  bool
	enhanceSigchild bool

	status           string
	exitCode         *int
	fallbackExitCode *int
	info             statusInfo
	handle           *procHandle
	pipes            pipes.Backend
	callback         Callback
	usedSigchild     bool

	stdout    []byte
	stderr    []byte
	outCursor int
	errCursor int

	startTime      time.Time
	lastOutputTime time.Time
	latestSignal   syscall.Signal
}

// Option configures a Process at construction time.
type Option func(p *Process) error

// WithLogger routes the engine's debug logging through l.
func WithLogger(l *zap.Logger) Option {
	return func(p *Process) error {
		p.log = l.Named("process").Sugar()
		return nil
	}
}

// WithCwd sets the child's working directory.
func WithCwd(dir string) Option {
	return func(p *Process) error { return p.SetCwd(dir) }
}

// WithEnv sets the user-supplied environment entries.
func WithEnv(env map[string]string) Option {
	return func(p *Process) error { return p.SetEnv(env) }
}

// WithInheritEnv controls whether the ambient environment is unioned
// under the user-supplied entries. Defaults to true.
func WithInheritEnv(inherit bool) Option {
	return func(p *Process) error {
		p.inheritEnv = inherit
		return nil
	}
}

// WithInput sets the child's stdin source: an io.Reader, a string, a
// byte slice, or a scalar.
func WithInput(input any) Option {
	return func(p *Process) error { return p.SetInput(input) }
}

// WithTimeout sets the wall-clock limit on the whole run. Zero disables.
func WithTimeout(d time.Duration) Option {
	return func(p *Process) error { return p.SetTimeout(d) }
}

// WithIdleTimeout sets the limit on silence since the last output byte.
// Zero disables.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Process) error { return p.SetIdleTimeout(d) }
}

// WithTTY connects the child's streams to the controlling terminal.
func WithTTY(tty bool) Option {
	return func(p *Process) error { return p.SetTTY(tty) }
}

// WithPty requests a pseudo-terminal for the child's streams.
func WithPty(pty bool) Option {
	return func(p *Process) error { return p.SetPty(pty) }
}

// WithSpawnOptions sets platform spawn hints.
func WithSpawnOptions(opts SpawnOptions) Option {
	return func(p *Process) error {
		p.options = opts
		return nil
	}
}

// New builds a Process in the ready state from a shell-ready command
// line.
func New(commandLine string, opts ...Option) (*Process, error) {
	p := &Process{
		log:             zap.NewNop().Sugar(),
		commandLine:     commandLine,
		inheritEnv:      true,
		enhanceSigchild: true,
		status:          StatusReady,
		info:            statusInfo{ExitCode: -1},
	}
	for _, o := range opts {
		if err := o(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Command builds a Process from an argv-style slice, quoting each
// argument for the platform shell so the child sees them verbatim.
func Command(argv []string, opts ...Option) (*Process, error) {
	parts := make([]string, len(argv))
	for i, arg := range argv {
		parts[i] = escape.Arg(arg)
	}
	return New(strings.Join(parts, " "), opts...)
}

// CommandLine returns the shell-ready command string.
func (p *Process) CommandLine() string { return p.commandLine }

// SetCommandLine replaces the command string.
func (p *Process) SetCommandLine(commandLine string) error {
	if err := p.requireNotRunning("SetCommandLine"); err != nil {
		return err
	}
	p.commandLine = commandLine
	return nil
}

// Cwd returns the child's working directory; when unset it falls back to
// the current directory, mirroring what the child would inherit.
func (p *Process) Cwd() string {
	if p.cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			return wd
		}
	}
	return p.cwd
}

// SetCwd sets the child's working directory.
func (p *Process) SetCwd(dir string) error {
	if err := p.requireNotRunning("SetCwd"); err != nil {
		return err
	}
	p.cwd = dir
	return nil
}

// Env returns the user-supplied environment entries.
func (p *Process) Env() map[string]string { return p.env }

// SetEnv sets the user-supplied environment entries. The map is copied;
// the caller may mutate theirs afterward.
func (p *Process) SetEnv(env map[string]string) error {
	if err := p.requireNotRunning("SetEnv"); err != nil {
		return err
	}
	if env == nil {
		p.env = nil
		return nil
	}
	copied := make(map[string]string, len(env))
	for k, v := range env {
		copied[k] = v
	}
	p.env = copied
	return nil
}

// SetInput sets the child's stdin source. Fails while the process runs.
func (p *Process) SetInput(input any) error {
	if p.IsRunning() {
		return newLogicError("Input can not be set while the process is running.")
	}
	validated, err := validateInput("Process.SetInput", input)
	if err != nil {
		return err
	}
	p.input = validated
	return nil
}

// Timeout returns the wall-clock limit, zero when disabled.
func (p *Process) Timeout() time.Duration { return p.timeout }

// SetTimeout sets the wall-clock limit on the whole run. Zero disables.
func (p *Process) SetTimeout(d time.Duration) error {
	if err := p.requireNotRunning("SetTimeout"); err != nil {
		return err
	}
	if d < 0 {
		return newInvalidArgumentError("The timeout value must be a valid positive duration.")
	}
	p.timeout = d
	return nil
}

// IdleTimeout returns the idle limit, zero when disabled.
func (p *Process) IdleTimeout() time.Duration { return p.idleTimeout }

// SetIdleTimeout sets the limit on silence since the last output byte.
// It requires visible output, so it conflicts with DisableOutput.
func (p *Process) SetIdleTimeout(d time.Duration) error {
	if err := p.requireNotRunning("SetIdleTimeout"); err != nil {
		return err
	}
	if d < 0 {
		return newInvalidArgumentError("The idle timeout value must be a valid positive duration.")
	}
	if d > 0 && p.outputDisabled {
		return newLogicError("Idle timeout can not be set while the output is disabled.")
	}
	p.idleTimeout = d
	return nil
}

// IsTTY reports whether TTY mode is requested.
func (p *Process) IsTTY() bool { return p.tty }

// SetTTY connects the child's standard streams to the controlling
// terminal.
func (p *Process) SetTTY(tty bool) error {
	if err := p.requireNotRunning("SetTTY"); err != nil {
		return err
	}
	if tty {
		if err := checkTTY(); err != nil {
			return err
		}
	}
	p.tty = tty
	return nil
}

// IsPty reports whether PTY mode is requested.
func (p *Process) IsPty() bool { return p.pty }

// SetPty requests a pseudo-terminal for the child's streams. The request
// silently degrades to plain pipes on systems without pty support.
func (p *Process) SetPty(pty bool) error {
	if err := p.requireNotRunning("SetPty"); err != nil {
		return err
	}
	p.pty = pty
	return nil
}

// Options returns the platform spawn hints.
func (p *Process) Options() SpawnOptions { return p.options }

// SetEnhanceSigchildCompatibility toggles the fd-3 exit-code fallback on
// platforms whose reaping path cannot report exit codes.
func (p *Process) SetEnhanceSigchildCompatibility(enhance bool) error {
	if err := p.requireNotRunning("SetEnhanceSigchildCompatibility"); err != nil {
		return err
	}
	p.enhanceSigchild = enhance
	return nil
}

func (p *Process) requireNotRunning(caller string) error {
	if p.IsRunning() {
		return newLogicError("%s() can not be called while the process is running.", caller)
	}
	return nil
}

// clone deep-copies the configuration into a fresh ready-state Process,
// discarding all runtime state.
func (p *Process) clone() *Process {
	q := &Process{
		log:             p.log,
		commandLine:     p.commandLine,
		cwd:             p.cwd,
		inheritEnv:      p.inheritEnv,
		input:           p.input,
		timeout:         p.timeout,
		idleTimeout:     p.idleTimeout,
		options:         p.options,
		tty:             p.tty,
		pty:             p.pty,
		outputDisabled:  p.outputDisabled,
		enhanceSigchild: p.enhanceSigchild,
		status:          StatusReady,
		info:            statusInfo{ExitCode: -1},
	}
	if p.env != nil {
		q.env = make(map[string]string, len(p.env))
		for k, v := range p.env {
			q.env[k] = v
		}
	}
	return q
}
