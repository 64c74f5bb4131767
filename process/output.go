package process

// Output returns everything the child has written to stdout so far,
// after one non-blocking pipe step to pick up fresh bytes.
func (p *Process) Output() (string, error) {
	if err := p.readPipesForOutput("Output"); err != nil {
		return "", err
	}
	return string(p.stdout), nil
}

// ErrorOutput returns everything the child has written to stderr so far.
func (p *Process) ErrorOutput() (string, error) {
	if err := p.readPipesForOutput("ErrorOutput"); err != nil {
		return "", err
	}
	return string(p.stderr), nil
}

// IncrementalOutput returns the stdout bytes produced since the previous
// incremental read and advances the cursor to the end of the buffer.
func (p *Process) IncrementalOutput() (string, error) {
	if err := p.readPipesForOutput("IncrementalOutput"); err != nil {
		return "", err
	}
	data := p.stdout[p.outCursor:]
	p.outCursor = len(p.stdout)
	return string(data), nil
}

// IncrementalErrorOutput returns the stderr bytes produced since the
// previous incremental read and advances the cursor.
func (p *Process) IncrementalErrorOutput() (string, error) {
	if err := p.readPipesForOutput("IncrementalErrorOutput"); err != nil {
		return "", err
	}
	data := p.stderr[p.errCursor:]
	p.errCursor = len(p.stderr)
	return string(data), nil
}

// ClearOutput resets the stdout buffer and its incremental cursor.
func (p *Process) ClearOutput() {
	p.stdout = nil
	p.outCursor = 0
}

// ClearErrorOutput resets the stderr buffer and its incremental cursor.
func (p *Process) ClearErrorOutput() {
	p.stderr = nil
	p.errCursor = 0
}

// DisableOutput stops capturing the child's output entirely, pointing
// its streams at the null device on the next start.
func (p *Process) DisableOutput() error {
	if p.IsRunning() {
		return newRuntimeError("Disabling output while the process is running is not possible.")
	}
	if p.idleTimeout > 0 {
		return newLogicError("Output can not be disabled while an idle timeout is set.")
	}
	p.outputDisabled = true
	return nil
}

// EnableOutput re-enables output capture.
func (p *Process) EnableOutput() error {
	if p.IsRunning() {
		return newRuntimeError("Enabling output while the process is running is not possible.")
	}
	p.outputDisabled = false
	return nil
}

// IsOutputDisabled reports whether output capture is off.
func (p *Process) IsOutputDisabled() bool { return p.outputDisabled }

// readPipesForOutput guards the output accessors and pumps the pipes so
// the buffers reflect everything currently available.
func (p *Process) readPipesForOutput(caller string) error {
	if p.outputDisabled {
		return newLogicError("Output has been disabled.")
	}
	if err := p.requireStarted(caller); err != nil {
		return err
	}
	p.updateStatus(false)
	return nil
}
