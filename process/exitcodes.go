package process

// exitCodes maps common exit codes to human-readable labels. Codes 1-2
// and 126-128 follow shell conventions, 129-143 are the 128+N signal
// convention, and user-defined codes are expected to stay in the 64-113
// range.
var exitCodes = map[int]string{
	0: "OK",
	1: "General error",
	2: "Misuse of shell builtins",

	126: "Invoked command cannot execute",
	127: "Command not found",
	128: "Invalid exit argument",

	// signals
	129: "Hangup",
	130: "Interrupt",
	131: "Quit and dump core",
	132: "Illegal instruction",
	133: "Trace/breakpoint trap",
	134: "Process aborted",
	135: `Bus error: "access to undefined portion of memory object"`,
	136: `Floating point exception: "erroneous arithmetic operation"`,
	137: "Kill (terminate immediately)",
	138: "User-defined 1",
	139: "Segmentation violation",
	140: "User-defined 2",
	141: "Write to pipe with no one reading",
	142: "Signal raised by alarm",
	143: "Termination (request to terminate)",
}

// ExitCodeText returns a human-readable label for an exit code.
func ExitCodeText(code int) string {
	if text, ok := exitCodes[code]; ok {
		return text
	}
	return "Unknown error"
}

// resolveExitCode computes the final exit code from everything the engine
// learned about the child, in precedence order: the code obtained while
// reaping, then the last code seen during polling, then the sigchild
// fallback channel, then the 128+termsig convention for a signaled child.
func resolveExitCode(reaped int, lastKnown, fallback *int, signaled bool, termsig int) int {
	code := reaped
	if code == -1 && lastKnown != nil {
		code = *lastKnown
	}
	if code == -1 && fallback != nil {
		code = *fallback
	}
	if code == -1 && signaled && termsig > 0 {
		code = 128 + termsig
	}
	return code
}
