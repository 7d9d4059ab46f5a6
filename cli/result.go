package cli

// Result is the outcome code a command handler returns to the interpreter.
type Result int

const (
	// ResultOK indicates the command completed successfully.
	ResultOK Result = iota
	// ResultFailure indicates the command failed for an unspecified reason.
	ResultFailure
	// ResultInvalidArgs indicates the argument list was rejected.
	ResultInvalidArgs
	// ResultNotFound indicates the command or addressed object is unknown.
	ResultNotFound
	// ResultNotImplemented indicates the command is recognized but not
	// available on this platform.
	ResultNotImplemented
	// ResultResponseTimeout indicates the co-processor did not answer in
	// time.
	ResultResponseTimeout
)

// String returns string representation of the result code.
func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultFailure:
		return "Failure"
	case ResultInvalidArgs:
		return "InvalidArgs"
	case ResultNotFound:
		return "NotFound"
	case ResultNotImplemented:
		return "NotImplemented"
	case ResultResponseTimeout:
		return "ResponseTimeout"
	default:
		return "Unknown"
	}
}
