package protocol

import (
	"fmt"

	"github.com/go-pantheon/fabrica-util/errors"
)

// Failure kinds surfaced to callers of the command façades.
var (
	// ErrTimeout is returned when no response arrives within the command timeout.
	ErrTimeout = errors.New("dbgp: command timed out")
	// ErrCancelled is returned when the caller's context ends while it waits.
	ErrCancelled = errors.New("dbgp: command cancelled")
	// ErrTerminated is returned for commands on a session that is shutting down.
	ErrTerminated = errors.New("dbgp: session terminated")
	// ErrTransport is returned when writing to or reading from the connection fails.
	ErrTransport = errors.New("dbgp: transport failure")
	// ErrHandshake is returned when the engine does not send a valid init packet.
	ErrHandshake = errors.New("dbgp: handshake failed")

	ErrUnknownPacket = errors.New("dbgp: unknown packet")
	ErrEmptyPacket   = errors.New("dbgp: empty packet")
)

// Error codes defined by the protocol.
const (
	CodeNone                 = 0
	CodeParse                = 1
	CodeDuplicateArgs        = 2
	CodeInvalidOptions       = 3
	CodeUnimplemented        = 4
	CodeCommandNotAvailable  = 5
	CodeCannotOpenFile       = 100
	CodeStreamRedirectFailed = 101
	CodeBreakpointNotSet     = 200
	CodeBreakpointType       = 201
	CodeInvalidBreakpoint    = 202
	CodeNoCodeOnLine         = 203
	CodeInvalidBreakState    = 204
	CodeNoSuchBreakpoint     = 205
	CodeEvaluation           = 206
	CodeInvalidExpression    = 207
	CodeCannotGetProperty    = 300
	CodeInvalidStackDepth    = 301
	CodeInvalidContext       = 302
	CodeEncodingUnsupported  = 900
	CodeInternal             = 998
	CodeUnknown              = 999
)

var codeText = map[int]string{
	CodeNone:                 "no error",
	CodeParse:                "parse error in command",
	CodeDuplicateArgs:        "duplicate arguments in command",
	CodeInvalidOptions:       "invalid options",
	CodeUnimplemented:        "unimplemented command",
	CodeCommandNotAvailable:  "command is not available",
	CodeCannotOpenFile:       "can not open file",
	CodeStreamRedirectFailed: "stream redirect failed",
	CodeBreakpointNotSet:     "breakpoint could not be set",
	CodeBreakpointType:       "breakpoint type not supported",
	CodeInvalidBreakpoint:    "invalid breakpoint",
	CodeNoCodeOnLine:         "no code on breakpoint line",
	CodeInvalidBreakState:    "invalid breakpoint state",
	CodeNoSuchBreakpoint:     "no such breakpoint",
	CodeEvaluation:           "error evaluating code",
	CodeInvalidExpression:    "invalid expression",
	CodeCannotGetProperty:    "can not get property",
	CodeInvalidStackDepth:    "stack depth invalid",
	CodeInvalidContext:       "context invalid",
	CodeEncodingUnsupported:  "encoding not supported",
	CodeInternal:             "internal exception in the debugger",
	CodeUnknown:              "unknown error",
}

// CodeText returns the protocol description of an error code.
func CodeText(code int) string {
	if s, ok := codeText[code]; ok {
		return s
	}

	return "unknown error code"
}

// ProtocolError is an error the engine reported inside a response.
type ProtocolError struct {
	Code          int
	Message       string
	Command       string
	TransactionID int
}

func (e *ProtocolError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = CodeText(e.Code)
	}

	return fmt.Sprintf("dbgp: %s (txid=%d) failed with code %d: %s", e.Command, e.TransactionID, e.Code, msg)
}
