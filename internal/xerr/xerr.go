// Package xerr implements the adapter's error taxonomy (spec §7) on top of
// xgxerror instead of bare error strings or a hand-rolled struct — contrast
// the teacher's engineBreakpointError and tmc-dbgp's dbgpError, both ad hoc.
package xerr

import (
	"errors"

	xgxerror "github.com/xgx-io/xgx-error"
)

// Taxonomy codes. These classify every error the adapter raises; callers
// branch on them with CodeOf rather than type-asserting concrete types.
const (
	CodeTransport           xgxerror.Code = "transport"
	CodeMalformedFrame      xgxerror.Code = "malformed_frame"
	CodeParseError          xgxerror.Code = "parse_error"
	CodeEngineError         xgxerror.Code = "engine_error"
	CodeConnectionClosed    xgxerror.Code = "connection_closed"
	CodeInvalidHitCondition xgxerror.Code = "invalid_hit_condition"
	CodeUnknownReference    xgxerror.Code = "unknown_reference"
	CodeNoSuchLogPoint      xgxerror.Code = "no_such_log_point"
	CodeUnsupported         xgxerror.Code = "unsupported_operation"
)

// Transport wraps a transport-level (socket/TLS) failure.
func Transport(cause error) xgxerror.Error {
	return xgxerror.Internal(cause).Code(CodeTransport)
}

// MalformedFrame reports a frame whose length prefix is not an ASCII decimal
// integer or whose body is not followed by the terminating NUL.
func MalformedFrame(msg string) xgxerror.Error {
	return xgxerror.New(msg).Code(CodeMalformedFrame)
}

// ParseErr reports a frame body that failed to parse as well-formed XML.
func ParseErr(cause error) xgxerror.Error {
	return xgxerror.Internal(cause).Code(CodeParseError)
}

// EngineErrorInfo carries a DBGp <error code="N"><message>…</message></error> reply.
type EngineErrorInfo struct {
	Code    int
	Message string
	Command string
}

// Engine wraps an EngineErrorInfo as a classified xgxerror.
func Engine(info EngineErrorInfo) xgxerror.Error {
	return xgxerror.New(info.Message).
		Code(CodeEngineError).
		With("engine_code", info.Code).
		With("command", info.Command)
}

// ConnectionClosed reports that pending awaiters must fail because the
// underlying socket closed.
func ConnectionClosed(connID int64) xgxerror.Error {
	return xgxerror.New("connection closed").
		Code(CodeConnectionClosed).
		With("connection_id", connID)
}

// InvalidHitCondition reports a hit-condition string that failed to parse at
// breakpoint-accept time (spec §4.5, §8 scenario 2).
func InvalidHitCondition(raw string) xgxerror.Error {
	return xgxerror.New("Invalid hit condition. Expected format: \">= N\", \"== N\" or \"%N\"").
		Code(CodeInvalidHitCondition).
		With("raw", raw)
}

// UnknownReference reports a DAP request naming a stale frame/variable/
// source id. ref is typically an int64 arena id or a string source token.
func UnknownReference(kind string, ref any) xgxerror.Error {
	return xgxerror.New("unknown reference").
		Code(CodeUnknownReference).
		With("kind", kind).
		With("ref", ref)
}

// Unsupported reports a DAP operation the engine has no equivalent for
// (spec §4.8 "pause is unsupported by the engine").
func Unsupported(op string) xgxerror.Error {
	return xgxerror.New(op + " is not supported").
		Code(CodeUnsupported).
		With("operation", op)
}

// NoSuchLogPoint reports that resolve was queried for a (file, line) with no
// stored log-point template (spec §4.9).
func NoSuchLogPoint(fileURI string, line int) xgxerror.Error {
	return xgxerror.New("no log point at this location").
		Code(CodeNoSuchLogPoint).
		With("file_uri", fileURI).
		With("line", line)
}

// CodeOf extracts the taxonomy code from err, walking the Unwrap chain. It
// returns "" if err does not carry one of ours.
func CodeOf(err error) xgxerror.Code {
	var xe xgxerror.Error
	if errors.As(err, &xe) {
		return xe.CodeVal()
	}
	return ""
}

// Is reports whether err (or a wrapped cause) carries code.
func Is(err error, code xgxerror.Code) bool {
	return CodeOf(err) == code
}
