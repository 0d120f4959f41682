// Package dap models the DAP command surface the session manager (C8)
// exposes one method per operation for (spec.md §4.8, SPEC_FULL.md C8
// supplement). These are plain Go request/result struct pairs — there is
// no JSON-RPC framing here, since marshaling the Debug Adapter Protocol's
// own wire format is explicitly out of scope; an outer, uncovered layer is
// expected to marshal these to/from the real DAP transport.
package dap

// EvaluateContext distinguishes the three evaluate entry points spec.md
// §4.8 "Evaluate" describes.
type EvaluateContext string

const (
	EvaluateHover EvaluateContext = "hover"
	EvaluateRepl  EvaluateContext = "repl"
	EvaluateWatch EvaluateContext = "watch"
)

// SourceBreakpoint is one line/conditional breakpoint request against a
// single source file, as carried by a DAP setBreakpoints request.
type SourceBreakpoint struct {
	Line         int
	Condition    string
	HitCondition string
	LogMessage   string
}

// SetBreakpointsRequest is the setBreakpoints DAP request, addressed by
// client-side path (translated to a server file URI by the session
// manager via internal/pathmap before reaching C5).
type SetBreakpointsRequest struct {
	ConnID      int64
	SourcePath  string
	Breakpoints []SourceBreakpoint
}

// Breakpoint is one {id, verified, line, message} result tuple, returned
// for setBreakpoints/setFunctionBreakpoints and for asynchronous
// "breakpoint changed" events.
type Breakpoint struct {
	ID       int64
	Verified bool
	Line     int
	Message  string
}

// SetBreakpointsResult is the setBreakpoints DAP response body.
type SetBreakpointsResult struct {
	Breakpoints []Breakpoint
}

// SetExceptionBreakpointsRequest carries the raw exception class-name
// glob filters (spec.md §4.10).
type SetExceptionBreakpointsRequest struct {
	Filters []string
}

// FunctionBreakpoint is one UI-requested function/call breakpoint.
type FunctionBreakpoint struct {
	Name         string
	Condition    string
	HasCondition bool
	HitCondition string
}

// SetFunctionBreakpointsRequest is the setFunctionBreakpoints DAP request.
type SetFunctionBreakpointsRequest struct {
	Breakpoints []FunctionBreakpoint
}

// SetFunctionBreakpointsResult mirrors SetBreakpointsResult for function
// breakpoints (ids only; function breakpoints carry no line).
type SetFunctionBreakpointsResult struct {
	Breakpoints []Breakpoint
}

// Thread is one DAP thread — one per live DBGp connection (spec.md §4.8
// step 7 "Emit DAP 'thread started' with this connection id").
type Thread struct {
	ID   int64
	Name string
}

// ThreadsResult is the threads DAP response.
type ThreadsResult struct {
	Threads []Thread
}

// StackFrame is one DAP-addressable frame.
type StackFrame struct {
	ID         int64
	Name       string
	SourcePath string
	// SourceReference is non-empty for dbgp:-scheme virtual sources (spec.md
	// §4.8 "Sources"), in which case SourcePath is empty and the client must
	// resolve content via a Source request instead of opening SourcePath. It
	// is an opaque uuid token rather than a small int so it stays valid (and
	// collision-free) across the arena clears every resume triggers.
	SourceReference string
	Line            int
}

// StackTraceRequest is the stackTrace DAP request.
type StackTraceRequest struct {
	ConnID int64
}

// StackTraceResult is the stackTrace DAP response.
type StackTraceResult struct {
	Frames []StackFrame
}

// Scope is one DAP-addressable variable scope (a DBGp context).
type Scope struct {
	Name               string
	VariablesReference int64
}

// ScopesRequest is the scopes DAP request.
type ScopesRequest struct {
	FrameID int64
}

// ScopesResult is the scopes DAP response.
type ScopesResult struct {
	Scopes []Scope
}

// Variable is one DAP-addressable property.
type Variable struct {
	Name               string
	Value              string
	Type               string
	VariablesReference int64
}

// VariablesRequest is the variables DAP request.
type VariablesRequest struct {
	VariablesReference int64
	// Page selects a property_get page when the parent has more children
	// than max_children (spec.md §4.7).
	Page int
}

// VariablesResult is the variables DAP response.
type VariablesResult struct {
	Variables []Variable
}

// SetVariableRequest is the setVariable DAP request.
type SetVariableRequest struct {
	VariablesReference int64
	Name               string
	Value              string
}

// SetVariableResult is the setVariable DAP response.
type SetVariableResult struct {
	Value              string
	VariablesReference int64
}

// EvaluateRequest is the evaluate DAP request.
type EvaluateRequest struct {
	ConnID     int64
	FrameID    int64
	Expression string
	Context    EvaluateContext
}

// EvaluateResult is the evaluate DAP response.
type EvaluateResult struct {
	Result             string
	Type               string
	VariablesReference int64
}

// SourceRequest is the source DAP request, addressed by the opaque
// reference a StackFrame reported (spec.md §4.8 "Sources").
type SourceRequest struct {
	SourceReference string
}

// SourceResult is the source DAP response.
type SourceResult struct {
	Content string
}

// StoppedEvent is the DAP "stopped" event the session manager emits from
// its stop-state handler (spec.md §4.8 "Stop-state handler").
type StoppedEvent struct {
	ConnID            int64
	Reason            string
	Description       string
	AllThreadsStopped bool
}

// ThreadEvent is the DAP "thread" event (started/exited).
type ThreadEvent struct {
	ConnID  int64
	Started bool
}

// OutputEvent is the DAP "output" event, used both for forwarded engine
// stdout/stderr streams and for log-point expansions (spec.md §4.8, §4.9).
type OutputEvent struct {
	ConnID   int64
	Category string
	Output   string
}

// TerminatedEvent is the DAP "terminated" event, emitted once the session
// manager has fully torn a connection (or the whole adapter) down.
type TerminatedEvent struct {
	ConnID int64
}

// EventSink receives the asynchronous DAP events the session manager
// produces while bootstrapping connections and handling stops; an outer
// layer marshals these to the real DAP wire format.
type EventSink interface {
	Stopped(StoppedEvent)
	Thread(ThreadEvent)
	Output(OutputEvent)
	BreakpointChanged(Breakpoint)
	Terminated(TerminatedEvent)
}
