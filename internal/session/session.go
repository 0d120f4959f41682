// Package session implements the session manager (C8) of spec.md §4.8:
// it bootstraps inbound DBGp connections, drives each one's stop-state
// handling, dispatches the DAP operations of SPEC_FULL.md's C8 command
// surface against the right connection, and fans out asynchronous events
// through a dap.EventSink. The DAP transport itself (JSON-RPC framing) is
// out of scope; this package only implements the operations an outer
// layer would marshal to/from the wire.
package session

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/dbgpdap/adapter/internal/breakpoint"
	"github.com/dbgpdap/adapter/internal/config"
	"github.com/dbgpdap/adapter/internal/dap"
	"github.com/dbgpdap/adapter/internal/dbgp"
	"github.com/dbgpdap/adapter/internal/filter"
	"github.com/dbgpdap/adapter/internal/logpoint"
	"github.com/dbgpdap/adapter/internal/model"
	"github.com/dbgpdap/adapter/internal/pathmap"
	"github.com/dbgpdap/adapter/internal/xerr"
)

// Socket is the minimal transport Manager needs to bootstrap an inbound
// connection: a full-duplex byte stream that can be closed independently
// of the Manager's own lifetime.
type Socket interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// connState is everything the session manager tracks for one live DBGp
// connection (spec §4.8 "connections: Map<ConnectionId, Connection>").
type connState struct {
	id      int64
	conn    *dbgp.Connection
	adapter *breakpoint.Adapter
	log     *logrus.Entry

	mu                sync.Mutex
	stoppedOnEntry    bool
	currentlySkipping bool
	torn              bool
	virtualSources    map[string]string // uuid token -> dbgp: file URI

	release func() // releases the max_connections semaphore slot, once
}

// Manager is the session manager (C8). One Manager is constructed per
// adapter run and owns every inbound DBGp connection plus the one
// breakpoint manager (C5) and log-point store (C9) they share.
type Manager struct {
	cfg       *config.Config
	bpMgr     *breakpoint.Manager
	logpoints *logpoint.Store
	events    dap.EventSink
	log       *logrus.Entry
	launch    bool
	// launchUsed is set once launch mode has accepted its one expected
	// connection; every subsequent inbound socket is refused outright.
	launchUsed bool

	pathMapping      pathmap.Mapping
	ignorePaths      *filter.PathSet
	ignoreExceptions []string
	skipEntryPaths   *filter.PathSet
	skipFiles        *filter.PathSet

	sem *semaphore.Weighted // nil means unbounded (spec open question (a))

	arena *model.Arena // shared across connections; entries carry their own ConnID

	mu          sync.Mutex
	connections map[int64]*connState
	nextConnID  int64

	configDoneCh   chan struct{}
	configDoneOnce sync.Once
}

// Options configures a new Manager.
type Options struct {
	Config    *config.Config
	Breakpoints *breakpoint.Manager
	LogPoints *logpoint.Store
	Events    dap.EventSink
	Logger    *logrus.Logger
	// Launch distinguishes spawning the debuggee (exactly one connection
	// expected) from attach (wait indefinitely for connections) — spec
	// §4.8 supplement, inferred from the launch/attach configuration
	// language; the adapter never performs the spawn itself.
	Launch bool
}

// NewManager constructs a session manager from opts, compiling every
// glob-shaped configuration option once up front (spec §4.2/§4.10).
func NewManager(opts Options) (*Manager, error) {
	mapping := make(pathmap.Mapping, len(opts.Config.PathMappings))
	for i, e := range opts.Config.PathMappings {
		mapping[i] = pathmap.Entry{ServerURI: e.ServerURI, ClientPath: e.ClientPath}
	}

	ignorePaths, err := filter.CompilePaths(opts.Config.Ignore)
	if err != nil {
		return nil, err
	}
	skipEntryPaths, err := filter.CompilePaths(opts.Config.SkipEntryPaths)
	if err != nil {
		return nil, err
	}
	skipFiles, err := filter.CompilePaths(opts.Config.SkipFiles)
	if err != nil {
		return nil, err
	}

	var sem *semaphore.Weighted
	if opts.Config.MaxConnections > 0 {
		sem = semaphore.NewWeighted(int64(opts.Config.MaxConnections))
	}

	log := logrus.NewEntry(opts.Logger)

	return &Manager{
		cfg:              opts.Config,
		bpMgr:            opts.Breakpoints,
		logpoints:        opts.LogPoints,
		events:           opts.Events,
		log:              log,
		launch:           opts.Launch,
		pathMapping:      mapping,
		ignorePaths:      ignorePaths,
		ignoreExceptions: opts.Config.IgnoreExceptions,
		skipEntryPaths:   skipEntryPaths,
		skipFiles:        skipFiles,
		sem:              sem,
		arena:            model.NewArena(),
		connections:      make(map[int64]*connState),
		configDoneCh:     make(chan struct{}),
	}, nil
}

// ConfigurationDone signals the "configuration done" event connections
// bootstrapping wait on (spec §4.8 step 8); safe to call more than once,
// and safe to call before any connection has arrived.
func (m *Manager) ConfigurationDone() {
	m.configDoneOnce.Do(func() { close(m.configDoneCh) })
}

func (m *Manager) get(connID int64) (*connState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.connections[connID]
	if !ok {
		return nil, xerr.UnknownReference("connection", connID)
	}
	return cs, nil
}

// Threads lists one DAP thread per live connection (spec §4.8 step 7).
func (m *Manager) Threads() dap.ThreadsResult {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	threads := make([]dap.Thread, len(ids))
	for i, id := range ids {
		threads[i] = dap.Thread{ID: id, Name: fmt.Sprintf("connection %d", id)}
	}
	return dap.ThreadsResult{Threads: threads}
}

// AcceptConnection runs the full bootstrap sequence of spec §4.8 steps
// 1-10 against one freshly-accepted socket. It returns once the initial
// run/step_into has been dispatched through the stop-state handler; the
// connection then remains registered, driven by subsequent Continue/
// Next/StepIn/StepOut/Pause/Disconnect calls and by its own reader
// goroutine until it closes.
func (m *Manager) AcceptConnection(ctx context.Context, sock Socket) error {
	// Step 1: concurrent-connection cap.
	if m.sem != nil && !m.sem.TryAcquire(1) {
		sock.Close()
		return nil
	}

	// Launch mode expects exactly one connection (SPEC_FULL.md C8
	// supplement, the inferred launch/attach distinction); every
	// socket after the first is refused rather than bootstrapped.
	if m.launch {
		m.mu.Lock()
		alreadyUsed := m.launchUsed
		m.launchUsed = true
		m.mu.Unlock()
		if alreadyUsed {
			if m.sem != nil {
				m.sem.Release(1)
			}
			sock.Close()
			return nil
		}
	}
	released := false
	release := func() {
		if m.sem != nil && !released {
			released = true
			m.sem.Release(1)
		}
	}

	m.mu.Lock()
	m.nextConnID++
	id := m.nextConnID
	m.mu.Unlock()

	conn := dbgp.NewConnection(id, sock)
	cs := &connState{
		id:             id,
		conn:           conn,
		log:            m.log.WithField("connection_id", id),
		virtualSources: make(map[string]string),
		release:        release,
	}

	m.mu.Lock()
	m.connections[id] = cs
	m.mu.Unlock()

	go func() {
		if err := conn.Run(ctx); err != nil {
			cs.log.WithError(err).Warn("connection reader loop ended with an error")
		}
		m.teardown(cs)
	}()
	go m.pumpEvents(cs)

	// Step 3: await the init packet.
	pkt, err := conn.WaitInit(ctx)
	if err != nil {
		return err
	}

	// Step 4: skip-entry check.
	entryClientPath := pathmap.ToClient(pkt.FileURI, m.pathMapping)
	if !m.skipEntryPaths.Empty() && m.skipEntryPaths.Matches(entryClientPath) {
		cs.log.WithField("entry_path", entryClientPath).Info("skip_entry_paths matched; disposing of connection")
		conn.Close()
		return nil
	}

	// Step 4b: startup sanity check for inherited breakpoints (SPEC_FULL.md
	// C3 supplement) — a forked PHP worker under Xdebug can inherit an
	// already-open DBGp connection, which then reports breakpoints this
	// adapter never installed on it. Logged, not reconciled: full
	// reconciliation of inherited state is out of scope.
	if entries, err := conn.BreakpointList(ctx); err != nil {
		cs.log.WithError(err).Debug("breakpoint_list diagnostic failed")
	} else if len(entries) > 0 {
		cs.log.WithField("inherited_breakpoints", entries).Warn("connection reports breakpoints this adapter never installed")
	}

	// Step 5: feature negotiation.
	m.negotiateFeatures(ctx, cs, pkt.Engine.Version)

	// Step 6: engine stdout streaming.
	if m.cfg.Stream.Stdout != 0 {
		if err := conn.Stdout(ctx, dbgp.StdoutMode(m.cfg.Stream.Stdout)); err != nil {
			cs.log.WithError(err).Warn("stdout streaming request failed")
		}
	}

	// Step 7: thread started.
	m.events.Thread(dap.ThreadEvent{ConnID: id, Started: true})

	// Step 8: wait for configuration done.
	select {
	case <-m.configDoneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Step 9: construct the reconciler, subscribe, drain once.
	cs.adapter = breakpoint.NewAdapter(conn, m.bpMgr, cs.log, func(evt breakpoint.ChangedEvent) {
		m.events.BreakpointChanged(dap.Breakpoint{ID: evt.ID, Verified: evt.Verified, Line: evt.Line, Message: evt.Message})
	})
	cs.adapter.Process(ctx)

	// Step 10: run or step-to-entry, then the stop-state handler.
	m.arena.ClearConn(id)
	var status dbgp.StatusReply
	if m.cfg.StopOnEntry {
		status, err = conn.StepInto(ctx)
	} else {
		status, err = conn.Continue(ctx)
	}
	if err != nil {
		return err
	}
	return m.handleStop(ctx, cs, status)
}

// negotiateFeatures implements spec §4.8 step 5.
func (m *Manager) negotiateFeatures(ctx context.Context, cs *connState, versionString string) {
	ver, err := semver.NewVersion(versionString)
	if err != nil {
		cs.log.WithField("engine_version", versionString).Warn("unparseable engine version; assuming pre-3.0 feature set")
	}

	atLeast := func(constraintStr string) bool {
		if ver == nil {
			return false
		}
		c, err := semver.NewConstraint(constraintStr)
		if err != nil {
			return false
		}
		return c.Check(ver)
	}

	setOrProbe := func(name, value string, unconditional bool) {
		if unconditional {
			if _, err := cs.conn.FeatureSet(ctx, name, value); err != nil {
				cs.log.WithField("feature", name).WithError(err).Warn("feature_set failed")
			}
			return
		}
		supported, _, err := cs.conn.FeatureGet(ctx, name)
		if err != nil {
			cs.log.WithField("feature", name).WithError(err).Warn("feature_get failed")
			return
		}
		if supported {
			if _, err := cs.conn.FeatureSet(ctx, name, value); err != nil {
				cs.log.WithField("feature", name).WithError(err).Warn("feature_set failed")
			}
		}
	}

	modern := atLeast(">= 3.0.0")
	setOrProbe("resolved_breakpoints", "1", modern)
	setOrProbe("notify_ok", "1", modern)
	setOrProbe("extended_properties", "1", modern)

	if atLeast(">= 3.2.0") {
		setOrProbe("breakpoint_include_return_value", "1", true)
	}

	maxChildren := m.cfg.MaxChildren
	if maxChildren <= 0 {
		maxChildren = model.DefaultMaxChildren
	}
	setOrProbe("max_children", strconv.Itoa(maxChildren), true)

	for name, value := range m.cfg.XdebugSettings {
		setOrProbe(name, value, true)
	}
}

// pumpEvents forwards unsolicited notify/stream frames for cs until its
// connection closes (spec §6, §4.6 "Resolved notifications").
func (m *Manager) pumpEvents(cs *connState) {
	for ev := range cs.conn.Events() {
		if ev.Notify != nil {
			switch ev.Notify.Name {
			case "breakpoint_resolved":
				engineID, line, err := dbgp.DecodeBreakpointResolvedNotify(ev.Notify.Raw)
				if err != nil {
					cs.log.WithError(err).Warn("malformed breakpoint_resolved notify")
					continue
				}
				cs.adapter.OnNotifyBreakpointResolved(engineID, line)
			default:
				cs.log.WithField("notify", ev.Notify.Name).Debug("unhandled notify")
			}
		}
		if ev.Stream != nil {
			data, err := ev.Stream.Decoded()
			if err != nil {
				continue
			}
			category := "stdout"
			if ev.Stream.Type == "stderr" {
				category = "stderr"
			}
			m.events.Output(dap.OutputEvent{ConnID: cs.id, Category: category, Output: string(data)})
		}
	}
}

func isStepCommand(command string) bool {
	switch command {
	case "step_into", "step_over", "step_out":
		return true
	}
	return false
}

func reissueStep(ctx context.Context, conn *dbgp.Connection, command string) (dbgp.StatusReply, error) {
	switch command {
	case "step_over":
		return conn.StepOver(ctx)
	case "step_out":
		return conn.StepOut(ctx)
	default:
		return conn.StepInto(ctx)
	}
}

// handleStop implements spec §4.8's stop-state handler. It is written as
// an explicit loop rather than the source's recursive form, the same
// re-entrant-to-explicit-state-machine translation spec §9's Design Notes
// call for in C6.
func (m *Manager) handleStop(ctx context.Context, cs *connState, status dbgp.StatusReply) error {
	for {
		cs.adapter.Process(ctx)

		if status.Status != "break" {
			m.teardown(cs)
			return nil
		}

		if status.Exception != "" {
			clientPath := pathmap.ToClient(status.FileURI, m.pathMapping)
			ignored := !m.ignorePaths.Empty() && m.ignorePaths.Matches(clientPath)
			if !ignored && len(m.ignoreExceptions) > 0 {
				ok, err := filter.ShouldIgnoreException(status.Exception, m.ignoreExceptions)
				if err != nil {
					cs.log.WithError(err).Warn("ignore_exceptions pattern failed to compile")
				} else {
					ignored = ok
				}
			}
			if ignored {
				next, err := m.resume(ctx, cs, cs.conn.Continue)
				if err != nil {
					return err
				}
				status = next
				continue
			}
		}

		reason := "breakpoint"
		if m.cfg.StopOnEntry {
			cs.mu.Lock()
			if !cs.stoppedOnEntry {
				cs.stoppedOnEntry = true
				reason = "entry"
			}
			cs.mu.Unlock()
		}

		if isStepCommand(status.Command) {
			m.emitLogPointIfPresent(ctx, cs, status)

			clientPath := pathmap.ToClient(status.FileURI, m.pathMapping)
			if !m.skipFiles.Empty() && m.skipFiles.Matches(clientPath) {
				cs.mu.Lock()
				cs.currentlySkipping = true
				cs.mu.Unlock()
				next, err := m.resume(ctx, cs, func(ctx context.Context) (dbgp.StatusReply, error) {
					return reissueStep(ctx, cs.conn, status.Command)
				})
				cs.mu.Lock()
				cs.currentlySkipping = false
				cs.mu.Unlock()
				if err != nil {
					return err
				}
				status = next
				continue
			}

			stepReason := "step"
			if reason == "entry" {
				stepReason = "entry"
			}
			m.events.Stopped(dap.StoppedEvent{ConnID: cs.id, Reason: stepReason, AllThreadsStopped: false})
			return nil
		}

		if m.logpoints.Has(status.FileURI, status.Line) {
			msg, err := logpoint.Resolve(m.logpoints, status.FileURI, status.Line, m.evaluator(ctx, cs))
			if err != nil {
				cs.log.WithError(err).Warn("log point resolve failed")
			} else {
				m.events.Output(dap.OutputEvent{ConnID: cs.id, Category: "stdout", Output: msg})
			}
			next, err := m.resume(ctx, cs, cs.conn.Continue)
			if err != nil {
				return err
			}
			status = next
			continue
		}

		m.events.Stopped(dap.StoppedEvent{ConnID: cs.id, Reason: reason, AllThreadsStopped: false})
		return nil
	}
}

// emitLogPointIfPresent evaluates and emits a log point at a step stop
// without altering control flow (spec §4.8: "If the command was a step,
// evaluate any log-point at the current location").
func (m *Manager) emitLogPointIfPresent(ctx context.Context, cs *connState, status dbgp.StatusReply) {
	if !m.logpoints.Has(status.FileURI, status.Line) {
		return
	}
	msg, err := logpoint.Resolve(m.logpoints, status.FileURI, status.Line, m.evaluator(ctx, cs))
	if err != nil {
		cs.log.WithError(err).Warn("log point resolve failed")
		return
	}
	m.events.Output(dap.OutputEvent{ConnID: cs.id, Category: "stdout", Output: msg})
}

func (m *Manager) evaluator(ctx context.Context, cs *connState) logpoint.Evaluator {
	return func(expr string) (string, error) {
		reply, err := cs.conn.Eval(ctx, expr)
		if err != nil {
			return "", err
		}
		return reply.DecodedValue()
	}
}

// resume invalidates cs's arena entries (spec §9 "frame/variable ids from
// one stop are meaningless after the next continue/step") before issuing
// an execute command.
func (m *Manager) resume(ctx context.Context, cs *connState, issue func(context.Context) (dbgp.StatusReply, error)) (dbgp.StatusReply, error) {
	m.arena.ClearConn(cs.id)
	return issue(ctx)
}

// Continue implements the DAP "continue" operation.
func (m *Manager) Continue(ctx context.Context, connID int64) error {
	cs, err := m.get(connID)
	if err != nil {
		return err
	}
	status, err := m.resume(ctx, cs, cs.conn.Continue)
	if err != nil {
		return err
	}
	return m.handleStop(ctx, cs, status)
}

// Next implements the DAP "next" (step over) operation.
func (m *Manager) Next(ctx context.Context, connID int64) error {
	cs, err := m.get(connID)
	if err != nil {
		return err
	}
	status, err := m.resume(ctx, cs, cs.conn.StepOver)
	if err != nil {
		return err
	}
	return m.handleStop(ctx, cs, status)
}

// StepIn implements the DAP "stepIn" operation.
func (m *Manager) StepIn(ctx context.Context, connID int64) error {
	cs, err := m.get(connID)
	if err != nil {
		return err
	}
	status, err := m.resume(ctx, cs, cs.conn.StepInto)
	if err != nil {
		return err
	}
	return m.handleStop(ctx, cs, status)
}

// StepOut implements the DAP "stepOut" operation.
func (m *Manager) StepOut(ctx context.Context, connID int64) error {
	cs, err := m.get(connID)
	if err != nil {
		return err
	}
	status, err := m.resume(ctx, cs, cs.conn.StepOut)
	if err != nil {
		return err
	}
	return m.handleStop(ctx, cs, status)
}

// Pause implements the DAP "pause" operation. The engine has no pause
// command (spec §4.8): a pause arriving while a skip is in flight just
// clears the "currently skipping" latch and succeeds; otherwise it fails.
func (m *Manager) Pause(connID int64) error {
	cs, err := m.get(connID)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.currentlySkipping {
		cs.currentlySkipping = false
		return nil
	}
	return xerr.Unsupported("pause")
}

// Disconnect implements spec §4.8's disconnect sequence: race each
// connection's stop against a 500ms timer, then close it.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*connState, 0, len(m.connections))
	for _, cs := range m.connections {
		all = append(all, cs)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, cs := range all {
		wg.Add(1)
		go func(cs *connState) {
			defer wg.Done()
			stopCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
			defer cancel()
			done := make(chan struct{})
			go func() {
				cs.conn.Stop(stopCtx)
				close(done)
			}()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			cs.conn.Close()
		}(cs)
	}
	wg.Wait()
	return nil
}

// teardown unregisters cs, releases its connection-cap slot, invalidates
// its arena entries, and emits a DAP "terminated" event. Safe to call more
// than once (e.g. once from handleStop on a non-break status, once from the
// reader-loop exit).
func (m *Manager) teardown(cs *connState) {
	cs.mu.Lock()
	if cs.torn {
		cs.mu.Unlock()
		return
	}
	cs.torn = true
	cs.mu.Unlock()

	if cs.adapter != nil {
		cs.adapter.Close()
	}
	cs.release()
	m.arena.ClearConn(cs.id)

	m.mu.Lock()
	delete(m.connections, cs.id)
	m.mu.Unlock()

	m.events.Thread(dap.ThreadEvent{ConnID: cs.id, Started: false})
	m.events.Terminated(dap.TerminatedEvent{ConnID: cs.id})
}

// --- breakpoints ---

// parseHitCondition splits a DAP hitCondition expression ("5", ">= 5",
// "== 5", "%5") into the comparator and numeric value breakpoint.
// LineSpecInput/CallSpecInput expect. An unrecognized form is passed
// through as an invalid comparator rather than failing the whole request
// (spec §4.5, §8 scenario 2): SetLineBreakpoints reports it per-entry as
// unverified, SetFunctionBreakpoints drops the hit condition silently.
func parseHitCondition(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}
	for _, op := range []string{">=", "==", "%"} {
		if strings.HasPrefix(raw, op) {
			rest := strings.TrimSpace(strings.TrimPrefix(raw, op))
			if n, err := strconv.Atoi(rest); err == nil {
				return op, n
			}
		}
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return "==", n
	}
	return "invalid", 0
}

// SetBreakpoints implements the DAP "setBreakpoints" operation.
func (m *Manager) SetBreakpoints(ctx context.Context, req dap.SetBreakpointsRequest) dap.SetBreakpointsResult {
	fileURI := pathmap.ToServer(req.SourcePath, m.pathMapping)
	inputs := make([]breakpoint.LineSpecInput, len(req.Breakpoints))
	for i, b := range req.Breakpoints {
		in := breakpoint.LineSpecInput{Line: b.Line, Condition: b.Condition}
		if b.HitCondition != "" {
			op, val := parseHitCondition(b.HitCondition)
			in.HitConditionRaw = op
			in.HitValue = val
		}
		inputs[i] = in
		// A log point is still a real engine breakpoint (spec §8 scenario 4:
		// "On break, the adapter issues eval, emits output, then issues run");
		// the template is stored separately so handleStop can recognize it.
		m.logpoints.Set(fileURI, b.Line, b.LogMessage)
	}

	results := m.bpMgr.SetLineBreakpoints(req.SourcePath, fileURI, inputs)
	m.bpMgr.Process(ctx)

	out := make([]dap.Breakpoint, len(results))
	for i, r := range results {
		out[i] = dap.Breakpoint{ID: r.ID, Verified: r.Verified, Line: r.Line, Message: r.Message}
	}
	return dap.SetBreakpointsResult{Breakpoints: out}
}

// SetExceptionBreakpoints implements the DAP "setExceptionBreakpoints"
// operation. Verification happens asynchronously via the reconciler's
// ChangedEvent -> dap.EventSink.BreakpointChanged, exactly as for line
// breakpoints.
func (m *Manager) SetExceptionBreakpoints(ctx context.Context, req dap.SetExceptionBreakpointsRequest) []int64 {
	ids := m.bpMgr.SetExceptionBreakpoints(req.Filters)
	m.bpMgr.Process(ctx)
	return ids
}

// SetFunctionBreakpoints implements the DAP "setFunctionBreakpoints"
// operation.
func (m *Manager) SetFunctionBreakpoints(ctx context.Context, req dap.SetFunctionBreakpointsRequest) dap.SetFunctionBreakpointsResult {
	inputs := make([]breakpoint.CallSpecInput, len(req.Breakpoints))
	for i, b := range req.Breakpoints {
		in := breakpoint.CallSpecInput{FunctionName: b.Name, Condition: b.Condition, HasCondition: b.HasCondition}
		if b.HitCondition != "" {
			op, val := parseHitCondition(b.HitCondition)
			in.HitConditionRaw = op
			in.HitValue = val
		}
		inputs[i] = in
	}
	ids := m.bpMgr.SetFunctionBreakpoints(inputs)
	m.bpMgr.Process(ctx)

	out := make([]dap.Breakpoint, len(ids))
	for i, id := range ids {
		out[i] = dap.Breakpoint{ID: id}
	}
	return dap.SetFunctionBreakpointsResult{Breakpoints: out}
}

// --- stack / scopes / variables ---

func addPHPPrologIfMissing(content string) string {
	if strings.HasPrefix(strings.TrimSpace(content), "<?php") {
		return content
	}
	return "<?php\n" + content
}

// registerVirtualSource mints a collision-proof token for an engine-
// internal (dbgp:-scheme) source (spec §4.8 "Sources"), rather than a
// bare per-adapter counter, so the token stays meaningful across adapter
// restarts when it shows up in logs or traces.
func (cs *connState) registerVirtualSource(fileURI string) string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	token := uuid.NewString()
	cs.virtualSources[token] = fileURI
	return token
}

// StackTrace implements the DAP "stackTrace" operation.
func (m *Manager) StackTrace(ctx context.Context, req dap.StackTraceRequest) (dap.StackTraceResult, error) {
	cs, err := m.get(req.ConnID)
	if err != nil {
		return dap.StackTraceResult{}, err
	}
	frames, err := cs.conn.StackGet(ctx, -1)
	if err != nil {
		return dap.StackTraceResult{}, err
	}

	out := make([]dap.StackFrame, len(frames))
	for i, f := range frames {
		id := m.arena.Put(&model.Frame{ConnID: cs.id, Level: f.Level, Name: f.Where, FileURI: f.Filename, Line: f.Lineno})
		sf := dap.StackFrame{ID: id, Name: f.Where, Line: f.Lineno}
		if strings.HasPrefix(f.Filename, "dbgp:") {
			sf.SourceReference = cs.registerVirtualSource(f.Filename)
		} else {
			sf.SourcePath = pathmap.ToClient(f.Filename, m.pathMapping)
		}
		out[i] = sf
	}
	return dap.StackTraceResult{Frames: out}, nil
}

// Scopes implements the DAP "scopes" operation.
func (m *Manager) Scopes(ctx context.Context, req dap.ScopesRequest) (dap.ScopesResult, error) {
	frame, ok := m.arena.Frame(req.FrameID)
	if !ok {
		return dap.ScopesResult{}, xerr.UnknownReference("frame", req.FrameID)
	}
	cs, err := m.get(frame.ConnID)
	if err != nil {
		return dap.ScopesResult{}, err
	}
	contexts, err := cs.conn.ContextNames(ctx, frame.Level)
	if err != nil {
		return dap.ScopesResult{}, err
	}
	out := make([]dap.Scope, len(contexts))
	for i, c := range contexts {
		id := m.arena.Put(&model.Scope{ConnID: frame.ConnID, FrameID: req.FrameID, Level: frame.Level, ContextID: c.ID, Name: c.Name})
		out[i] = dap.Scope{Name: c.Name, VariablesReference: id}
	}
	return dap.ScopesResult{Scopes: out}, nil
}

func (m *Manager) variablesFromProps(connID int64, level, contextID int, props []dbgp.PropertyXML) dap.VariablesResult {
	out := make([]dap.Variable, len(props))
	for i, p := range props {
		val, err := p.DecodedValue()
		if err != nil {
			val = p.Value
		}
		var ref int64
		if p.NumChildren > 0 || p.Children {
			ref = m.arena.Put(&model.Variable{ConnID: connID, Level: level, ContextID: contextID, Property: p, Children: p.Nested})
		}
		out[i] = dap.Variable{Name: p.Name, Value: val, Type: p.Type, VariablesReference: ref}
	}
	return dap.VariablesResult{Variables: out}
}

// Variables implements the DAP "variables" operation, fetching children
// of either a top-level scope or a previously fetched Variable (spec
// §4.7's paginated property_get).
func (m *Manager) Variables(ctx context.Context, req dap.VariablesRequest) (dap.VariablesResult, error) {
	if scope, ok := m.arena.Scope(req.VariablesReference); ok {
		cs, err := m.get(scope.ConnID)
		if err != nil {
			return dap.VariablesResult{}, err
		}
		props, err := cs.conn.ContextGet(ctx, scope.Level, scope.ContextID)
		if err != nil {
			return dap.VariablesResult{}, err
		}
		return m.variablesFromProps(scope.ConnID, scope.Level, scope.ContextID, props), nil
	}
	if v, ok := m.arena.Variable(req.VariablesReference); ok {
		cs, err := m.get(v.ConnID)
		if err != nil {
			return dap.VariablesResult{}, err
		}
		prop, err := cs.conn.PropertyGet(ctx, v.Level, v.ContextID, v.Property.FullName, req.Page)
		if err != nil {
			return dap.VariablesResult{}, err
		}
		v.Children = prop.Nested
		v.Page = req.Page
		return m.variablesFromProps(v.ConnID, v.Level, v.ContextID, prop.Nested), nil
	}
	return dap.VariablesResult{}, xerr.UnknownReference("variable", req.VariablesReference)
}

// SetVariable implements the DAP "setVariable" operation: a top-level
// scope reference sets by the given name directly; a nested Variable
// reference resolves the target's full name by finding it among the
// already-fetched children (spec §4.7), without a network round trip.
func (m *Manager) SetVariable(ctx context.Context, req dap.SetVariableRequest) (dap.SetVariableResult, error) {
	if scope, ok := m.arena.Scope(req.VariablesReference); ok {
		cs, err := m.get(scope.ConnID)
		if err != nil {
			return dap.SetVariableResult{}, err
		}
		if err := cs.conn.PropertySet(ctx, scope.Level, scope.ContextID, req.Name, []byte(req.Value)); err != nil {
			return dap.SetVariableResult{}, err
		}
		return dap.SetVariableResult{Value: req.Value}, nil
	}
	if v, ok := m.arena.Variable(req.VariablesReference); ok {
		cs, err := m.get(v.ConnID)
		if err != nil {
			return dap.SetVariableResult{}, err
		}
		fullName := req.Name
		if child, found := v.FindChild(req.Name); found {
			fullName = child.FullName
		}
		if err := cs.conn.PropertySet(ctx, v.Level, v.ContextID, fullName, []byte(req.Value)); err != nil {
			return dap.SetVariableResult{}, err
		}
		return dap.SetVariableResult{Value: req.Value}, nil
	}
	return dap.SetVariableResult{}, xerr.UnknownReference("variable", req.VariablesReference)
}

// --- evaluate / source ---

// Evaluate implements the DAP "evaluate" operation's three contexts
// (spec §4.8 "Evaluate"): hover looks a name up directly via
// property_get; repl and watch both round-trip through eval, since the
// distinguishing globals-cache indirection the original uses is an
// engine-side caching optimization with no observable difference here.
func (m *Manager) Evaluate(ctx context.Context, req dap.EvaluateRequest) (dap.EvaluateResult, error) {
	cs, err := m.get(req.ConnID)
	if err != nil {
		return dap.EvaluateResult{}, err
	}

	if req.Context == dap.EvaluateHover {
		level := 0
		if frame, ok := m.arena.Frame(req.FrameID); ok {
			level = frame.Level
		}
		prop, err := cs.conn.PropertyGet(ctx, level, 0, req.Expression, 0)
		if err != nil {
			return dap.EvaluateResult{}, err
		}
		return m.evaluateResultFromProperty(cs.id, level, 0, prop), nil
	}

	reply, err := cs.conn.Eval(ctx, req.Expression)
	if err != nil {
		return dap.EvaluateResult{}, err
	}
	return m.evaluateResultFromProperty(cs.id, 0, 0, reply.PropertyXML), nil
}

func (m *Manager) evaluateResultFromProperty(connID int64, level, contextID int, p dbgp.PropertyXML) dap.EvaluateResult {
	val, err := p.DecodedValue()
	if err != nil {
		val = p.Value
	}
	var ref int64
	if p.NumChildren > 0 || p.Children {
		ref = m.arena.Put(&model.Variable{ConnID: connID, Level: level, ContextID: contextID, Property: p, Children: p.Nested})
	}
	return dap.EvaluateResult{Result: val, Type: p.Type, VariablesReference: ref}
}

// Source implements the DAP "source" operation for virtual (dbgp:-scheme)
// sources (spec §4.8 "Sources").
func (m *Manager) Source(ctx context.Context, connID int64, req dap.SourceRequest) (dap.SourceResult, error) {
	cs, err := m.get(connID)
	if err != nil {
		return dap.SourceResult{}, err
	}
	cs.mu.Lock()
	fileURI, ok := cs.virtualSources[req.SourceReference]
	cs.mu.Unlock()
	if !ok {
		return dap.SourceResult{}, xerr.UnknownReference("source", req.SourceReference)
	}
	content, err := cs.conn.Source(ctx, fileURI)
	if err != nil {
		return dap.SourceResult{}, err
	}
	return dap.SourceResult{Content: addPHPPrologIfMissing(content)}, nil
}
