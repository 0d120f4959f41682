package breakpoint

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dbgpdap/adapter/internal/dbgp"
)

// status is one record's place in the reconciliation lifecycle (spec §4.6).
type status int

const (
	StatusToAdd status = iota
	StatusToRemove
	StatusClean
)

type record struct {
	spec     dbgp.BreakpointSpec
	engineID string
	status   status
}

// ChangedEvent is the DAP "breakpoint changed" notification C6 emits after
// reconciling one id (spec §4.6 step 5, and "Resolved notifications").
type ChangedEvent struct {
	ID       int64
	Verified bool
	Line     int
	HasLine  bool
	Message  string
}

// opKind distinguishes the two pure mutation thunks queued from manager
// deltas (spec §4.6 "a FIFO op_queue of pure mutations").
type opKind int

const (
	opAdd opKind = iota
	opRemove
)

type op struct {
	kind    opKind
	added   map[int64]dbgp.BreakpointSpec
	removed []int64
}

// Adapter is the per-connection breakpoint reconciler (C6). One instance is
// constructed per DBGp connection; it subscribes to a Manager and drives
// that connection's breakpoint_set/remove/get traffic to match the
// manager's current set.
type Adapter struct {
	conn    *dbgp.Connection
	manager *Manager
	log     *logrus.Entry
	onEvent func(ChangedEvent)

	mu      sync.Mutex
	order   []int64
	records map[int64]*record
	queue   []op

	processing bool
	dirty      bool
}

// NewAdapter constructs a C6 reconciler for conn, subscribes it to mgr, and
// seeds it with the manager's current snapshot (spec §4.6: "Subscribes to
// C5 on construction and seeds itself with all()").
func NewAdapter(conn *dbgp.Connection, mgr *Manager, log *logrus.Entry, onEvent func(ChangedEvent)) *Adapter {
	a := &Adapter{
		conn:    conn,
		manager: mgr,
		log:     log,
		onEvent: onEvent,
		records: make(map[int64]*record),
	}
	snapshot := mgr.Subscribe(a)
	for id, spec := range snapshot {
		a.order = append(a.order, id)
		a.records[id] = &record{spec: spec, status: StatusToAdd}
	}
	return a
}

// Close unsubscribes from the manager (spec §4.6 "Lifecycle: on connection
// close, unsubscribe from C5; all in-flight awaiters are cancelled" — the
// cancellation itself happens when the owning dbgp.Connection closes).
func (a *Adapter) Close() {
	a.manager.Unsubscribe(a)
}

// OnAdd implements Subscriber.
func (a *Adapter) OnAdd(added map[int64]dbgp.BreakpointSpec) {
	if len(added) == 0 {
		return
	}
	a.mu.Lock()
	a.queue = append(a.queue, op{kind: opAdd, added: added})
	a.mu.Unlock()
}

// OnRemove implements Subscriber.
func (a *Adapter) OnRemove(removed []int64) {
	if len(removed) == 0 {
		return
	}
	a.mu.Lock()
	a.queue = append(a.queue, op{kind: opRemove, removed: removed})
	a.mu.Unlock()
}

// drainQueue folds every queued op into the record table (spec §4.6 step 2).
// A remove for an id that was never added (still ToAdd, or absent) is
// satisfied purely by table deletion — no network operation.
func (a *Adapter) drainQueue() {
	a.mu.Lock()
	queue := a.queue
	a.queue = nil
	a.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, o := range queue {
		switch o.kind {
		case opAdd:
			for id, spec := range o.added {
				if _, exists := a.records[id]; !exists {
					a.order = append(a.order, id)
				}
				a.records[id] = &record{spec: spec, status: StatusToAdd}
			}
		case opRemove:
			for _, id := range o.removed {
				if r, ok := a.records[id]; ok {
					if r.status == StatusClean {
						r.status = StatusToRemove
					} else {
						// Never successfully added (or already queued to
						// add): delete outright, no breakpoint_remove needed.
						delete(a.records, id)
					}
				}
			}
		}
	}
}

// Process runs the reconciliation algorithm (spec §4.6). It is safe to call
// concurrently and re-entrantly: a call arriving while another is already
// draining just marks the in-flight run dirty so it loops once more before
// returning, rather than running two reconciliations over the same table.
func (a *Adapter) Process(ctx context.Context) {
	a.mu.Lock()
	if a.processing {
		a.dirty = true
		a.mu.Unlock()
		return
	}
	a.processing = true
	a.mu.Unlock()

	for {
		a.drainQueue()

		if a.conn.IsPendingExecuteCommand() {
			break
		}

		a.reconcileRemoves(ctx)
		a.reconcileAdds(ctx)

		a.mu.Lock()
		if !a.dirty && len(a.queue) == 0 {
			a.processing = false
			a.mu.Unlock()
			return
		}
		a.dirty = false
		a.mu.Unlock()
	}

	a.mu.Lock()
	a.processing = false
	a.mu.Unlock()
}

// toRemoveIDs and toAddIDs snapshot the ids currently due for network work,
// under the table lock, so the actual engine I/O in reconcileRemoves/
// reconcileAdds never runs while holding a.mu (it would otherwise block
// OnNotifyBreakpointResolved and OnAdd/OnRemove for the round trip).
func (a *Adapter) toRemoveIDs() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []int64
	for _, id := range a.order {
		if r, ok := a.records[id]; ok && r.status == StatusToRemove {
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *Adapter) toAddIDs() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []int64
	for _, id := range a.order {
		if r, ok := a.records[id]; ok && r.status == StatusToAdd {
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *Adapter) reconcileRemoves(ctx context.Context) {
	for _, id := range a.toRemoveIDs() {
		a.mu.Lock()
		r, ok := a.records[id]
		a.mu.Unlock()
		if !ok {
			continue
		}
		if r.engineID != "" {
			if err := a.conn.BreakpointRemove(ctx, r.engineID); err != nil {
				a.log.WithField("breakpoint_id", id).WithError(err).Warn("breakpoint_remove failed")
			}
		}
		a.mu.Lock()
		delete(a.records, id)
		a.compactOrderLocked()
		a.mu.Unlock()
	}
}

func (a *Adapter) reconcileAdds(ctx context.Context) {
	for _, id := range a.toAddIDs() {
		a.mu.Lock()
		r, ok := a.records[id]
		a.mu.Unlock()
		if !ok {
			continue
		}

		reply, err := a.conn.BreakpointSet(ctx, r.spec)
		if err != nil {
			a.mu.Lock()
			r.status = StatusClean
			a.mu.Unlock()
			if a.onEvent != nil {
				a.onEvent(ChangedEvent{ID: id, Verified: false, Message: err.Error()})
			}
			continue
		}

		verified := reply.Resolved
		a.mu.Lock()
		r.engineID = reply.EngineID
		r.status = StatusClean
		a.mu.Unlock()

		evt := ChangedEvent{ID: id, Verified: verified}
		if verified {
			switch r.spec.(type) {
			case dbgp.LineBreakpoint, dbgp.ConditionalBreakpoint:
				a.refreshLine(ctx, id, reply.EngineID, &evt)
			}
		}
		if a.onEvent != nil {
			a.onEvent(evt)
		}
	}
}

func (a *Adapter) refreshLine(ctx context.Context, id int64, engineID string, evt *ChangedEvent) {
	got, err := a.conn.BreakpointGet(ctx, engineID)
	if err != nil {
		a.log.WithField("breakpoint_id", id).WithError(err).Warn("breakpoint_get failed")
		return
	}
	evt.Line = got.Line
	evt.HasLine = true
}

// compactOrderLocked drops ids from the order slice that no longer have a
// record. Callers must hold a.mu.
func (a *Adapter) compactOrderLocked() {
	out := a.order[:0]
	for _, id := range a.order {
		if _, ok := a.records[id]; ok {
			out = append(out, id)
		}
	}
	a.order = out
}

// OnNotifyBreakpointResolved handles an unsolicited notify_breakpoint_resolved
// frame (spec §4.6 "Resolved notifications"): engineID is the notify's
// referenced engine breakpoint id, line its reported line.
func (a *Adapter) OnNotifyBreakpointResolved(engineID string, line int) {
	a.mu.Lock()
	var id int64
	found := false
	for candidate, r := range a.records {
		if r.engineID == engineID {
			id, found = candidate, true
			break
		}
	}
	a.mu.Unlock()
	if found && a.onEvent != nil {
		a.onEvent(ChangedEvent{ID: id, Verified: true, Line: line, HasLine: true})
	}
}
