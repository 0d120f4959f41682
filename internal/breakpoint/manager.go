// Package breakpoint implements the breakpoint manager (C5) and the
// per-connection reconciler (C6) of spec §4.5/§4.6. The manager holds the
// authoritative UI-side breakpoint set; reconcilers apply its deltas against
// one DBGp connection each. Grounded on the teacher's engine/breakpoints.go,
// which tracks GDB breakpoints in a flat slice keyed by its own counter —
// generalized here into the three-map model the spec requires and wired to
// the typed dbgp.BreakpointSpec union from C4.
package breakpoint

import (
	"context"
	"sync"

	"github.com/dbgpdap/adapter/internal/dbgp"
)

// LineSpecInput is one UI-requested line/conditional breakpoint, as handed
// to SetLineBreakpoints.
type LineSpecInput struct {
	Line            int
	Condition       string // non-empty selects the Conditional variant
	HitConditionRaw string // "", or the bare comparator ">=", "==" or "%"; N is in HitValue
	HitValue        int
}

// LineResult is the {id, verified, line} tuple SetLineBreakpoints returns
// per input entry, in input order (spec §4.5).
type LineResult struct {
	ID       int64
	Verified bool
	Line     int
	Message  string
}

// CallSpecInput is one UI-requested function breakpoint.
type CallSpecInput struct {
	FunctionName    string
	Condition       string
	HasCondition    bool
	HitConditionRaw string
	HitValue        int
}

// Subscriber is what C6 (or any observer) implements to receive deltas from
// the manager (spec §4.5 "Eventing").
type Subscriber interface {
	OnAdd(added map[int64]dbgp.BreakpointSpec)
	OnRemove(removed []int64)
	// Process drains whatever deltas OnAdd/OnRemove have queued against the
	// subscriber's own connection (spec §4.5 "process() broadcasts a 'drain
	// queued deltas' signal to all subscribed adapters").
	Process(ctx context.Context)
}

// Manager holds the authoritative UI-side breakpoint set (spec §4.5). All
// methods are safe for concurrent use; the session manager is expected to be
// the sole mutator in practice, but the mutex makes that a liveness property
// rather than a correctness requirement.
type Manager struct {
	mu sync.Mutex

	nextID int64

	// lineBreakpoints is keyed by source (client file path) then by id.
	lineBreakpoints map[string]map[int64]dbgp.BreakpointSpec
	exceptionBps    map[int64]dbgp.BreakpointSpec
	callBps         map[int64]dbgp.BreakpointSpec

	subscribers map[Subscriber]struct{}
}

// NewManager constructs an empty breakpoint manager.
func NewManager() *Manager {
	return &Manager{
		lineBreakpoints: make(map[string]map[int64]dbgp.BreakpointSpec),
		exceptionBps:    make(map[int64]dbgp.BreakpointSpec),
		callBps:         make(map[int64]dbgp.BreakpointSpec),
		subscribers:     make(map[Subscriber]struct{}),
	}
}

func (m *Manager) allocID() int64 {
	m.nextID++
	return m.nextID
}

// Subscribe registers s and returns a snapshot of the current set (spec
// §4.6 "seeds itself with all()"). It takes m.mu itself and registers s and
// takes the snapshot under that one lock, so no add/remove interleaves
// between snapshot and registration.
func (m *Manager) Subscribe(s Subscriber) map[int64]dbgp.BreakpointSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[s] = struct{}{}
	return m.snapshotLocked()
}

// Unsubscribe removes s (spec §4.6 "Lifecycle: on connection close,
// unsubscribe from C5").
func (m *Manager) Unsubscribe(s Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, s)
}

// All returns a snapshot of every currently-known breakpoint (spec §4.5).
func (m *Manager) All() map[int64]dbgp.BreakpointSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() map[int64]dbgp.BreakpointSpec {
	out := make(map[int64]dbgp.BreakpointSpec)
	for _, bySource := range m.lineBreakpoints {
		for id, spec := range bySource {
			out[id] = spec
		}
	}
	for id, spec := range m.exceptionBps {
		out[id] = spec
	}
	for id, spec := range m.callBps {
		out[id] = spec
	}
	return out
}

func (m *Manager) broadcastAdd(added map[int64]dbgp.BreakpointSpec) {
	if len(added) == 0 {
		return
	}
	for s := range m.subscribers {
		s.OnAdd(added)
	}
}

func (m *Manager) broadcastRemove(removed []int64) {
	if len(removed) == 0 {
		return
	}
	for s := range m.subscribers {
		s.OnRemove(removed)
	}
}

// Process broadcasts a "drain your queue" signal to every subscribed
// reconciler, each running concurrently on the caller's goroutine group
// rather than blocking one on another's engine round trips.
func (m *Manager) Process(ctx context.Context) {
	m.mu.Lock()
	subs := make([]Subscriber, 0, len(m.subscribers))
	for s := range m.subscribers {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			s.Process(ctx)
		}(s)
	}
	wg.Wait()
}

// SetLineBreakpoints replaces the entire line-breakpoint set for source
// (spec §4.5). Hit-condition strings that fail to parse mark that entry
// unverified with a human-readable message, without rejecting the others;
// no breakpoint_set is ever issued for such an entry.
func (m *Manager) SetLineBreakpoints(source, fileURI string, inputs []LineSpecInput) []LineResult {
	m.mu.Lock()

	old := m.lineBreakpoints[source]
	removed := make([]int64, 0, len(old))
	for id := range old {
		removed = append(removed, id)
	}

	noSubscribers := len(m.subscribers) == 0

	fresh := make(map[int64]dbgp.BreakpointSpec, len(inputs))
	results := make([]LineResult, len(inputs))
	added := make(map[int64]dbgp.BreakpointSpec, len(inputs))

	for i, in := range inputs {
		id := m.allocID()
		var hitCond dbgp.HitCondition
		hasHit := false
		invalidMsg := ""
		if in.HitConditionRaw != "" {
			hc, ok := dbgp.ParseHitCondition(in.HitConditionRaw)
			if !ok {
				invalidMsg = "Invalid hit condition. Expected format: \">= N\", \"== N\" or \"%N\""
			} else {
				hitCond, hasHit = hc, true
			}
		}

		var spec dbgp.BreakpointSpec
		if in.Condition != "" {
			spec = dbgp.ConditionalBreakpoint{
				Expression: in.Condition, FileURI: fileURI, Line: in.Line,
				HitCondition: hitCond, HitValue: in.HitValue, HasHit: hasHit,
			}
		} else {
			spec = dbgp.LineBreakpoint{
				FileURI: fileURI, Line: in.Line,
				HitCondition: hitCond, HitValue: in.HitValue, HasHit: hasHit,
			}
		}

		results[i] = LineResult{ID: id, Line: in.Line, Message: invalidMsg}
		if invalidMsg != "" {
			// Never scheduled: not added to fresh/added, so no engine
			// command is ever issued for it.
			continue
		}
		fresh[id] = spec
		added[id] = spec
		// "verified is set to true immediately iff no adapter is currently
		// subscribed (so that nothing will verify it later)".
		results[i].Verified = noSubscribers
	}

	m.lineBreakpoints[source] = fresh
	m.broadcastAdd(added)
	m.broadcastRemove(removed)
	m.mu.Unlock()

	return results
}

// SetExceptionBreakpoints replaces the entire exception-breakpoint set
// atomically (spec §4.5).
func (m *Manager) SetExceptionBreakpoints(patterns []string) []int64 {
	m.mu.Lock()
	removed := make([]int64, 0, len(m.exceptionBps))
	for id := range m.exceptionBps {
		removed = append(removed, id)
	}
	fresh := make(map[int64]dbgp.BreakpointSpec, len(patterns))
	added := make(map[int64]dbgp.BreakpointSpec, len(patterns))
	ids := make([]int64, len(patterns))
	for i, p := range patterns {
		id := m.allocID()
		spec := dbgp.ExceptionBreakpoint{ClassNamePattern: p}
		fresh[id] = spec
		added[id] = spec
		ids[i] = id
	}
	m.exceptionBps = fresh
	m.broadcastAdd(added)
	m.broadcastRemove(removed)
	m.mu.Unlock()
	return ids
}

// SetFunctionBreakpoints replaces the entire call-breakpoint set atomically
// (spec §4.5).
func (m *Manager) SetFunctionBreakpoints(inputs []CallSpecInput) []int64 {
	m.mu.Lock()
	removed := make([]int64, 0, len(m.callBps))
	for id := range m.callBps {
		removed = append(removed, id)
	}
	fresh := make(map[int64]dbgp.BreakpointSpec, len(inputs))
	added := make(map[int64]dbgp.BreakpointSpec, len(inputs))
	ids := make([]int64, len(inputs))
	for i, in := range inputs {
		id := m.allocID()
		var hitCond dbgp.HitCondition
		hasHit := false
		if in.HitConditionRaw != "" {
			if hc, ok := dbgp.ParseHitCondition(in.HitConditionRaw); ok {
				hitCond, hasHit = hc, true
			}
		}
		spec := dbgp.CallBreakpoint{
			FunctionName: in.FunctionName, Condition: in.Condition, HasCondition: in.HasCondition,
			HitCondition: hitCond, HitValue: in.HitValue, HasHit: hasHit,
		}
		fresh[id] = spec
		added[id] = spec
		ids[i] = id
	}
	m.callBps = fresh
	m.broadcastAdd(added)
	m.broadcastRemove(removed)
	m.mu.Unlock()
	return ids
}
