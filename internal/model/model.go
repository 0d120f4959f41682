// Package model provides the typed, arena-indexed view over DBGp stack
// frames, scopes, and variables that spec §4.7 (C7) and §9's "Cyclic
// references" design note call for: entities referencing their parent
// (variable -> scope -> frame -> connection) are looked up by a stable
// numeric id from an arena rather than held by pointer, matching DAP's own
// id-addressed frameId/variablesReference contract.
package model

import (
	"sync"

	"github.com/dbgpdap/adapter/internal/dbgp"
)

// DefaultMaxChildren is the page size used when the configuration surface
// (spec §6 "max_children") leaves it unset.
const DefaultMaxChildren = 100

// Frame is one DAP-addressable stack frame (spec §4.7 "Scopes are fetched
// via context_names -d <level>").
type Frame struct {
	ConnID int64
	Level  int
	Name   string
	// FileURI is dbgp:-scheme for engine-internal (virtual) source frames
	// (spec §4.8 "Sources").
	FileURI string
	Line    int
}

// Scope is one DAP-addressable variable scope (a DBGp context).
type Scope struct {
	ConnID    int64
	FrameID   int64
	Level     int
	ContextID int
	Name      string
}

// Variable is one DAP-addressable property, with the most recently fetched
// page of children cached so SetVariable can resolve a child by name
// without a network round trip (spec §4.7: "finds the matching child by
// name within the parent's already-fetched children").
type Variable struct {
	ConnID    int64
	Level     int
	ContextID int
	Property  dbgp.PropertyXML
	Children  []dbgp.PropertyXML
	Page      int
}

// FindChild looks up a previously-fetched child by its short (not full)
// name.
func (v *Variable) FindChild(name string) (dbgp.PropertyXML, bool) {
	for _, c := range v.Children {
		if c.Name == name {
			return c, true
		}
	}
	return dbgp.PropertyXML{}, false
}

// PageCount returns how many property_get -p pages are needed to cover
// numChildren entries at the given page size (spec §4.7).
func PageCount(numChildren, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultMaxChildren
	}
	if numChildren <= 0 {
		return 0
	}
	return (numChildren + pageSize - 1) / pageSize
}

// Arena hands out stable numeric ids for frames/scopes/variables and looks
// them back up by id, so DAP requests (which carry only an id) never need
// an owning pointer chain. One Arena may be shared by several connections;
// ClearConn drops one connection's entries and Clear drops them all.
type Arena struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]any
}

// NewArena constructs an empty arena.
func NewArena() *Arena {
	return &Arena{entries: make(map[int64]any)}
}

// Put registers v and returns its new stable id.
func (a *Arena) Put(v any) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := a.nextID
	a.entries[id] = v
	return id
}

// Get looks up the value registered under id.
func (a *Arena) Get(id int64) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.entries[id]
	return v, ok
}

// Frame type-asserts Get(id) as *Frame.
func (a *Arena) Frame(id int64) (*Frame, bool) {
	v, ok := a.Get(id)
	if !ok {
		return nil, false
	}
	f, ok := v.(*Frame)
	return f, ok
}

// Scope type-asserts Get(id) as *Scope.
func (a *Arena) Scope(id int64) (*Scope, bool) {
	v, ok := a.Get(id)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Scope)
	return s, ok
}

// Variable type-asserts Get(id) as *Variable.
func (a *Arena) Variable(id int64) (*Variable, bool) {
	v, ok := a.Get(id)
	if !ok {
		return nil, false
	}
	vv, ok := v.(*Variable)
	return vv, ok
}

// Clear discards every entry of every connection, invalidating all
// previously issued ids and restarting the id counter.
func (a *Arena) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = make(map[int64]any)
	a.nextID = 0
}

// ClearConn discards only the entries belonging to connID, leaving other
// connections' frames/scopes/variables addressable. The arena is shared
// across every connection the session manager (C8) drives, so a resume on
// one connection must not invalidate ids another, still-stopped connection
// is relying on.
func (a *Arena) ClearConn(connID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, v := range a.entries {
		var owner int64
		switch e := v.(type) {
		case *Frame:
			owner = e.ConnID
		case *Scope:
			owner = e.ConnID
		case *Variable:
			owner = e.ConnID
		default:
			continue
		}
		if owner == connID {
			delete(a.entries, id)
		}
	}
}
