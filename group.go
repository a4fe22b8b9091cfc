package rpma

import "sync"

// ConnectionGroup is an ordered, deduplicated set of connections that can be
// addressed together via Dispatcher.GroupEnqueue (spec.md §3
// ConnectionGroup, §4.7). Add and Remove are idempotent.
type ConnectionGroup struct {
	mu      sync.Mutex
	order   []*Connection
	members map[*Connection]struct{}
}

// NewConnectionGroup creates an empty group.
func NewConnectionGroup() *ConnectionGroup {
	return &ConnectionGroup{members: make(map[*Connection]struct{})}
}

// Add inserts conn into the group if not already present, preserving
// insertion order for GroupEnqueue's fan-out.
func (g *ConnectionGroup) Add(conn *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.members[conn]; ok {
		return
	}
	g.members[conn] = struct{}{}
	g.order = append(g.order, conn)
}

// Remove deletes conn from the group if present. A no-op otherwise.
func (g *ConnectionGroup) Remove(conn *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.members[conn]; !ok {
		return
	}
	delete(g.members, conn)
	for i, c := range g.order {
		if c == conn {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of connections currently in the group.
func (g *ConnectionGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}

// Snapshot returns a copy of the group's members in insertion order, safe to
// range over without holding the group's lock.
func (g *ConnectionGroup) Snapshot() []*Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Connection, len(g.order))
	copy(out, g.order)
	return out
}
