package capability

import (
	"sort"
	"sync"
	"time"
)

// Registry tracks every capability server announced within one client's
// scope and enforces the connection state machine. It holds at most one
// entry per server name.
//
// The registry is a pure state container: transition attempts report
// whether they were legal and the client decides what to log or emit.
// Entries are never resurrected — a server removed while its handshake
// was in flight stays gone until it announces again.
//
// Thread safety: all methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*serverEntry
}

// serverEntry is the registry's record of one announced server.
type serverEntry struct {
	id           string
	name         string
	description  string
	state        ServerState
	tools        []Tool
	discoveredAt time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{servers: make(map[string]*serverEntry)}
}

// Discover records a presence announcement. It returns true when the
// announcement opens a new handshake attempt: the name was unknown, or a
// previous attempt had failed. Announcements for servers already
// connecting or connected are idempotent and return false.
func (r *Registry) Discover(id, name, description string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.servers[name]; ok {
		switch entry.state {
		case StateConnecting, StateConnected:
			return false
		default:
			// Failed earlier; this announcement is the retry. The id may
			// have changed if the server restarted.
			entry.id = id
			entry.description = description
			entry.state = StateConnecting
			entry.tools = nil
			return true
		}
	}

	r.servers[name] = &serverEntry{
		id:           id,
		name:         name,
		description:  description,
		state:        StateConnecting,
		discoveredAt: time.Now().UTC(),
	}
	return true
}

// MarkConnected moves a server from connecting to connected. It returns
// false when the transition is not legal, including the case where the
// server was removed mid-handshake.
func (r *Registry) MarkConnected(name string) bool {
	return r.transition(name, StateConnected)
}

// MarkFailed moves a server from connecting to failed, making it eligible
// for retry on its next announcement. Returns false when the transition
// is not legal.
func (r *Registry) MarkFailed(name string) bool {
	return r.transition(name, StateFailed)
}

// transition applies a handshake outcome. Only connecting servers settle;
// anything else is a stale handshake reporting against an entry that
// moved on, and is ignored.
func (r *Registry) transition(name string, to ServerState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.servers[name]
	if !ok || entry.state != StateConnecting {
		return false
	}
	entry.state = to
	return true
}

// Remove deletes a server in any state. Returns false when the name was
// not present, which makes disconnect-before-connect orderings no-ops.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.servers[name]; !ok {
		return false
	}
	delete(r.servers, name)
	return true
}

// State reports the current state of a server. Names the registry has
// never seen report StateUnknown.
func (r *Registry) State(name string) ServerState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.servers[name]; ok {
		return entry.state
	}
	return StateUnknown
}

// connectedEndpoint returns the announced server id when the server is
// currently connected. ok is false in every other state, including
// unknown names; callers use this as the fail-fast gate for list and
// call operations.
func (r *Registry) connectedEndpoint(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.servers[name]
	if !ok || entry.state != StateConnected {
		return "", false
	}
	return entry.id, true
}

// UpdateTools caches the most recent advertised tool list for a server.
// ServerInfo reports its length; the catalog holds the tools themselves.
func (r *Registry) UpdateTools(name string, tools []Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.servers[name]; ok {
		entry.tools = tools
	}
}

// ConnectedNames returns the names of all connected servers in sorted
// order. Catalog rebuilds iterate this list, so duplicate tool names
// across servers resolve the same way every build.
func (r *Registry) ConnectedNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.servers))
	for name, entry := range r.servers {
		if entry.state == StateConnected {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Snapshot returns every entry ordered by name.
func (r *Registry) Snapshot() []ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ServerInfo, 0, len(r.servers))
	for _, entry := range r.servers {
		infos = append(infos, ServerInfo{
			ID:           entry.id,
			Name:         entry.name,
			Description:  entry.description,
			State:        entry.state,
			ToolCount:    len(entry.tools),
			DiscoveredAt: entry.discoveredAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Len reports the number of known servers in any state.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}
