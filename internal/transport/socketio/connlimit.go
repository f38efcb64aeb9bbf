package socketio

import (
	"net"
	"net/netip"
	"sync"
)

// DefaultMaxRemoteClients bounds how many non-loopback UIs may drive the
// session at once.
const DefaultMaxRemoteClients = 4

// ClientLimiter caps concurrent remote controllers. Loopback clients (a
// kiosk display on the player itself) are never counted. When a remote
// client pushes the count over the limit, the longest connected remote
// client is evicted.
type ClientLimiter struct {
	mu        sync.Mutex
	maxRemote int
	remote    []string          // remote client IDs, oldest first
	clients   map[string]string // client ID -> address
}

// NewClientLimiter creates a limiter; maxRemote <= 0 means unlimited.
func NewClientLimiter(maxRemote int) *ClientLimiter {
	return &ClientLimiter{
		maxRemote: maxRemote,
		clients:   make(map[string]string),
	}
}

// Admit registers a client and returns the ID of a client that must be
// disconnected to make room, or "".
func (l *ClientLimiter) Admit(clientID, address string) (evicted string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.clients[clientID]; ok {
		return ""
	}
	l.clients[clientID] = address
	if isLoopback(address) {
		return ""
	}

	l.remote = append(l.remote, clientID)
	if l.maxRemote <= 0 || len(l.remote) <= l.maxRemote {
		return ""
	}

	evicted = l.remote[0]
	l.remote = l.remote[1:]
	delete(l.clients, evicted)
	return evicted
}

// Release forgets a disconnected client.
func (l *ClientLimiter) Release(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	address, ok := l.clients[clientID]
	if !ok {
		return
	}
	delete(l.clients, clientID)
	if isLoopback(address) {
		return
	}
	for i, id := range l.remote {
		if id == clientID {
			l.remote = append(l.remote[:i], l.remote[i+1:]...)
			break
		}
	}
}

// Remote returns the number of remote clients currently admitted.
func (l *ClientLimiter) Remote() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.remote)
}

// isLoopback accepts bare addresses and host:port pairs. Unparseable
// addresses count as remote.
func isLoopback(address string) bool {
	if host, _, err := net.SplitHostPort(address); err == nil {
		address = host
	}
	ip, err := netip.ParseAddr(address)
	if err != nil {
		return false
	}
	return ip.Unmap().IsLoopback()
}
