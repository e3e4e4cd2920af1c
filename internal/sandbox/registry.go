package sandbox

import (
	"sync"

	"golang.org/x/crypto/ssh"
)

// registry is a thread-safe set of authenticated connections, keyed by a
// per-connection id, so Serve can close them all on shutdown.
type registry struct {
	mu    sync.Mutex
	conns map[string]*ssh.ServerConn
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*ssh.ServerConn)}
}

func (r *registry) add(id string, conn *ssh.ServerConn) {
	r.mu.Lock()
	r.conns[id] = conn
	r.mu.Unlock()
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// closeAll closes every registered connection. Their handleConn goroutines
// unregister them as they unwind.
func (r *registry) closeAll() {
	r.mu.Lock()
	conns := make([]*ssh.ServerConn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
