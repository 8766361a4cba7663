package registry

import (
	"errors"
	"sync"

	"github.com/averlane/parley/internal/identity"
	"github.com/google/uuid"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("connection not found")
)

const sinkBuffer = 64

// Handle identifies one live connection.
type Handle string

// Sink is the message-sink capability handed back on Register. The
// transport drains Out until Done is closed; delivery never blocks.
type Sink struct {
	ch   chan []byte
	done chan struct{}
}

func newSink() *Sink {
	return &Sink{
		ch:   make(chan []byte, sinkBuffer),
		done: make(chan struct{}),
	}
}

// Deliver queues a payload without blocking. It reports false when the
// connection is gone or its buffer is full; the payload is dropped in
// either case.
func (s *Sink) Deliver(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- payload:
		return true
	default:
		return false
	}
}

func (s *Sink) Out() <-chan []byte { return s.ch }

func (s *Sink) Done() <-chan struct{} { return s.done }

type Connection struct {
	Handle   Handle
	Identity identity.Identity
	Sink     *Sink
}

// Registry tracks live connections and their bound identity. All
// mutations complete without external I/O; a handle registered before a
// routing decision starts is visible to that decision.
type Registry struct {
	mu     sync.RWMutex
	conns  map[Handle]Connection
	groups *Groups
	idGen  func() Handle
}

func New(groups *Groups) *Registry {
	return &Registry{
		conns:  make(map[Handle]Connection),
		groups: groups,
		idGen: func() Handle {
			return Handle(uuid.NewString())
		},
	}
}

func (r *Registry) Register(id identity.Identity) (Handle, *Sink, error) {
	if id.IsZero() {
		return "", nil, ErrUnauthenticated
	}

	handle := r.idGen()
	sink := newSink()

	r.mu.Lock()
	r.conns[handle] = Connection{Handle: handle, Identity: id, Sink: sink}
	r.mu.Unlock()

	return handle, sink, nil
}

// Unregister removes the handle and its group memberships. Idempotent;
// the handle is out of every roster before Unregister returns. The sink
// stays safe to Deliver to afterwards, deliveries simply no-op.
func (r *Registry) Unregister(handle Handle) {
	r.mu.Lock()
	conn, ok := r.conns[handle]
	if ok {
		delete(r.conns, handle)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if r.groups != nil {
		r.groups.dropAll(handle)
	}
	close(conn.Sink.done)
}

func (r *Registry) Lookup(handle Handle) (identity.Identity, error) {
	r.mu.RLock()
	conn, ok := r.conns[handle]
	r.mu.RUnlock()
	if !ok {
		return identity.Identity{}, ErrNotFound
	}
	return conn.Identity, nil
}

// Connections returns a snapshot of every live connection.
func (r *Registry) Connections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

func (r *Registry) IsOnline(email string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range r.conns {
		if conn.Identity.Email == email {
			return true
		}
	}
	return false
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
