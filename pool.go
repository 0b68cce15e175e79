package h2mux

import "sync"

// ConnPool keeps idle, reusable connections per origin so a new request can
// pick up an already-negotiated connection instead of dialing (§4.I,
// component I). Each origin gets its own lock-free idleStack; the map
// itself is guarded by a plain mutex since origins come and go far less
// often than connections are checked in and out.
type ConnPool struct {
	mu      sync.Mutex
	origins map[string]*idleStack
}

func NewConnPool() *ConnPool {
	return &ConnPool{origins: make(map[string]*idleStack)}
}

func (p *ConnPool) stackFor(origin string) *idleStack {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.origins[origin]
	if !ok {
		s = newIdleStack()
		p.origins[origin] = s
	}
	return s
}

// Get returns the most recently idled live connection for origin, if any.
// Callers must still check Err()/Done() before reuse in case the
// connection died while idle.
func (p *ConnPool) Get(origin string) (*Connection, bool) {
	stack := p.stackFor(origin)
	for {
		c, ok := stack.pop()
		if !ok {
			return nil, false
		}
		conn := c.(*Connection)
		select {
		case <-conn.closed:
			continue // dead while idle, discard and keep popping
		default:
			stack.unregister(conn)
			return conn, true
		}
	}
}

// Put parks conn as idle and available for reuse under origin. The
// connection must not be mid-request: the caller is responsible for only
// returning fully-idle connections (no open streams) to the pool.
func (p *ConnPool) Put(origin string, conn *Connection) {
	select {
	case <-conn.closed:
		return
	default:
	}
	stack := p.stackFor(origin)
	if *conn.idleSlot() < 0 {
		stack.register(conn)
	}
	stack.push(conn)
}

// Remove evicts conn from origin's idle stack, e.g. right before claiming it
// for a new request so a concurrent Get can't also claim it.
func (p *ConnPool) Remove(origin string, conn *Connection) {
	stack := p.stackFor(origin)
	if *conn.idleSlot() >= 0 {
		stack.unregister(conn)
	}
}
