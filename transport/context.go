package transport

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Context owns every socket created for one process. Terminating it closes them all.
type Context struct {
	pid        int
	nextID     atomic.Uint64
	sockets    *xsync.MapOf[uint64, *Socket]
	terminated atomic.Bool

	opened atomic.Int64
	closed atomic.Int64
}

// Stats counts sockets over the lifetime of a Context.
type Stats struct {
	Opened int64
	Closed int64
}

func newContext(pid int) *Context {
	return &Context{
		pid:     pid,
		sockets: xsync.NewMapOf[uint64, *Socket](),
	}
}

// NewContext creates a standalone Context bound to the current process.
// Most callers want Registry.Context instead.
func NewContext() *Context {
	return newContext(os.Getpid())
}

// PID is the process the Context was created for.
func (c *Context) PID() int {
	return c.pid
}

// NewSocket creates an unconnected request socket.
func (c *Context) NewSocket() (*Socket, error) {
	if c.terminated.Load() {
		return nil, ErrTerminated
	}
	s := newSocket(c, c.nextID.Add(1))
	c.sockets.Store(s.id, s)
	c.opened.Add(1)

	// Term may have run between the check and the Store.
	if c.terminated.Load() {
		s.Close()
		return nil, ErrTerminated
	}
	return s, nil
}

// Term closes all open sockets and refuses new ones.
func (c *Context) Term() error {
	if !c.terminated.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	c.sockets.Range(func(_ uint64, s *Socket) bool {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}

// Terminated reports whether Term has been called.
func (c *Context) Terminated() bool {
	return c.terminated.Load()
}

// Stats returns how many sockets were opened and closed through this Context.
func (c *Context) Stats() Stats {
	return Stats{Opened: c.opened.Load(), Closed: c.closed.Load()}
}

// Open returns the number of sockets currently open.
func (c *Context) Open() int {
	return c.sockets.Size()
}

func (c *Context) release(s *Socket) {
	if _, ok := c.sockets.LoadAndDelete(s.id); ok {
		c.closed.Add(1)
	}
}

// Registry hands out one Context per process id. A child process started from this one
// (or a Context that was terminated) gets a fresh Context instead of the stale one.
type Registry struct {
	mu       sync.RWMutex
	pid      func() int
	contexts map[int]*Context
}

// NewRegistry creates an empty Registry keyed by os.Getpid.
func NewRegistry() *Registry {
	return &Registry{
		pid:      os.Getpid,
		contexts: make(map[int]*Context),
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry is the process-wide Registry.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Context returns the Context for the current process, creating it on first use.
func (r *Registry) Context() *Context {
	pid := r.pid()

	r.mu.RLock()
	c, ok := r.contexts[pid]
	r.mu.RUnlock()
	if ok && !c.Terminated() {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contexts[pid]; ok && !c.Terminated() {
		return c
	}
	// contexts inherited from another pid are unusable here
	for other := range r.contexts {
		if other != pid {
			delete(r.contexts, other)
		}
	}
	c = newContext(pid)
	r.contexts[pid] = c
	return c
}
