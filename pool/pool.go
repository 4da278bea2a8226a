package pool

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tgmux/tgmux/mtproto"
)

// ErrShuttingDown is returned by Acquire once Shutdown has begun and is the
// rejection delivered to every waiter queued at that moment.
var ErrShuttingDown = errors.New("pool: shutting down")

// ErrAcquireTimeout is returned when no connection frees up within the
// configured acquire timeout.
var ErrAcquireTimeout = errors.New("pool: acquire timed out")

// ErrConnection is returned when dialing a new connection fails. The dial
// cause is attached as text.
var ErrConnection = errors.New("pool: connection failed")

// Config bounds the pool. MinSize is the floor the maintenance pass restores;
// MaxSize caps live plus in-flight dials. IdleTimeout of zero disables idle
// eviction; MaintenanceInterval of zero disables the background loop (Maintain
// can still be driven manually).
type Config struct {
	MinSize             int
	MaxSize             int
	AcquireTimeout      time.Duration
	IdleTimeout         time.Duration
	MaintenanceInterval time.Duration
}

func (c Config) validate() error {
	if c.MaxSize < 1 {
		return errors.New("pool: max size must be at least 1")
	}
	if c.MinSize < 0 {
		return errors.New("pool: min size cannot be negative")
	}
	if c.MinSize > c.MaxSize {
		return errors.New("pool: min size exceeds max size")
	}
	if c.AcquireTimeout <= 0 {
		return errors.New("pool: acquire timeout must be positive")
	}
	return nil
}

// slot is one pooled connection. All fields are guarded by the pool mutex.
type slot struct {
	id           string
	client       mtproto.Client
	boundSession string
	inUse        bool
	createdAt    time.Time
	lastUsedAt   time.Time
}

// Conn is an opaque handle to one acquired connection. The holder talks to
// the network through Client and must hand the connection back with
// [Pool.Release] exactly once.
type Conn struct {
	id     string
	client mtproto.Client
}

// ID identifies the underlying pooled connection.
func (c *Conn) ID() string { return c.id }

// Client exposes the live protocol client.
func (c *Conn) Client() mtproto.Client { return c.client }

// Pool multiplexes sessions onto a bounded set of live connections.
//
// A single mutex guards slots, the waiter queue, and the dial reservation
// counter; dials themselves always happen outside the lock.
type Pool struct {
	cfg     Config
	factory mtproto.Factory

	mu         sync.Mutex
	slots      map[string]*slot
	waiters    waiterQueue
	seq        uint64
	connecting int
	closed     bool

	done chan struct{}
	wg   sync.WaitGroup

	acquires        atomic.Uint64
	releases        atomic.Uint64
	timeouts        atomic.Uint64
	created         atomic.Uint64
	closedConns     atomic.Uint64
	connectErrors   atomic.Uint64
	rejected        atomic.Uint64
	maintenanceRuns atomic.Uint64
}

// New builds a [Pool]. No connections are dialed here — the first Acquire or
// Maintain pass establishes them, which keeps construction free of I/O.
func New(cfg Config, factory mtproto.Factory) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("pool: nil connection factory")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:     cfg,
		factory: factory,
		slots:   make(map[string]*slot),
		done:    make(chan struct{}),
	}
	if cfg.MaintenanceInterval > 0 {
		p.wg.Add(1)
		go p.maintenanceLoop()
	}
	return p, nil
}

// Acquire hands out a connection for the session, resolving in order:
// a free connection bound to this session, any free connection (rebound),
// a fresh dial while below MaxSize, or a priority-ordered wait. Waiting ends
// with a connection, [ErrAcquireTimeout], or ctx's error — never more than
// one of them.
func (p *Pool) Acquire(ctx context.Context, sessionID string, priority int) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShuttingDown
	}

	if sl := p.takeFreeSlot(sessionID); sl != nil {
		p.mu.Unlock()
		p.acquires.Add(1)
		return &Conn{id: sl.id, client: sl.client}, nil
	}

	if len(p.slots)+p.connecting < p.cfg.MaxSize {
		p.connecting++
		p.mu.Unlock()
		return p.dialAndRegister(ctx, sessionID)
	}

	// Saturated: queue behind higher-priority peers.
	p.seq++
	w := &waiter{
		sessionID:  sessionID,
		priority:   priority,
		seq:        p.seq,
		enqueuedAt: time.Now(),
		ch:         make(chan grant, 1),
	}
	heap.Push(&p.waiters, w)
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case g := <-w.ch:
		return p.resolveGrant(ctx, g, sessionID)
	case <-timer.C:
		if g, ok := p.abandon(w); ok {
			// A grant raced the timer; the connection is ours after all.
			return p.resolveGrant(ctx, g, sessionID)
		}
		p.timeouts.Add(1)
		return nil, fmt.Errorf("%w after %v", ErrAcquireTimeout, p.cfg.AcquireTimeout)
	case <-ctx.Done():
		if g, ok := p.abandon(w); ok {
			p.returnGrant(g)
		}
		return nil, ctx.Err()
	}
}

// Release hands a connection back. The slot keeps its session binding so a
// follow-up acquire for the same session prefers it; when waiters are queued
// the connection goes straight to the best one instead of idling.
// Releasing an unknown or already-free connection is a logged no-op.
func (p *Pool) Release(conn *Conn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	sl, ok := p.slots[conn.id]
	if !ok || !sl.inUse {
		p.mu.Unlock()
		log.Printf("tgmux: release of unknown or idle connection %s ignored", conn.id)
		return
	}

	p.releases.Add(1)
	sl.lastUsedAt = time.Now()

	if p.waiters.Len() > 0 {
		w := heap.Pop(&p.waiters).(*waiter)
		w.done = true
		sl.boundSession = w.sessionID
		w.ch <- grant{sl: sl}
		p.mu.Unlock()
		return
	}

	sl.inUse = false
	p.mu.Unlock()
}

// Bind stamps an in-use connection with a session id. Auth flows acquire a
// connection before any session exists and bind it once the record is
// created, so the affinity survives the release. Reports whether the
// connection was found in use.
func (p *Pool) Bind(connID, sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	sl, ok := p.slots[connID]
	if !ok || !sl.inUse {
		return false
	}
	sl.boundSession = sessionID
	return true
}

// Shutdown rejects all queued waiters, stops the maintenance loop, and
// disconnects every pooled connection best-effort. Connections still held by
// operations are disconnected too. Idempotent; returns ctx's error when the
// disconnect sweep is cut short.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)

	for p.waiters.Len() > 0 {
		w := heap.Pop(&p.waiters).(*waiter)
		w.done = true
		w.ch <- grant{err: ErrShuttingDown}
		p.rejected.Add(1)
	}

	slots := make([]*slot, 0, len(p.slots))
	for _, sl := range p.slots {
		slots = append(slots, sl)
	}
	p.slots = make(map[string]*slot)
	p.mu.Unlock()

	p.wg.Wait()

	for _, sl := range slots {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sl.client.Disconnect(); err != nil {
			log.Printf("tgmux: disconnect connection %s during shutdown: %v", sl.id, err)
		}
		p.closedConns.Add(1)
	}
	return nil
}

// Maintain runs one maintenance pass: evict free connections idle beyond
// IdleTimeout while staying at or above MinSize, then dial the pool back up
// to the floor. The background loop calls this every MaintenanceInterval;
// it is exported so callers can warm the pool eagerly.
func (p *Pool) Maintain(ctx context.Context) {
	p.maintenanceRuns.Add(1)
	now := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	var evict []*slot
	if p.cfg.IdleTimeout > 0 {
		for id, sl := range p.slots {
			if sl.inUse || now.Sub(sl.lastUsedAt) <= p.cfg.IdleTimeout {
				continue
			}
			// len reflects prior deletes, so this is the live count.
			if len(p.slots) <= p.cfg.MinSize {
				break
			}
			evict = append(evict, sl)
			delete(p.slots, id)
		}
	}

	deficit := p.cfg.MinSize - len(p.slots) - p.connecting
	if deficit < 0 {
		deficit = 0
	}
	p.connecting += deficit
	p.mu.Unlock()

	for _, sl := range evict {
		if err := sl.client.Disconnect(); err != nil {
			log.Printf("tgmux: disconnect idle connection %s: %v", sl.id, err)
		}
		p.closedConns.Add(1)
	}

	for i := 0; i < deficit; i++ {
		client, err := p.dial(ctx)

		p.mu.Lock()
		if err != nil {
			p.connectErrors.Add(1)
			p.connecting--
			p.mu.Unlock()
			log.Printf("tgmux: warm connection dial failed: %v", err)
			continue
		}
		if p.closed {
			p.connecting--
			p.mu.Unlock()
			client.Disconnect()
			return
		}

		p.connecting--
		dialed := time.Now()
		sl := &slot{
			id:         uuid.NewString(),
			client:     client,
			createdAt:  dialed,
			lastUsedAt: dialed,
		}
		p.slots[sl.id] = sl
		p.created.Add(1)

		// Someone may be queued; hand the fresh connection straight over.
		if p.waiters.Len() > 0 {
			w := heap.Pop(&p.waiters).(*waiter)
			w.done = true
			sl.boundSession = w.sessionID
			sl.inUse = true
			w.ch <- grant{sl: sl}
		}
		p.mu.Unlock()
	}
}

func (p *Pool) maintenanceLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.Maintain(context.Background())
		}
	}
}

// takeFreeSlot claims a free connection under the preference order: bound to
// this session first, never-bound second, bound elsewhere last. Caller holds
// the mutex; returns nil when nothing is free.
func (p *Pool) takeFreeSlot(sessionID string) *slot {
	var unbound, fallback *slot
	for _, sl := range p.slots {
		if sl.inUse {
			continue
		}
		if sessionID != "" && sl.boundSession == sessionID {
			return p.claim(sl, sessionID)
		}
		if sl.boundSession == "" {
			unbound = sl
		} else {
			fallback = sl
		}
	}
	if unbound != nil {
		return p.claim(unbound, sessionID)
	}
	if fallback != nil {
		return p.claim(fallback, sessionID)
	}
	return nil
}

func (p *Pool) claim(sl *slot, sessionID string) *slot {
	sl.inUse = true
	sl.boundSession = sessionID
	sl.lastUsedAt = time.Now()
	return sl
}

// dialAndRegister consumes one dial reservation: on success the new
// connection enters the pool in-use and bound; on failure the reservation
// passes to the best waiter or is given back.
func (p *Pool) dialAndRegister(ctx context.Context, sessionID string) (*Conn, error) {
	client, err := p.dial(ctx)

	p.mu.Lock()
	if err != nil {
		p.connectErrors.Add(1)
		p.passReservation()
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if p.closed {
		p.connecting--
		p.mu.Unlock()
		client.Disconnect()
		return nil, ErrShuttingDown
	}

	p.connecting--
	now := time.Now()
	sl := &slot{
		id:           uuid.NewString(),
		client:       client,
		boundSession: sessionID,
		inUse:        true,
		createdAt:    now,
		lastUsedAt:   now,
	}
	p.slots[sl.id] = sl
	p.created.Add(1)
	p.mu.Unlock()

	p.acquires.Add(1)
	return &Conn{id: sl.id, client: client}, nil
}

func (p *Pool) dial(ctx context.Context) (mtproto.Client, error) {
	client, err := p.factory(ctx)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// abandon removes w from the queue after a timeout or cancellation. When a
// grant already raced in it is drained and returned so the caller decides
// whether to use or surrender it.
func (p *Pool) abandon(w *waiter) (grant, bool) {
	p.mu.Lock()
	if w.done {
		p.mu.Unlock()
		return <-w.ch, true
	}
	w.done = true
	heap.Remove(&p.waiters, w.index)
	p.mu.Unlock()
	return grant{}, false
}

// resolveGrant turns a received grant into a connection: an error grant
// surfaces as-is, a create grant spends the transferred dial reservation,
// a slot grant is ready to use.
func (p *Pool) resolveGrant(ctx context.Context, g grant, sessionID string) (*Conn, error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.create {
		return p.dialAndRegister(ctx, sessionID)
	}
	p.acquires.Add(1)
	return &Conn{id: g.sl.id, client: g.sl.client}, nil
}

// returnGrant puts an unwanted grant back into circulation after a context
// race: a slot goes back through Release, a dial reservation passes on.
func (p *Pool) returnGrant(g grant) {
	if g.err != nil {
		return
	}
	if g.create {
		p.mu.Lock()
		p.passReservation()
		p.mu.Unlock()
		return
	}
	// Counted as a full acquire/release round trip so the lifetime counters
	// stay consistent.
	p.acquires.Add(1)
	p.Release(&Conn{id: g.sl.id, client: g.sl.client})
}

// passReservation hands the caller's dial reservation to the best waiter as
// a create grant, or gives the capacity back when nobody is queued. Caller
// holds the mutex.
func (p *Pool) passReservation() {
	if !p.closed && p.waiters.Len() > 0 {
		w := heap.Pop(&p.waiters).(*waiter)
		w.done = true
		w.ch <- grant{create: true}
		return
	}
	p.connecting--
}
