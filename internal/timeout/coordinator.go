// Package timeout tracks in-flight executions and fires their deadlines.
package timeout

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// FallbackTimeout applies when no principal, server or role override matches.
const FallbackTimeout = 60 * time.Second

// DefaultRetention is how long fired-timeout diagnostics are kept.
const DefaultRetention = time.Hour

// ErrAlreadyRegistered is returned when an execution ID is registered twice.
var ErrAlreadyRegistered = errors.New("execution already registered")

// ErrCoordinatorClosed is returned when registering on a closed coordinator.
var ErrCoordinatorClosed = errors.New("coordinator closed")

// Handle is the in-memory record of one in-flight execution. Never persisted.
type Handle struct {
	ExecutionID string
	Principal   string
	Role        string
	Server      string
	StartTime   time.Time
	Deadline    time.Time

	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// Context is cancelled when the execution times out or is cancelled.
// Runners must pass it to the statement they execute.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Event describes a fired timeout.
type Event struct {
	ExecutionID string
	Principal   string
	Role        string
	Server      string
	Deadline    time.Time
	FiredAt     time.Time
}

// Config configures a Coordinator.
type Config struct {
	// Fallback is the timeout when no override matches (default 60s).
	Fallback time.Duration
	// Retention is how long fired-timeout diagnostics are kept (default 1h).
	Retention time.Duration
	// EventBuffer is the timeout event channel capacity (default 64).
	EventBuffer int
	// Logger receives coordinator diagnostics.
	Logger *log.Logger
}

// Coordinator resolves timeouts, tracks active executions and fires
// deadlines from one scheduler goroutine over a shared min-heap.
//
// All mutable state is guarded by a single mutex: register, unregister,
// extend and cancel are atomic with respect to each other, and exactly one
// of {completion, timeout} wins for any execution.
type Coordinator struct {
	mu      sync.Mutex
	active  map[string]*Handle
	timers  timerHeap
	history []Event

	principalOverrides map[string]time.Duration
	serverOverrides    map[string]time.Duration
	roleOverrides      map[string]time.Duration

	fallback  time.Duration
	retention time.Duration
	events    chan Event
	wake      chan struct{}
	done      chan struct{}
	closed    bool
	logger    *log.Logger
}

// NewCoordinator creates and starts a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Fallback <= 0 {
		cfg.Fallback = FallbackTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	c := &Coordinator{
		active:             make(map[string]*Handle),
		principalOverrides: make(map[string]time.Duration),
		serverOverrides:    make(map[string]time.Duration),
		roleOverrides:      make(map[string]time.Duration),
		fallback:           cfg.Fallback,
		retention:          cfg.Retention,
		events:             make(chan Event, cfg.EventBuffer),
		wake:               make(chan struct{}, 1),
		done:               make(chan struct{}),
		logger:             cfg.Logger,
	}
	heap.Init(&c.timers)
	go c.run()
	return c
}

// SetPrincipalOverride sets the timeout for one principal.
func (c *Coordinator) SetPrincipalOverride(principal string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.principalOverrides[principal] = d
}

// SetServerOverride sets the timeout for one target server.
func (c *Coordinator) SetServerOverride(server string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverOverrides[server] = d
}

// SetRoleOverride sets the timeout for one role.
func (c *Coordinator) SetRoleOverride(role string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roleOverrides[role] = d
}

// ResolveTimeout returns the timeout for a principal/role/server triple.
// Precedence, first match wins: principal override, then server override,
// then role override, then the fallback. Other components rely on this
// order; do not reorder.
func (c *Coordinator) ResolveTimeout(principal, role, server string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(principal, role, server)
}

func (c *Coordinator) resolveLocked(principal, role, server string) time.Duration {
	if d, ok := c.principalOverrides[principal]; ok {
		return d
	}
	if d, ok := c.serverOverrides[server]; ok {
		return d
	}
	if d, ok := c.roleOverrides[role]; ok {
		return d
	}
	return c.fallback
}

// Register tracks a new execution. The timeout is resolved once here and is
// immutable afterward except via Extend. Returns the resolved timeout and a
// handle whose context is cancelled when the deadline fires.
func (c *Coordinator) Register(executionID, principal, role, server string) (time.Duration, *Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, nil, ErrCoordinatorClosed
	}
	if _, exists := c.active[executionID]; exists {
		return 0, nil, ErrAlreadyRegistered
	}

	d := c.resolveLocked(principal, role, server)
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		ExecutionID: executionID,
		Principal:   principal,
		Role:        role,
		Server:      server,
		StartTime:   now,
		Deadline:    now.Add(d),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.active[executionID] = h
	heap.Push(&c.timers, &timerEntry{executionID: executionID, deadline: h.Deadline, gen: h.gen})
	c.signalWake()

	return d, h, nil
}

// Unregister removes a completed execution. Returns false when the execution
// is unknown or already timed out; both are no-ops, not errors.
func (c *Coordinator) Unregister(executionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.active[executionID]
	if !ok {
		return false
	}
	delete(c.active, executionID)
	h.cancel()
	return true
}

// Extend pushes an execution's deadline out by additional time. Returns
// false when the execution is no longer active.
func (c *Coordinator) Extend(executionID string, additional time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.active[executionID]
	if !ok || additional <= 0 {
		return false
	}
	h.Deadline = h.Deadline.Add(additional)
	h.gen++
	heap.Push(&c.timers, &timerEntry{executionID: executionID, deadline: h.Deadline, gen: h.gen})
	c.signalWake()
	return true
}

// Cancel cooperatively cancels an execution: its context is cancelled and it
// is removed from the active set. The coordinator never claims to kill a
// statement server-side. Returns false when the execution is not active.
func (c *Coordinator) Cancel(executionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.active[executionID]
	if !ok {
		return false
	}
	delete(c.active, executionID)
	h.cancel()
	c.logger.Info("execution cancelled",
		"execution", executionID,
		"principal", h.Principal)
	return true
}

// ListActive returns a snapshot of in-flight executions, oldest first.
func (c *Coordinator) ListActive() []*Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	handles := make([]*Handle, 0, len(c.active))
	for _, h := range c.active {
		copied := *h
		handles = append(handles, &copied)
	}
	sort.Slice(handles, func(i, j int) bool {
		if !handles[i].StartTime.Equal(handles[j].StartTime) {
			return handles[i].StartTime.Before(handles[j].StartTime)
		}
		return handles[i].ExecutionID < handles[j].ExecutionID
	})
	return handles
}

// Events returns the channel on which fired timeouts are delivered.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// RecentTimeouts returns fired timeouts still inside the retention window.
func (c *Coordinator) RecentTimeouts() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneHistoryLocked(time.Now())

	out := make([]Event, len(c.history))
	copy(out, c.history)
	return out
}

// Close stops the scheduler and cancels all active executions.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, h := range c.active {
		h.cancel()
		delete(c.active, id)
	}
	c.mu.Unlock()

	close(c.done)
}

func (c *Coordinator) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// run is the single scheduler goroutine. It sleeps until the nearest
// deadline, fires everything due, and goes back to sleep. Register and
// Extend wake it when the head of the heap changes.
func (c *Coordinator) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		c.mu.Lock()
		wait := c.nextWaitLocked(time.Now())
		c.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-c.done:
			return
		case <-c.wake:
		case <-timer.C:
			c.fireDue(time.Now())
		}
	}
}

// nextWaitLocked computes the sleep until the next live deadline, discarding
// stale heap entries along the way.
func (c *Coordinator) nextWaitLocked(now time.Time) time.Duration {
	for c.timers.Len() > 0 {
		head := c.timers[0]
		h, ok := c.active[head.executionID]
		if !ok || h.gen != head.gen {
			heap.Pop(&c.timers)
			continue
		}
		wait := head.deadline.Sub(now)
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		return wait
	}
	return time.Hour
}

// fireDue times out every execution whose live deadline has passed.
func (c *Coordinator) fireDue(now time.Time) {
	c.mu.Lock()
	var fired []Event
	for c.timers.Len() > 0 {
		head := c.timers[0]
		h, ok := c.active[head.executionID]
		if !ok || h.gen != head.gen {
			heap.Pop(&c.timers)
			continue
		}
		if head.deadline.After(now) {
			break
		}
		heap.Pop(&c.timers)

		delete(c.active, head.executionID)
		h.cancel()
		fired = append(fired, Event{
			ExecutionID: h.ExecutionID,
			Principal:   h.Principal,
			Role:        h.Role,
			Server:      h.Server,
			Deadline:    h.Deadline,
			FiredAt:     now,
		})
	}
	c.history = append(c.history, fired...)
	c.pruneHistoryLocked(now)
	c.mu.Unlock()

	for _, ev := range fired {
		c.logger.Warn("execution timed out",
			"execution", ev.ExecutionID,
			"principal", ev.Principal,
			"server", ev.Server)
		select {
		case c.events <- ev:
		default:
			c.logger.Warn("timeout event dropped, channel full",
				"execution", ev.ExecutionID)
		}
	}
}

func (c *Coordinator) pruneHistoryLocked(now time.Time) {
	cutoff := now.Add(-c.retention)
	kept := c.history[:0]
	for _, ev := range c.history {
		if ev.FiredAt.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	c.history = kept
}
