package evh

// context.go - EventHandlerContext, the per-worker state exclusively
// owned by its worker goroutine.

import "time"

// processType records which callback kind was in flight when a worker
// panicked, so a restarted worker knows the minimum compensating
// cleanup to run.
type processType int

const (
	processNone processType = iota
	processOnRead
	processOnAccept
	processOnAcceptOutOfBand
	processOnClose
	processHousekeeper
)

// eventHandlerContext is the per-worker context: selector, hashtables,
// slab pool, and the staging fields used for panic-restart compensation.
type eventHandlerContext struct {
	id int

	sel   selector
	slabs *SlabPool

	// handle -> id and id -> ConnectionInfo. Single owner: the
	// worker.
	byHandle map[Handle]ConnectionID
	byID     map[ConnectionID]*ConnectionInfo
	// listenersByID indexes just the Listener variants, used to resolve
	// attachment inheritance without scanning
	// byID.
	listenersByID map[ConnectionID]*ListenerInfo

	// registered tracks which handles are currently armed with the
	// selector. It is bookkeeping only: each selector backend decides
	// add-vs-modify from its own table.
	registered map[Handle]bool

	eventsIn []EventIn

	lastHousekeeping time.Time

	// Panic-restart staging.
	lastProcessType  processType
	lastStreamID     ConnectionID
	lastHandleOOB    Handle
	lastAcceptHandle Handle

	cfg Config
}

func newEventHandlerContext(id int, cfg Config) (*eventHandlerContext, error) {
	slabs, err := NewSlabPool(cfg.ReadSlabCount, cfg.slabSize(), cfg.SlabPayloadSize)
	if err != nil {
		return nil, err
	}
	sel := newSelector()
	if err := sel.init(); err != nil {
		return nil, err
	}
	return &eventHandlerContext{
		id:               id,
		sel:              sel,
		slabs:            slabs,
		byHandle:         make(map[Handle]ConnectionID),
		byID:             make(map[ConnectionID]*ConnectionInfo),
		listenersByID:    make(map[ConnectionID]*ListenerInfo),
		registered:       make(map[Handle]bool),
		lastHousekeeping: time.Now(),
		lastHandleOOB:    InvalidHandle,
		lastAcceptHandle: InvalidHandle,
		cfg:              cfg,
	}, nil
}

// register inserts info into both hashtables.
func (c *eventHandlerContext) register(info *ConnectionInfo) error {
	if len(c.byID) >= c.cfg.MaxHandlesPerThread {
		return &CapacityError{Resource: "handles_per_thread"}
	}
	id := info.idOf()
	h := info.handleOf()
	c.byID[id] = info
	if h.Valid() {
		c.byHandle[h] = id
	}
	if info.Listener != nil {
		c.listenersByID[id] = info.Listener
	}
	return nil
}

func (c *eventHandlerContext) lookupByHandle(h Handle) (*ConnectionInfo, bool) {
	id, ok := c.byHandle[h]
	if !ok {
		return nil, false
	}
	info, ok := c.byID[id]
	return info, ok
}

func (c *eventHandlerContext) remove(info *ConnectionInfo) {
	id := info.idOf()
	h := info.handleOf()
	delete(c.byID, id)
	delete(c.byHandle, h)
	delete(c.listenersByID, id)
	delete(c.registered, h)
}

// submitEventIn appends an EventIn to the batch staged for the next
// select call.
func (c *eventHandlerContext) submitEventIn(e EventIn) {
	if len(c.eventsIn) >= c.cfg.MaxEventsIn {
		return // capacity exhaustion is per-connection scale, never worker-fatal; drop and let the next iteration re-arm
	}
	c.eventsIn = append(c.eventsIn, e)
}

// applyEventsIn pushes the staged EventIn batch to the selector and
// clears it.
func (c *eventHandlerContext) applyEventsIn() {
	for _, e := range c.eventsIn {
		switch e.Kind {
		case EventInRead:
			_ = c.sel.register(e.Handle, true, false)
			c.registered[e.Handle] = true
		case EventInWrite:
			_ = c.sel.register(e.Handle, true, true)
			c.registered[e.Handle] = true
		case EventInSuspend:
			_ = c.sel.deregister(e.Handle)
			delete(c.registered, e.Handle)
		case EventInResume:
			_ = c.sel.register(e.Handle, true, false)
			c.registered[e.Handle] = true
		}
	}
	c.eventsIn = c.eventsIn[:0]
}
