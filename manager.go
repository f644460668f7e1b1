package amadeus

import (
	"context"
	"sync"
)

// defaultIngressCapacity is the default bound on the MessageManager's
// ingress queue, per §4.3.
const defaultIngressCapacity = 1024

// ingress is the bounded MPSC queue every MessageContext.Send funnels
// into. It exists as its own small type, rather than a bare channel on
// MessageManager, so MessageContext can hold a reference to it without
// depending on the rest of MessageManager's lifecycle state.
type ingress struct {
	mu     sync.RWMutex
	ch     chan Message
	closed bool
}

func newIngress(capacity int) *ingress {
	if capacity <= 0 {
		capacity = defaultIngressCapacity
	}
	return &ingress{ch: make(chan Message, capacity)}
}

func (i *ingress) enqueue(msg Message) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return ErrIngressClosed
	}
	// A full ingress blocks the sender rather than silently dropping a
	// message that hasn't reached any subscriber yet. Backpressure here
	// is intentional — dropping belongs at the distribution edge
	// (per-subscriber lag, direct inbox overflow), not here.
	i.ch <- msg
	return nil
}

func (i *ingress) closeForSend() {
	i.mu.Lock()
	if !i.closed {
		i.closed = true
		// Closing the channel lets the routing loop finish the buffered
		// messages and then exit, even if its context is never canceled.
		close(i.ch)
	}
	i.mu.Unlock()
}

// MessageManager owns the single routing task that drains the ingress
// queue and hands each message to the DistributionCenter. Decoupling
// senders (MessageContext.Send) from routing through this bounded queue
// is what gives the bus its ordering guarantee: messages are distributed
// in the order they were enqueued, one at a time, on a single goroutine.
type MessageManager struct {
	dc      *DistributionCenter
	in      *ingress
	log     Logger
	running bool
	mu      sync.Mutex
	done    chan struct{}
}

// NewMessageManager builds a MessageManager bound to dc with an ingress
// queue of the given capacity (defaultIngressCapacity if <= 0).
func NewMessageManager(dc *DistributionCenter, capacity int, log Logger) *MessageManager {
	if log == nil {
		log = NewNoopLogger()
	}
	return &MessageManager{
		dc:  dc,
		in:  newIngress(capacity),
		log: log,
	}
}

// Ingress returns the manager's ingress queue, for handing to
// MessageContext instances during registry startup.
func (m *MessageManager) Ingress() *ingress { return m.in }

// Start launches the routing loop. It is an error to call Start twice
// without an intervening Stop.
func (m *MessageManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrManagerAlreadyRunning
	}
	m.running = true
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
	return nil
}

func (m *MessageManager) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case msg, ok := <-m.in.ch:
			if !ok {
				return
			}
			if err := m.dc.Distribute(msg); err != nil {
				m.log.Warn("message distribution failed", "topic", msg.Topic, "recipient", msg.Recipient, "err", err.Error())
			}
		}
	}
}

// drain flushes any messages already enqueued before shutdown, so a
// burst of sends immediately preceding Stop isn't silently lost.
func (m *MessageManager) drain() {
	for {
		select {
		case msg, ok := <-m.in.ch:
			if !ok {
				return
			}
			if err := m.dc.Distribute(msg); err != nil {
				m.log.Warn("message distribution failed during drain", "topic", msg.Topic, "err", err.Error())
			}
		default:
			return
		}
	}
}

// Stop stops accepting new sends and waits for the routing loop to
// finish processing whatever was already queued.
func (m *MessageManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrManagerNotRunning
	}
	m.running = false
	done := m.done
	m.mu.Unlock()

	m.in.closeForSend()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
