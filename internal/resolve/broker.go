package resolve

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Broker is a Decider that parks each request until Resolve is called for it.
// Cancelling the Decide context resolves the request as DecideCancel.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pending
	onPark  func(Request)
}

type pending struct {
	req    Request
	answer chan Decision
}

// NewBroker returns an empty broker. onPark, if set, is called after a request
// becomes visible in Pending.
func NewBroker(onPark func(Request)) *Broker {
	return &Broker{pending: make(map[string]*pending), onPark: onPark}
}

// Decide blocks until req is resolved or ctx ends.
func (b *Broker) Decide(ctx context.Context, req Request) (Decision, error) {
	p := &pending{req: req, answer: make(chan Decision, 1)}
	b.mu.Lock()
	b.pending[req.ID] = p
	b.mu.Unlock()
	defer b.drop(req.ID)

	if b.onPark != nil {
		b.onPark(req)
	}
	select {
	case d := <-p.answer:
		return d, nil
	case <-ctx.Done():
		return Decision{Kind: DecideCancel}, nil
	}
}

// Resolve answers the pending request id.
func (b *Broker) Resolve(id string, d Decision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("resolve %s: %w", id, ErrUnknownRequest)
	}
	p.answer <- d
	return nil
}

// Pending lists parked requests, oldest first.
func (b *Broker) Pending() []Request {
	b.mu.Lock()
	out := make([]Request, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p.req)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Lookup returns the pending request id.
func (b *Broker) Lookup(id string) (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[id]
	if !ok {
		return Request{}, false
	}
	return p.req, true
}

// CancelAll resolves every pending request as DecideCancel.
func (b *Broker) CancelAll() int {
	b.mu.Lock()
	parked := b.pending
	b.pending = make(map[string]*pending)
	b.mu.Unlock()
	for _, p := range parked {
		p.answer <- Decision{Kind: DecideCancel}
	}
	return len(parked)
}

func (b *Broker) drop(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}
