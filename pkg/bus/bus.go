package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBuffer  = 64
	publishTimeout = 100 * time.Millisecond
)

// MessageBus decouples chat channels from the conversation loop. Inbound
// carries user utterances to the router, outbound carries replies back.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu     sync.RWMutex
	closed bool

	droppedIn  atomic.Uint64
	droppedOut atomic.Uint64
}

// Stats reports how many messages were discarded because a side was full.
type Stats struct {
	DroppedInbound  uint64 `json:"dropped_inbound"`
	DroppedOutbound uint64 `json:"dropped_outbound"`
	PendingInbound  int    `json:"pending_inbound"`
	PendingOutbound int    `json:"pending_outbound"`
}

func NewMessageBus() *MessageBus {
	return NewMessageBusSize(defaultBuffer)
}

// NewMessageBusSize builds a bus whose queues hold size messages each.
func NewMessageBusSize(size int) *MessageBus {
	if size <= 0 {
		size = defaultBuffer
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, size),
		outbound: make(chan OutboundMessage, size),
	}
}

// PublishInbound enqueues msg, waiting briefly when the queue is full.
// It reports whether the message was accepted.
func (mb *MessageBus) PublishInbound(msg InboundMessage) bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return false
	}
	if offer(mb.inbound, msg) {
		return true
	}
	mb.droppedIn.Add(1)
	return false
}

func (mb *MessageBus) PublishOutbound(msg OutboundMessage) bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return false
	}
	if offer(mb.outbound, msg) {
		return true
	}
	mb.droppedOut.Add(1)
	return false
}

func offer[T any](ch chan T, msg T) bool {
	select {
	case ch <- msg:
		return true
	default:
	}
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case ch <- msg:
		return true
	case <-timer.C:
		return false
	}
}

// ConsumeInbound blocks for the next user message. ok is false once the bus
// is closed or ctx is done.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return take(ctx, mb.inbound)
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return take(ctx, mb.outbound)
}

func take[T any](ctx context.Context, ch chan T) (T, bool) {
	var zero T
	select {
	case msg, ok := <-ch:
		if !ok {
			return zero, false
		}
		return msg, true
	case <-ctx.Done():
		return zero, false
	}
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}

func (mb *MessageBus) Stats() Stats {
	return Stats{
		DroppedInbound:  mb.droppedIn.Load(),
		DroppedOutbound: mb.droppedOut.Load(),
		PendingInbound:  len(mb.inbound),
		PendingOutbound: len(mb.outbound),
	}
}
