// Package transport defines the contracts the delivery core expects
// from the underlying store-and-forward transport, plus an in-process
// loopback used by tests and examples.
//
// Routing, addressing, session management, and security are the
// transport's own concern; the core only hands envelopes over and asks
// presence questions.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/opd-ai/courier/identity"
	"github.com/opd-ai/courier/wire"
)

// ErrNotConnected indicates a send on a torn-down transport.
var ErrNotConnected = errors.New("transport not connected")

// Sender hands an envelope to the transport for delivery. Fan-out to
// multiple recipients is the transport's job; the caller sends one
// envelope regardless of recipient count.
type Sender interface {
	Send(ctx context.Context, env *wire.Envelope) error
}

// Presence answers whether a device's session is currently online.
type Presence interface {
	IsOnline(ctx context.Context, id identity.Identity) (bool, error)
}

// Handler consumes inbound envelopes.
type Handler func(env *wire.Envelope)

// Loopback is an in-process transport: envelopes sent on one end are
// delivered synchronously to the peer's handler.
type Loopback struct {
	mu      sync.Mutex
	peer    *Loopback
	handler Handler
	closed  bool
	sent    []*wire.Envelope
}

// NewLoopbackPair creates two connected loopback ends.
func NewLoopbackPair() (*Loopback, *Loopback) {
	a := &Loopback{}
	b := &Loopback{}
	a.peer = b
	b.peer = a
	return a, b
}

// OnInbound registers the handler for envelopes arriving at this end.
func (l *Loopback) OnInbound(h Handler) {
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// Send implements Sender: the envelope is recorded and handed to the
// peer's handler.
func (l *Loopback) Send(_ context.Context, env *wire.Envelope) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrNotConnected
	}
	l.sent = append(l.sent, env)
	peer := l.peer
	l.mu.Unlock()

	peer.mu.Lock()
	h := peer.handler
	peer.mu.Unlock()
	if h != nil {
		h(env)
	}
	return nil
}

// Sent returns a copy of every envelope sent from this end.
func (l *Loopback) Sent() []*wire.Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*wire.Envelope, len(l.sent))
	copy(out, l.sent)
	return out
}

// Close tears the end down; further sends fail.
func (l *Loopback) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}
