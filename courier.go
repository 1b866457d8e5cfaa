// Package courier provides the client-side facade of the reliable
// delivery core: building and sending payload envelopes, delivery
// receipts and error replies, querying per-device message state, and
// mutating message tags and events.
//
// A Client is created per logical connection and torn down with Close;
// there is no process-wide instance. Application callbacks are passed as
// a Listeners set at construction and dispatched on a dedicated
// executor goroutine, so a slow handler never blocks protocol
// processing.
package courier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/ack"
	"github.com/opd-ai/courier/assembly"
	"github.com/opd-ai/courier/identity"
	"github.com/opd-ai/courier/protocol"
	"github.com/opd-ai/courier/receipt"
	"github.com/opd-ai/courier/transport"
	"github.com/opd-ai/courier/wire"
)

var (
	// ErrValidation indicates input rejected before any transport call.
	ErrValidation = protocol.ErrValidation

	// ErrTransportFailure wraps a failed or timed-out round trip.
	ErrTransportFailure = protocol.ErrTransport

	// ErrClosed indicates an operation on a closed client.
	ErrClosed = errors.New("client closed")
)

// Listeners is the application callback set. Each field is optional; a
// nil listener drops its events. Handlers run on the client's executor
// goroutine, one at a time, in dispatch order.
type Listeners struct {
	// MessageReceived fires for every fully assembled inbound payload
	// message. receiptID is non-empty when the sender asked for a
	// delivery receipt; pass it to SendDeliveryReceipt to confirm.
	MessageReceived func(env *wire.Envelope, payload []byte, receiptID string)

	// MessageDelivered fires when a delivery receipt for a message sent
	// by this client comes back.
	MessageDelivered func(messageID string, by identity.Identity)

	// MessageSent fires after an envelope was handed to the transport.
	MessageSent func(messageID string)

	// MessageFailed fires when the transport rejected a send.
	MessageFailed func(messageID string, err error)

	// ErrorReceived fires for inbound error envelopes.
	ErrorReceived func(env *wire.Envelope)

	// ItemPublished fires for envelopes originating from a topic rather
	// than a device session.
	ItemPublished func(env *wire.Envelope)
}

// Options configures a Client.
type Options struct {
	// Self is the full identity this client is connected as.
	Self identity.Identity

	// Domain is the service domain used in wire addresses.
	Domain string

	// MaxPayloadSize is the hard byte ceiling for one payload. Zero
	// selects the default of 2 MiB.
	MaxPayloadSize int

	// AckQueueSize bounds the background ack queue. Zero selects the
	// default.
	AckQueueSize int

	// RoundTripTimeout bounds each request/response exchange. Zero
	// selects 10 seconds.
	RoundTripTimeout time.Duration

	// ReceiptKey obfuscates receipt tokens; both ends of a deployment
	// share it.
	ReceiptKey []byte

	// Transport carries outbound envelopes.
	Transport transport.Sender

	// Exchanger performs request/response round trips for acks, status
	// queries, and tag/event mutation.
	Exchanger protocol.Exchanger

	Listeners Listeners
}

const (
	defaultMaxPayloadSize   = 2 * 1024 * 1024
	defaultRoundTripTimeout = 10 * time.Second
	dispatchBuffer          = 256
)

// Client is the sender-facing facade over one logical connection. Safe
// for concurrent use.
type Client struct {
	opts        Options
	codec       *receipt.Codec
	assembler   *assembly.Assembler
	coordinator *ack.Coordinator
	acks        *ack.Queue

	dispatch chan func()
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

// New creates a Client over the given transport and exchanger.
func New(opts Options) (*Client, error) {
	if opts.Self.IsBare() || opts.Self.IsZero() {
		return nil, fmt.Errorf("%w: client identity must name a device", ErrValidation)
	}
	if opts.Transport == nil || opts.Exchanger == nil {
		return nil, fmt.Errorf("%w: transport and exchanger are required", ErrValidation)
	}
	if opts.MaxPayloadSize <= 0 {
		opts.MaxPayloadSize = defaultMaxPayloadSize
	}
	if opts.RoundTripTimeout <= 0 {
		opts.RoundTripTimeout = defaultRoundTripTimeout
	}

	coordinator := ack.NewCoordinator(opts.Exchanger, opts.Domain)
	c := &Client{
		opts:        opts,
		codec:       receipt.NewCodec(opts.ReceiptKey),
		assembler:   assembly.New(opts.MaxPayloadSize),
		coordinator: coordinator,
		acks:        ack.NewQueue(coordinator, opts.AckQueueSize),
		dispatch:    make(chan func(), dispatchBuffer),
		done:        make(chan struct{}),
	}
	go c.runDispatcher()

	logrus.WithFields(logrus.Fields{
		"self":   opts.Self.String(),
		"domain": opts.Domain,
	}).Debug("Courier client created")
	return c, nil
}

// Close tears the client down: pending acks drain, the listener
// executor stops, and fragment buffers are discarded. Close is
// idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.acks.Close()
	close(c.dispatch)
	<-c.done
	c.assembler.Reset()
}

// isClosed reports whether Close has been called.
func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// HandleInbound processes one envelope arriving from the transport.
// Register it as the transport's inbound handler. It never blocks on
// application handlers or ack round trips.
func (c *Client) HandleInbound(env *wire.Envelope) {
	if c.isClosed() || env == nil {
		return
	}

	switch {
	case env.Type == wire.TypeError:
		c.post(func(l Listeners) {
			if l.ErrorReceived != nil {
				l.ErrorReceived(env)
			}
		})

	case env.IsReceipt():
		c.handleReceipt(env)

	default:
		c.handleMessage(env)
	}
}

// handleReceipt surfaces a returning delivery receipt. Undecodable
// tokens are expected traffic from unrelated protocol extensions and
// are dropped without noise.
func (c *Client) handleReceipt(env *wire.Envelope) {
	messageID, _, ok := c.codec.Parse(env.ReceiptID)
	if !ok {
		logrus.WithFields(logrus.Fields{"envelope_id": env.ID}).Trace("Ignoring foreign receipt token")
		return
	}
	from := env.From
	c.post(func(l Listeners) {
		if l.MessageDelivered != nil {
			l.MessageDelivered(messageID, from)
		}
	})
}

// handleMessage assembles and surfaces an inbound payload message,
// auto-acking reliable envelopes through the background queue.
func (c *Client) handleMessage(env *wire.Envelope) {
	var data []byte
	if env.Payload != nil {
		data = env.Payload.Data
		if env.Payload.IsFragment() {
			assembled, done, err := c.assembler.Feed(env.ID, env.Payload.Offset, env.Payload.Data, env.Payload.TotalSize)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"message_id": env.ID,
					"error":      err,
				}).Warn("Dropping inconsistent fragment buffer")
				return
			}
			if !done {
				return
			}
			data = assembled
		}
	}

	// Reliable envelopes are acknowledged as soon as they reach the
	// application boundary; the round trip runs on the ack worker.
	if env.Type == wire.TypeChat {
		c.acks.Enqueue(env.From, c.opts.Self, env.ID)
	}

	if env.From.IsBare() {
		// Published items come from a topic, not a device session.
		c.post(func(l Listeners) {
			if l.ItemPublished != nil {
				l.ItemPublished(env)
			}
		})
		return
	}

	var receiptID string
	if env.ReceiptRequest {
		token, err := c.codec.Build(env.From, c.opts.Domain, env.ID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"message_id": env.ID,
				"error":      err,
			}).Warn("Failed to build receipt token")
		} else {
			receiptID = token
		}
	}

	c.post(func(l Listeners) {
		if l.MessageReceived != nil {
			l.MessageReceived(env, data, receiptID)
		}
	})
}

// post hands a callback to the executor goroutine.
func (c *Client) post(fn func(Listeners)) {
	defer func() {
		// The dispatch channel closes during Close; a racing post is
		// dropped rather than crashing the inbound goroutine.
		_ = recover()
	}()
	c.dispatch <- func() { fn(c.opts.Listeners) }
}

// runDispatcher is the single listener executor.
func (c *Client) runDispatcher() {
	defer close(c.done)
	for fn := range c.dispatch {
		fn()
	}
}

// callCtx derives the bounded context for one round trip.
func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opts.RoundTripTimeout)
}
