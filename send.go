package courier

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/identity"
	"github.com/opd-ai/courier/wire"
)

// SendOptions tunes one payload send.
type SendOptions struct {
	// ID is the message id; a fresh one is generated when empty.
	ID string

	// ContentType tags the payload bytes.
	ContentType string

	// Droppable messages are not stored for offline recipients.
	Droppable bool

	// ReceiptRequested asks every receiving device for a delivery
	// receipt.
	ReceiptRequested bool
}

// SendPayload validates and sends one payload to all recipients as a
// single logical envelope; fan-out is the transport's job. It returns
// the message id.
func (c *Client) SendPayload(ctx context.Context, recipients []identity.Identity, payload []byte, opts SendOptions) (string, error) {
	if c.isClosed() {
		return "", ErrClosed
	}
	if len(recipients) == 0 {
		return "", fmt.Errorf("%w: at least one recipient required", ErrValidation)
	}
	if err := c.validatePayload(payload); err != nil {
		return "", err
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	typ := wire.TypeChat
	if opts.Droppable {
		typ = wire.TypeNormal
	}

	env := &wire.Envelope{
		ID:     id,
		Domain: c.opts.Domain,
		From:   c.opts.Self,
		To:     recipients,
		Type:   typ,
		Body:   wire.MarkerBody,
		Payload: &wire.Payload{
			ContentType: opts.ContentType,
			Data:        payload,
			TotalSize:   len(payload),
		},
		ReceiptRequest: opts.ReceiptRequested,
	}

	if err := c.send(ctx, env); err != nil {
		return "", err
	}
	return id, nil
}

// SendError sends an error payload back to the original sender's full
// identity. Payload size limits apply exactly as in SendPayload.
func (c *Client) SendError(ctx context.Context, original *wire.Envelope, payload []byte, contentType string) (string, error) {
	if c.isClosed() {
		return "", ErrClosed
	}
	if original == nil || original.From.IsZero() {
		return "", fmt.Errorf("%w: original message with a sender required", ErrValidation)
	}
	if err := c.validatePayload(payload); err != nil {
		return "", err
	}

	env := &wire.Envelope{
		ID:     uuid.NewString(),
		Domain: c.opts.Domain,
		From:   c.opts.Self,
		To:     []identity.Identity{original.From},
		Type:   wire.TypeError,
		Payload: &wire.Payload{
			ContentType: contentType,
			Data:        payload,
			TotalSize:   len(payload),
		},
	}

	if err := c.send(ctx, env); err != nil {
		return "", err
	}
	return env.ID, nil
}

// SendDeliveryReceipt confirms delivery of the message a receipt token
// names. Undecodable tokens are silently ignored: they are expected
// traffic from unrelated protocol extensions.
func (c *Client) SendDeliveryReceipt(ctx context.Context, receiptID string) error {
	if c.isClosed() {
		return ErrClosed
	}
	messageID, sender, ok := c.codec.Parse(receiptID)
	if !ok {
		logrus.WithFields(logrus.Fields{"function": "SendDeliveryReceipt"}).Trace("Ignoring undecodable receipt id")
		return nil
	}

	env := &wire.Envelope{
		ID:        uuid.NewString(),
		Domain:    c.opts.Domain,
		From:      c.opts.Self,
		To:        []identity.Identity{sender},
		Type:      wire.TypeChat,
		Body:      wire.MarkerBody,
		ReceiptID: receiptID,
	}
	if err := c.send(ctx, env); err != nil {
		return fmt.Errorf("delivery receipt for %s: %w", messageID, err)
	}
	return nil
}

// send hands the envelope to the transport and fires the sent/failed
// listeners.
func (c *Client) send(ctx context.Context, env *wire.Envelope) error {
	if err := c.opts.Transport.Send(ctx, env); err != nil {
		sendErr := fmt.Errorf("%w: send %s: %v", ErrTransportFailure, env.ID, err)
		c.post(func(l Listeners) {
			if l.MessageFailed != nil {
				l.MessageFailed(env.ID, sendErr)
			}
		})
		return sendErr
	}
	c.post(func(l Listeners) {
		if l.MessageSent != nil {
			l.MessageSent(env.ID)
		}
	})
	return nil
}

// validatePayload enforces the configured hard size ceiling before any
// transport work.
func (c *Client) validatePayload(payload []byte) error {
	if payload == nil {
		return fmt.Errorf("%w: payload must not be nil", ErrValidation)
	}
	if len(payload) > c.opts.MaxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds limit %d",
			ErrValidation, len(payload), c.opts.MaxPayloadSize)
	}
	return nil
}
