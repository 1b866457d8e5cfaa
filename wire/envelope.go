// Package wire defines the envelope format exchanged with the
// store-and-forward transport, and its msgpack encoding.
package wire

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/opd-ai/courier/identity"
)

// ErrDecode indicates an envelope that could not be decoded.
var ErrDecode = errors.New("envelope decode failed")

// Type is the transport-level message type. A droppable send uses
// TypeNormal (no offline storage); a reliable send uses TypeChat.
type Type uint8

const (
	TypeNormal Type = iota
	TypeChat
	TypeError
)

// String returns the wire name of the type.
func (t Type) String() string {
	switch t {
	case TypeNormal:
		return "normal"
	case TypeChat:
		return "chat"
	case TypeError:
		return "error"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// MarkerBody is the minimal body carried by reliable envelopes so the
// transport treats them as storable messages.
const MarkerBody = "."

// Payload is the application payload, possibly one fragment of a larger
// transmission. A complete single-part payload has Offset 0 and
// TotalSize == len(Data).
type Payload struct {
	ContentType string `msgpack:"content_type"`
	Data        []byte `msgpack:"data"`
	Offset      int    `msgpack:"offset"`
	TotalSize   int    `msgpack:"total_size"`
}

// IsFragment reports whether the payload covers only part of the
// declared total size.
func (p Payload) IsFragment() bool {
	return p.Offset != 0 || len(p.Data) != p.TotalSize
}

// Envelope is one logical message unit addressed to one or more
// identities. It is immutable once sent; ID is the unit of idempotency
// for acks and status queries.
type Envelope struct {
	ID             string              `msgpack:"id"`
	Domain         string              `msgpack:"domain"`
	From           identity.Identity   `msgpack:"from"`
	To             []identity.Identity `msgpack:"to"`
	Type           Type                `msgpack:"type"`
	Body           string              `msgpack:"body,omitempty"`
	Payload        *Payload            `msgpack:"payload,omitempty"`
	ReceiptRequest bool                `msgpack:"receipt_request,omitempty"`
	ReceiptID      string              `msgpack:"receipt_id,omitempty"`
}

// Recipient returns the sole recipient of the envelope. It is the
// caller's responsibility to only use it for single-recipient envelopes;
// a multi-recipient envelope yields its first entry.
func (e *Envelope) Recipient() identity.Identity {
	if len(e.To) == 0 {
		return identity.Identity{}
	}
	return e.To[0]
}

// IsReceipt reports whether the envelope is a delivery receipt.
func (e *Envelope) IsReceipt() bool {
	return e.ReceiptID != ""
}

// Droppable reports whether the envelope may be dropped when the
// recipient is offline.
func (e *Envelope) Droppable() bool {
	return e.Type == TypeNormal
}

// Marshal encodes the envelope with msgpack.
func (e *Envelope) Marshal() ([]byte, error) {
	return msgpack.Marshal(e)
}

// Unmarshal decodes an envelope from its msgpack form.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &e, nil
}
