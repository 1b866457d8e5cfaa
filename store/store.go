// Package store defines the persistence contracts the delivery core
// depends on, together with an in-memory backend for embedding and
// tests and a Redis backend for deployments.
//
// The core never deletes records; retention is an external concern.
package store

import (
	"context"
	"errors"

	"github.com/opd-ai/courier/wire"
)

// ErrNotFound indicates a device or app the registry does not know.
var ErrNotFound = errors.New("not found")

// RecordType distinguishes application messages from receipts.
type RecordType uint8

const (
	RecordNormal RecordType = iota
	RecordReceipt
)

// RecordState is the delivery state of one (message, device) pair.
type RecordState uint8

const (
	// StateDeliveryAttempted means the message was handed to the
	// transport for a connected device.
	StateDeliveryAttempted RecordState = iota
	// StatePending means the message is stored and will be delivered on
	// the device's next reconnect; no push is attempted.
	StatePending
	// StateWakeupRequired means the message is stored and a wakeup push
	// has been enqueued for the device.
	StateWakeupRequired
	// StateDelivered means the receiving device confirmed delivery.
	StateDelivered
)

// String returns the state name.
func (s RecordState) String() string {
	switch s {
	case StateDeliveryAttempted:
		return "DELIVERY_ATTEMPTED"
	case StatePending:
		return "PENDING"
	case StateWakeupRequired:
		return "WAKEUP_REQUIRED"
	case StateDelivered:
		return "DELIVERED"
	default:
		return "UNKNOWN"
	}
}

// MessageRecord tracks one (message, target device) pair. Created once
// per pair; state is mutated as transitions occur.
type MessageRecord struct {
	MessageID       string      `msgpack:"message_id"`
	AppID           string      `msgpack:"app_id"`
	From            string      `msgpack:"from"`
	To              string      `msgpack:"to"`
	DeviceID        string      `msgpack:"device_id"`
	Type            RecordType  `msgpack:"type"`
	State           RecordState `msgpack:"state"`
	SourceMessageID string      `msgpack:"source_message_id,omitempty"`
}

// DeviceEndpoint is a registered device as the push-notification layer
// sees it. Read-only to this core.
type DeviceEndpoint struct {
	DeviceID       string
	PushToken      string
	PushTokenValid bool
}

// CanWake reports whether the device can be roused by a wakeup push: it
// must hold a non-empty push token that is not marked invalid.
func (d *DeviceEndpoint) CanWake() bool {
	return d != nil && d.PushToken != "" && d.PushTokenValid
}

// App is the application entity admission and wakeup scheduling key off.
type App struct {
	AppID  string
	Name   string
	APIKey string
}

// RecordStore persists message delivery records.
type RecordStore interface {
	// Persist inserts or updates the record for its
	// (MessageID, DeviceID) pair.
	Persist(ctx context.Context, rec *MessageRecord) error
	// MessageReceived marks the original message delivered for the
	// confirming device.
	MessageReceived(ctx context.Context, messageID, deviceID string) error
	// ByMessage returns all per-device records for a message id.
	ByMessage(ctx context.Context, messageID string) ([]MessageRecord, error)
}

// OfflineStore stores envelopes for later delivery to offline devices.
type OfflineStore interface {
	StoreMessage(ctx context.Context, env *wire.Envelope) error
}

// DeviceRegistry resolves devices. Read-only to this core.
type DeviceRegistry interface {
	// GetDevice returns the device or ErrNotFound.
	GetDevice(ctx context.Context, appID, deviceID string) (*DeviceEndpoint, error)
	// DevicesForUser returns every device registered for the user under
	// the app. An unknown user yields an empty slice, not an error.
	DevicesForUser(ctx context.Context, appID, userID string) ([]DeviceEndpoint, error)
}

// AppRegistry resolves application entities. Read-only to this core.
type AppRegistry interface {
	// GetApp returns the app or ErrNotFound.
	GetApp(ctx context.Context, appID string) (*App, error)
}
