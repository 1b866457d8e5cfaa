// Package distribution resolves a bare recipient into device endpoints
// and partitions them into deliver-now versus store-for-later.
package distribution

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/identity"
	"github.com/opd-ai/courier/store"
	"github.com/opd-ai/courier/transport"
	"github.com/opd-ai/courier/wire"
)

// Context carries the resolution parameters for one distribution call.
type Context struct {
	TargetUser string
	AppID      string
	Domain     string
	MessageID  string
}

// Pair binds an undelivered target identity to its device record so
// the caller can make the wakeup decision without a second lookup.
type Pair struct {
	Identity identity.Identity
	Device   store.DeviceEndpoint
}

// Result is the outcome of one distribution call. It is not persisted.
type Result struct {
	// Delivered holds devices whose sessions were online; the transport
	// handles the actual send for them.
	Delivered []store.DeviceEndpoint
	// NotDistributed holds offline devices to be stored for later.
	NotDistributed []Pair
	// HadNoDevices is set when the user has no registered devices at
	// all; the caller owes the sender a recipient-unavailable error.
	HadNoDevices bool
}

// Distributor classifies a bare recipient's devices by presence.
type Distributor struct {
	registry store.DeviceRegistry
	presence transport.Presence
}

// New creates a Distributor.
func New(registry store.DeviceRegistry, presence transport.Presence) *Distributor {
	return &Distributor{registry: registry, presence: presence}
}

// Distribute resolves dctx.TargetUser to its registered devices and
// classifies each independently. Device order is not guaranteed stable.
// A presence-check failure for one device counts that device as offline
// (fail-safe toward store-and-forward) and never aborts the others.
func (d *Distributor) Distribute(ctx context.Context, env *wire.Envelope, dctx Context) (*Result, error) {
	devices, err := d.registry.DevicesForUser(ctx, dctx.AppID, dctx.TargetUser)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		logrus.WithFields(logrus.Fields{
			"message_id": dctx.MessageID,
			"app_id":     dctx.AppID,
			"user_id":    dctx.TargetUser,
		}).Warn("Recipient has no registered devices")
		return &Result{HadNoDevices: true}, nil
	}

	result := &Result{}
	for _, dev := range devices {
		target := identity.New(dctx.AppID, dctx.TargetUser, dev.DeviceID)
		online, err := d.presence.IsOnline(ctx, target)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"message_id": dctx.MessageID,
				"device_id":  dev.DeviceID,
				"error":      err,
			}).Warn("Presence check failed, treating device as offline")
			online = false
		}
		if online {
			result.Delivered = append(result.Delivered, dev)
		} else {
			result.NotDistributed = append(result.NotDistributed, Pair{Identity: target, Device: dev})
		}
	}
	return result, nil
}
