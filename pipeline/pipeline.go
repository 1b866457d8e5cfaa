// Package pipeline implements the per-inbound-message decision
// sequence of the delivery core.
//
// Each inbound envelope runs through an ordered set of stage checks;
// the terminal outcomes are mutually exclusive: the message either
// proceeds to normal transport handling, is stored and processing
// stops, or is rejected with an error.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/distribution"
	"github.com/opd-ai/courier/event"
	"github.com/opd-ai/courier/identity"
	"github.com/opd-ai/courier/metrics"
	"github.com/opd-ai/courier/ratelimit"
	"github.com/opd-ai/courier/receipt"
	"github.com/opd-ai/courier/store"
	"github.com/opd-ai/courier/transport"
	"github.com/opd-ai/courier/wakeup"
	"github.com/opd-ai/courier/wire"
)

var (
	// ErrAdmissionRejected indicates the app exceeded its inbound rate
	// ceiling. The message is dropped, not queued; an alert has been
	// posted and the sender gets no reply.
	ErrAdmissionRejected = errors.New("admission rejected")

	// ErrRecipientNotFound indicates the recipient resolved to no
	// usable device. An error reply has been sent to the originator.
	ErrRecipientNotFound = errors.New("recipient not found")
)

// Error reply conditions carried in the body of error envelopes.
const (
	ConditionRecipientUnavailable = "recipient-unavailable"
	ConditionItemNotFound         = "item-not-found"
)

// RateCategory is the admission-control category for inbound messages.
const RateCategory = "inbound"

// Outcome is the non-error terminal state of one Handle call.
type Outcome uint8

const (
	// OutcomeContinue lets normal transport processing proceed.
	OutcomeContinue Outcome = iota
	// OutcomeStop means the pipeline fully handled the message and
	// later stages must not run.
	OutcomeStop
)

// Input is one inbound or outbound envelope plus its transport-side
// classification.
type Input struct {
	Envelope *wire.Envelope
	// Incoming is true for messages arriving at the server, false for
	// messages the server is routing out.
	Incoming bool
	// Processed is set by an earlier stage; processed messages pass
	// through untouched.
	Processed bool
}

// Options wires the pipeline's collaborators.
type Options struct {
	Domain   string
	Limiter  ratelimit.Limiter
	Alerts   event.Poster
	Records  store.RecordStore
	Offline  store.OfflineStore
	Devices  store.DeviceRegistry
	Apps     store.AppRegistry
	Presence transport.Presence
	// Wakeups is the raw scheduler; the pipeline wraps it so a wakeup
	// is enqueued at most once per (message, device) pair.
	Wakeups  wakeup.Scheduler
	Receipts *receipt.Codec
	// Replies sends error envelopes back to originators.
	Replies transport.Sender
	Metrics *metrics.Metrics
}

// Pipeline is the top-level inbound message handler. Safe for
// concurrent use; messages for the same device serialize around the
// record-persist step.
type Pipeline struct {
	opts        Options
	distributor *distribution.Distributor
	wakeups     wakeup.Scheduler
	locks       *keyedLocks
	metrics     *metrics.Metrics
}

// New creates a Pipeline. Metrics may be nil.
func New(opts Options) *Pipeline {
	m := opts.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	return &Pipeline{
		opts:        opts,
		distributor: distribution.New(opts.Devices, opts.Presence),
		wakeups:     wakeup.NewDeduper(opts.Wakeups),
		locks:       newKeyedLocks(),
		metrics:     m,
	}
}

// Handle runs one envelope through the stage checks. A nil error with
// OutcomeContinue lets the transport proceed; OutcomeStop means the
// pipeline consumed the message. A non-nil error is a rejection.
func (p *Pipeline) Handle(ctx context.Context, in Input) (Outcome, error) {
	env := in.Envelope

	if in.Processed {
		logrus.WithFields(logrus.Fields{"message_id": env.ID}).Trace("Already processed, passing through")
		return OutcomeContinue, nil
	}

	to := env.Recipient()
	if to.IsBare() {
		// A bare recipient can only be incoming and never a receipt;
		// anything else is multicast or malformed traffic that other
		// machinery owns.
		if in.Incoming && !env.IsReceipt() {
			if err := p.handleBare(ctx, env); err != nil {
				return OutcomeStop, err
			}
		}
		p.metrics.Inbound.WithLabelValues("bare_handled").Inc()
		return OutcomeStop, nil
	}

	if !in.Incoming {
		// Outgoing messages are recorded for history; the transport
		// already knows where to route them.
		if err := p.opts.Offline.StoreMessage(ctx, env); err != nil {
			logrus.WithFields(logrus.Fields{
				"message_id": env.ID,
				"error":      err,
			}).Error("Failed to store outgoing message")
		}
		p.metrics.Inbound.WithLabelValues("outgoing_stored").Inc()
		return OutcomeContinue, nil
	}

	if env.IsReceipt() {
		p.handleReceipt(ctx, env)
		p.metrics.Inbound.WithLabelValues("receipt").Inc()
		return OutcomeStop, nil
	}

	return p.handleDirect(ctx, env, to)
}

// handleBare distributes a message addressed to a user rather than a
// device.
func (p *Pipeline) handleBare(ctx context.Context, env *wire.Envelope) error {
	to := env.Recipient()
	if to.UserID == "" {
		// Multicast addressing; the multicast router owns it.
		logrus.WithFields(logrus.Fields{"message_id": env.ID}).Trace("Ignoring multicast message")
		return nil
	}

	dctx := distribution.Context{
		TargetUser: to.UserID,
		AppID:      to.AppID,
		Domain:     env.Domain,
		MessageID:  env.ID,
	}
	result, err := p.distributor.Distribute(ctx, env, dctx)
	if err != nil {
		return fmt.Errorf("distribute %s: %w", env.ID, err)
	}

	if result.HadNoDevices {
		p.sendErrorReply(ctx, env, ConditionRecipientUnavailable)
		return ErrRecipientNotFound
	}

	app, err := p.opts.Apps.GetApp(ctx, to.AppID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"message_id": env.ID,
			"app_id":     to.AppID,
			"error":      err,
		}).Error("App lookup failed during distribution")
	}

	if env.Droppable() && len(result.NotDistributed) > 0 {
		logrus.WithFields(logrus.Fields{
			"message_id": env.ID,
			"devices":    len(result.NotDistributed),
		}).Debug("Dropping droppable message for offline devices")
		return nil
	}

	for _, pair := range result.NotDistributed {
		stored := *env
		stored.To = []identity.Identity{pair.Identity}
		if err := p.opts.Offline.StoreMessage(ctx, &stored); err != nil {
			logrus.WithFields(logrus.Fields{
				"message_id": env.ID,
				"device_id":  pair.Device.DeviceID,
				"error":      err,
			}).Error("Failed to store message for offline device")
			continue
		}
		p.metrics.OfflineStored.Inc()

		rec := recordFor(&stored)
		p.decideWakeup(ctx, app, &pair.Device, rec)
		p.persist(ctx, rec)
	}
	return nil
}

// handleReceipt marks the original message delivered and records the
// receipt. Undecodable receipt ids are ignored per protocol: foreign
// extensions share the receipt channel.
func (p *Pipeline) handleReceipt(ctx context.Context, env *wire.Envelope) {
	origID, _, ok := p.opts.Receipts.Parse(env.ReceiptID)
	if !ok {
		logrus.WithFields(logrus.Fields{"message_id": env.ID}).Debug("Ignoring undecodable receipt")
		return
	}
	confirmingDevice := env.From.DeviceID

	p.locks.lock(confirmingDevice)
	defer p.locks.unlock(confirmingDevice)

	if err := p.opts.Records.MessageReceived(ctx, origID, confirmingDevice); err != nil {
		logrus.WithFields(logrus.Fields{
			"message_id": origID,
			"device_id":  confirmingDevice,
			"error":      err,
		}).Error("Failed to mark message received")
	}

	rec := recordFor(env)
	rec.Type = store.RecordReceipt
	rec.SourceMessageID = origID
	rec.State = store.StateDeliveryAttempted
	if err := p.opts.Records.Persist(ctx, rec); err != nil {
		logrus.WithFields(logrus.Fields{
			"message_id": env.ID,
			"error":      err,
		}).Error("Failed to persist receipt record")
	}
}

// handleDirect is the default stage: an incoming non-receipt message
// for one specific device.
func (p *Pipeline) handleDirect(ctx context.Context, env *wire.Envelope, to identity.Identity) (Outcome, error) {
	if !p.opts.Limiter.Allow(to.AppID, RateCategory) {
		limit := p.opts.Limiter.Limit()
		logrus.WithFields(logrus.Fields{
			"app_id": to.AppID,
			"limit":  limit,
		}).Error("Max inbound message rate reached")
		p.opts.Alerts.Post(event.RateExceeded{AppID: to.AppID, Limit: limit})
		p.metrics.AdmissionRejected.WithLabelValues(to.AppID).Inc()
		return OutcomeStop, fmt.Errorf("%w: app %s at limit %d", ErrAdmissionRejected, to.AppID, limit)
	}

	var device *store.DeviceEndpoint
	if to.DeviceID != "" && to.AppID != "" {
		dev, err := p.opts.Devices.GetDevice(ctx, to.AppID, to.DeviceID)
		if err != nil {
			// Lookup failures fail closed: the sender must hear
			// something, so treat the device as missing.
			logrus.WithFields(logrus.Fields{
				"app_id":    to.AppID,
				"device_id": to.DeviceID,
				"error":     err,
			}).Error("No usable device for direct message, sending error reply")
			p.sendErrorReply(ctx, env, ConditionItemNotFound)
			return OutcomeStop, fmt.Errorf("%w: device %s", ErrRecipientNotFound, to.DeviceID)
		}
		device = dev
	}

	online, err := p.opts.Presence.IsOnline(ctx, to)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"message_id": env.ID,
			"device_id":  to.DeviceID,
			"error":      err,
		}).Warn("Presence check failed, treating device as offline")
		online = false
	}

	rec := recordFor(env)
	if online {
		rec.State = store.StateDeliveryAttempted
		p.persist(ctx, rec)
		p.metrics.Inbound.WithLabelValues("delivery_attempted").Inc()
		return OutcomeContinue, nil
	}

	if env.Droppable() {
		logrus.WithFields(logrus.Fields{
			"message_id": env.ID,
			"device_id":  to.DeviceID,
		}).Debug("Recipient offline, dropping droppable message")
		p.metrics.Inbound.WithLabelValues("dropped_offline").Inc()
		return OutcomeStop, nil
	}

	if err := p.opts.Offline.StoreMessage(ctx, env); err != nil {
		logrus.WithFields(logrus.Fields{
			"message_id": env.ID,
			"error":      err,
		}).Error("Failed to store message for offline device, sending error reply")
		p.sendErrorReply(ctx, env, ConditionItemNotFound)
		return OutcomeStop, fmt.Errorf("%w: offline store failed for %s", ErrRecipientNotFound, to.DeviceID)
	}
	p.metrics.OfflineStored.Inc()

	var app *store.App
	if device.CanWake() {
		app, err = p.opts.Apps.GetApp(ctx, to.AppID)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"app_id": to.AppID,
				"error":  err,
			}).Error("App lookup failed for wakeup")
			app = nil
		}
	}
	p.decideWakeup(ctx, app, device, rec)
	p.persist(ctx, rec)
	p.metrics.Inbound.WithLabelValues("stored_offline").Inc()
	return OutcomeStop, nil
}

// decideWakeup applies the wakeup-vs-pending decision for an offline
// device and sets the record state accordingly. The decision happens
// once per (message, device) pair; the dedup wrapper enforces it even
// across re-delivery attempts.
func (p *Pipeline) decideWakeup(ctx context.Context, app *store.App, device *store.DeviceEndpoint, rec *store.MessageRecord) {
	if device.CanWake() && app != nil {
		if err := p.wakeups.QueueWakeup(ctx, app, device, rec.MessageID); err != nil {
			logrus.WithFields(logrus.Fields{
				"message_id": rec.MessageID,
				"device_id":  device.DeviceID,
				"error":      err,
			}).Error("Failed to enqueue wakeup, leaving message pending")
			rec.State = store.StatePending
			return
		}
		rec.State = store.StateWakeupRequired
		p.metrics.WakeupsEnqueued.Inc()
		return
	}
	logrus.WithFields(logrus.Fields{
		"message_id": rec.MessageID,
		"device_id":  rec.DeviceID,
	}).Debug("Wakeup not possible for device")
	rec.State = store.StatePending
}

// persist writes the record under the device's key lock so concurrent
// messages for one device cannot interleave state transitions.
func (p *Pipeline) persist(ctx context.Context, rec *store.MessageRecord) {
	p.locks.lock(rec.DeviceID)
	defer p.locks.unlock(rec.DeviceID)
	if err := p.opts.Records.Persist(ctx, rec); err != nil {
		logrus.WithFields(logrus.Fields{
			"message_id": rec.MessageID,
			"device_id":  rec.DeviceID,
			"error":      err,
		}).Error("Failed to persist message record")
	}
}

// sendErrorReply sends an error envelope back to the originator. Reply
// failures are logged; the rejection still stands.
func (p *Pipeline) sendErrorReply(ctx context.Context, original *wire.Envelope, condition string) {
	reply := &wire.Envelope{
		ID:     uuid.NewString(),
		Domain: original.Domain,
		From:   original.Recipient(),
		To:     []identity.Identity{original.From},
		Type:   wire.TypeError,
		Body:   condition,
	}
	if err := p.opts.Replies.Send(ctx, reply); err != nil {
		logrus.WithFields(logrus.Fields{
			"message_id": original.ID,
			"condition":  condition,
			"error":      err,
		}).Error("Failed to send error reply")
		return
	}
	p.metrics.ErrorRepliesSent.Inc()
}

// recordFor builds the base record for an envelope's sole recipient.
func recordFor(env *wire.Envelope) *store.MessageRecord {
	to := env.Recipient()
	return &store.MessageRecord{
		MessageID: env.ID,
		AppID:     to.AppID,
		From:      env.From.String(),
		To:        to.String(),
		DeviceID:  to.DeviceID,
	}
}
