// Package wakeup schedules push wakeups for offline devices.
//
// The core only decides whether and when to trigger a wakeup; actually
// contacting a push provider is the scheduler backend's job. Enqueueing
// is fire-and-forget and must happen at most once per
// (message, device) pair; Deduper makes that invariant a data
// structure instead of call-site discipline.
package wakeup

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/store"
)

// Scheduler queues one wakeup request for a device.
type Scheduler interface {
	QueueWakeup(ctx context.Context, app *store.App, dev *store.DeviceEndpoint, messageID string) error
}

// Deduper wraps a Scheduler and drops repeat enqueues for the same
// (message, device) pair.
type Deduper struct {
	next Scheduler

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDeduper wraps next with in-memory (message, device) tracking.
func NewDeduper(next Scheduler) *Deduper {
	return &Deduper{next: next, seen: make(map[string]struct{})}
}

// QueueWakeup implements Scheduler. The second and later calls for a
// pair are no-ops.
func (d *Deduper) QueueWakeup(ctx context.Context, app *store.App, dev *store.DeviceEndpoint, messageID string) error {
	key := messageID + "\x00" + dev.DeviceID
	d.mu.Lock()
	if _, dup := d.seen[key]; dup {
		d.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"message_id": messageID,
			"device_id":  dev.DeviceID,
		}).Debug("Suppressing duplicate wakeup enqueue")
		return nil
	}
	d.seen[key] = struct{}{}
	d.mu.Unlock()

	if err := d.next.QueueWakeup(ctx, app, dev, messageID); err != nil {
		// Let a retry through if the backend rejected the enqueue.
		d.mu.Lock()
		delete(d.seen, key)
		d.mu.Unlock()
		return err
	}
	return nil
}

// Recorder is a Scheduler that only records requests, for tests and
// dry-run deployments.
type Recorder struct {
	mu       sync.Mutex
	requests []Request
}

// Request is one recorded wakeup enqueue.
type Request struct {
	AppID     string
	DeviceID  string
	MessageID string
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// QueueWakeup implements Scheduler.
func (r *Recorder) QueueWakeup(_ context.Context, app *store.App, dev *store.DeviceEndpoint, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, Request{AppID: app.AppID, DeviceID: dev.DeviceID, MessageID: messageID})
	return nil
}

// Requests returns a copy of the recorded enqueues.
func (r *Recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Request, len(r.requests))
	copy(out, r.requests)
	return out
}
