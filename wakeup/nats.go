package wakeup

import (
	"context"
	"fmt"
	"time"

	natspkg "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/opd-ai/courier/store"
)

// Job is the wakeup request published for the push sender fleet.
type Job struct {
	AppID     string    `msgpack:"app_id"`
	DeviceID  string    `msgpack:"device_id"`
	PushToken string    `msgpack:"push_token"`
	MessageID string    `msgpack:"message_id"`
	QueuedAt  time.Time `msgpack:"queued_at"`
}

// NATSScheduler publishes wakeup jobs on a per-app subject:
// <prefix>.<appID>.
type NATSScheduler struct {
	nc     *natspkg.Conn
	prefix string
}

// NewNATSScheduler creates a scheduler over an established connection.
// An empty prefix defaults to "courier.wakeup".
func NewNATSScheduler(nc *natspkg.Conn, prefix string) *NATSScheduler {
	if prefix == "" {
		prefix = "courier.wakeup"
	}
	return &NATSScheduler{nc: nc, prefix: prefix}
}

// QueueWakeup implements Scheduler.
func (s *NATSScheduler) QueueWakeup(_ context.Context, app *store.App, dev *store.DeviceEndpoint, messageID string) error {
	job := Job{
		AppID:     app.AppID,
		DeviceID:  dev.DeviceID,
		PushToken: dev.PushToken,
		MessageID: messageID,
		QueuedAt:  time.Now().UTC(),
	}
	data, err := msgpack.Marshal(&job)
	if err != nil {
		return fmt.Errorf("encode wakeup job: %w", err)
	}
	if err := s.nc.Publish(s.prefix+"."+app.AppID, data); err != nil {
		return fmt.Errorf("publish wakeup job: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"app_id":     app.AppID,
		"device_id":  dev.DeviceID,
		"message_id": messageID,
	}).Debug("Wakeup job queued")
	return nil
}
