package event

import (
	natspkg "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// NATSPoster publishes events to a NATS subject per event kind:
// <prefix>.<kind>. Publish failures are logged and dropped; alerting is
// best effort and must never stall the pipeline.
type NATSPoster struct {
	nc     *natspkg.Conn
	prefix string
}

// NewNATSPoster creates a poster over an established connection.
func NewNATSPoster(nc *natspkg.Conn, prefix string) *NATSPoster {
	if prefix == "" {
		prefix = "courier.alerts"
	}
	return &NATSPoster{nc: nc, prefix: prefix}
}

// Post implements Poster.
func (p *NATSPoster) Post(ev Event) {
	data, err := msgpack.Marshal(ev)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"kind":  ev.Kind(),
			"error": err,
		}).Warn("Failed to encode alert event")
		return
	}
	if err := p.nc.Publish(p.prefix+"."+ev.Kind(), data); err != nil {
		logrus.WithFields(logrus.Fields{
			"kind":  ev.Kind(),
			"error": err,
		}).Warn("Failed to publish alert event")
	}
}
