// Package ack implements the acknowledgment and status-query side of
// the delivery protocol.
//
// Coordinator performs the blocking round trips; Queue offloads ack
// sends to a dedicated single-worker queue so the round trip never runs
// on the goroutine delivering a message to the application.
package ack

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/identity"
	"github.com/opd-ai/courier/protocol"
)

// Coordinator sends acknowledgments and aggregates multi-device message
// status.
type Coordinator struct {
	exchanger protocol.Exchanger
	domain    string
}

// NewCoordinator creates a Coordinator over the given exchanger.
func NewCoordinator(ex protocol.Exchanger, domain string) *Coordinator {
	return &Coordinator{exchanger: ex, domain: domain}
}

// SendAck acknowledges delivery of a message. The call is idempotent
// from the caller's perspective: duplicate acks for the same message id
// are accepted by the server and yield the same terminal status.
func (c *Coordinator) SendAck(ctx context.Context, sender, receiver identity.Identity, messageID string) (*protocol.Status, error) {
	body := protocol.AckBody{
		Sender:    sender.Address(c.domain),
		Receiver:  receiver.Address(c.domain),
		MessageID: messageID,
	}
	var status protocol.Status
	if err := protocol.Call(ctx, c.exchanger, protocol.CmdAck, body, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// QueryStatus fetches per-device delivery status for a batch of message
// ids in one round trip. Ids the server returned nothing for map to a
// singleton UNKNOWN status; no requested id is ever dropped from the
// result. A transport error fails the whole batch.
func (c *Coordinator) QueryStatus(ctx context.Context, messageIDs []string) (protocol.StateResult, error) {
	var resp protocol.StateResult
	err := protocol.Call(ctx, c.exchanger, protocol.CmdQuery,
		protocol.StateQuery{MessageIDs: messageIDs}, &resp)
	if err != nil {
		return nil, fmt.Errorf("status query for %d ids: %w", len(messageIDs), err)
	}

	result := make(protocol.StateResult, len(messageIDs))
	for _, id := range messageIDs {
		if statuses, ok := resp[id]; ok && len(statuses) > 0 {
			result[id] = statuses
		} else {
			result[id] = []protocol.MessageStatus{{State: protocol.StateUnknown}}
		}
	}
	return result, nil
}

// pending is one queued ack send.
type pending struct {
	sender    identity.Identity
	receiver  identity.Identity
	messageID string
}

// Queue is a bounded work queue with a single consuming worker. When
// the queue is full, Enqueue logs a warning and blocks until space
// frees up; ordering of queued acks is preserved.
type Queue struct {
	coordinator *Coordinator
	tasks       chan pending
	done        chan struct{}

	// mu serializes sends against Close: enqueuers hold the read side
	// across their channel send, so Close cannot close the channel
	// under an in-flight send.
	mu     sync.RWMutex
	closed bool
}

// NewQueue creates the queue and starts its worker. size bounds the
// number of acks waiting to be sent.
func NewQueue(c *Coordinator, size int) *Queue {
	if size <= 0 {
		size = 64
	}
	q := &Queue{
		coordinator: c,
		tasks:       make(chan pending, size),
		done:        make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue schedules a best-effort ack send. The caller does not wait
// for the round trip. Acks enqueued after Close are dropped with a
// warning.
func (q *Queue) Enqueue(sender, receiver identity.Identity, messageID string) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		logrus.WithFields(logrus.Fields{
			"message_id": messageID,
		}).Warn("Ack queue closed, dropping ack")
		return
	}

	task := pending{sender: sender, receiver: receiver, messageID: messageID}
	select {
	case q.tasks <- task:
	default:
		logrus.WithFields(logrus.Fields{
			"message_id": messageID,
			"queue_size": cap(q.tasks),
		}).Warn("Ack queue full, blocking enqueue")
		q.tasks <- task
	}
}

// Close stops accepting acks, drains what is queued, and waits for the
// worker to finish. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	<-q.done
}

// run is the single consumer: at most one ack round trip is in flight
// at a time, preserving send order.
func (q *Queue) run() {
	defer close(q.done)
	for task := range q.tasks {
		if _, err := q.coordinator.SendAck(context.Background(), task.sender, task.receiver, task.messageID); err != nil {
			logrus.WithFields(logrus.Fields{
				"message_id": task.messageID,
				"error":      err,
			}).Warn("Best-effort ack send failed")
		}
	}
}
