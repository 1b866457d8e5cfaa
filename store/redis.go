package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/opd-ai/courier/wire"
)

// Redis implements RecordStore and OfflineStore on a Redis backend.
// Records live in a hash per message id keyed by device id; offline
// envelopes are pushed onto a list per (app, device) so the delivery
// worker can drain them in arrival order.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed store. An empty prefix defaults to
// "courier".
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "courier"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) recordKey(messageID string) string {
	return r.prefix + ":msg:" + messageID
}

func (r *Redis) offlineKey(appID, deviceID string) string {
	return r.prefix + ":offline:" + appID + ":" + deviceID
}

// Persist implements RecordStore.
func (r *Redis) Persist(ctx context.Context, rec *MessageRecord) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := r.client.HSet(ctx, r.recordKey(rec.MessageID), rec.DeviceID, data).Err(); err != nil {
		return fmt.Errorf("persist record %s/%s: %w", rec.MessageID, rec.DeviceID, err)
	}
	return nil
}

// MessageReceived implements RecordStore.
func (r *Redis) MessageReceived(ctx context.Context, messageID, deviceID string) error {
	key := r.recordKey(messageID)
	raw, err := r.client.HGet(ctx, key, deviceID).Bytes()
	if err == redis.Nil {
		// Receipt for a message this node never recorded. Not an error:
		// the record may belong to another node's retention window.
		logrus.WithFields(logrus.Fields{
			"message_id": messageID,
			"device_id":  deviceID,
		}).Debug("Receipt for unknown message record")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load record %s/%s: %w", messageID, deviceID, err)
	}

	var rec MessageRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("decode record %s/%s: %w", messageID, deviceID, err)
	}
	rec.State = StateDelivered
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return r.client.HSet(ctx, key, deviceID, data).Err()
}

// ByMessage implements RecordStore.
func (r *Redis) ByMessage(ctx context.Context, messageID string) ([]MessageRecord, error) {
	vals, err := r.client.HGetAll(ctx, r.recordKey(messageID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load records for %s: %w", messageID, err)
	}
	out := make([]MessageRecord, 0, len(vals))
	for deviceID, raw := range vals {
		var rec MessageRecord
		if err := msgpack.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode record %s/%s: %w", messageID, deviceID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// StoreMessage implements OfflineStore. The envelope must be addressed
// to a single full identity by the time it is stored.
func (r *Redis) StoreMessage(ctx context.Context, env *wire.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", env.ID, err)
	}
	to := env.Recipient()
	if err := r.client.RPush(ctx, r.offlineKey(to.AppID, to.DeviceID), data).Err(); err != nil {
		return fmt.Errorf("store envelope %s: %w", env.ID, err)
	}
	return nil
}
