package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/outpost/internal/ir"
)

// DefaultKeyPrefix namespaces every key Redis writes.
const DefaultKeyPrefix = "outpost:"

// maxWatchRetries bounds optimistic-lock retries in PushEvent.
const maxWatchRetries = 5

// Redis is a remote authority stored in Redis. Each event is a JSON string
// under <prefix>event:<id>, and <prefix>events is the set of known IDs.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates an authority on client. An empty prefix uses DefaultKeyPrefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) eventKey(id string) string {
	return r.prefix + "event:" + id
}

func (r *Redis) indexKey() string {
	return r.prefix + "events"
}

// GetEvent returns the stored version of id, or ErrNotFound.
func (r *Redis) GetEvent(ctx context.Context, id string) (ir.Event, error) {
	data, err := r.client.Get(ctx, r.eventKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ir.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return ir.Event{}, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	return decodeEvent(data)
}

// PushEvent stores ev. The read-compare-write runs under WATCH so concurrent
// pushers of the same ID cannot interleave.
func (r *Redis) PushEvent(ctx context.Context, ev ir.Event) error {
	wire := ev.Wire()
	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", ev.ID, err)
	}

	key := r.eventKey(ev.ID)
	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			stored, err := decodeEvent(existing)
			if err != nil {
				return err
			}
			if skip, err := compareStored(stored, wire); skip || err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, r.indexKey(), ev.ID)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to push event %s: %w", ev.ID, err)
		}
		return nil
	}
	return fmt.Errorf("failed to push event %s: too much contention", ev.ID)
}

// Len returns the number of stored events.
func (r *Redis) Len(ctx context.Context) (int64, error) {
	n, err := r.client.SCard(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// IDs returns every stored event ID.
func (r *Redis) IDs(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return ids, nil
}

func decodeEvent(data []byte) (ir.Event, error) {
	var ev ir.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return ir.Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return ev, nil
}

// compareStored decides what to do with an incoming version when one is
// already stored: skip identical content, reject an older clock, otherwise
// overwrite.
func compareStored(stored, incoming ir.Event) (skip bool, err error) {
	if stored.Hash == incoming.Hash {
		return true, nil
	}
	if incoming.Clock.Before(stored.Clock) {
		return false, fmt.Errorf("%w: %s", ErrStale, incoming.ID)
	}
	return false, nil
}
