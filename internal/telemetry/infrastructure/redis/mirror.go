package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"smarthub-telemetry/internal/eventing"
	telemetry "smarthub-telemetry/internal/telemetry/domain"
)

const (
	keyPrefix  = "hub:snapshot:"
	defaultTTL = 24 * time.Hour
)

// KV is the subset of the redis client used by the mirror.
type KV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// SnapshotMirror keeps the latest snapshot of every hub for dashboards.
// Entries expire so hubs that stop reporting disappear.
type SnapshotMirror struct {
	kv  KV
	ttl time.Duration
}

// NewSnapshotMirror constructs a mirror. ttl <= 0 uses 24h.
func NewSnapshotMirror(kv KV, ttl time.Duration) (*SnapshotMirror, error) {
	if kv == nil {
		return nil, errors.New("redis: nil client")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &SnapshotMirror{kv: kv, ttl: ttl}, nil
}

// Key returns the redis key of hubID.
func Key(hubID string) string {
	return keyPrefix + hubID
}

// PublishSnapshot overwrites the stored snapshot of the hub.
func (m *SnapshotMirror) PublishSnapshot(ctx context.Context, snapshot telemetry.HubSnapshot) error {
	data, err := eventing.EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	if err := m.kv.Set(ctx, Key(snapshot.HubID), data, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", Key(snapshot.HubID), err)
	}
	return nil
}

// Latest returns the stored snapshot of hubID, or false when none is stored.
func (m *SnapshotMirror) Latest(ctx context.Context, hubID string) (telemetry.HubSnapshot, bool, error) {
	data, err := m.kv.Get(ctx, Key(hubID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return telemetry.HubSnapshot{}, false, nil
	}
	if err != nil {
		return telemetry.HubSnapshot{}, false, fmt.Errorf("redis: get %s: %w", Key(hubID), err)
	}
	snapshot, err := eventing.DecodeSnapshot(data)
	if err != nil {
		return telemetry.HubSnapshot{}, false, err
	}
	return snapshot, true, nil
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis: empty address")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return client, nil
}
