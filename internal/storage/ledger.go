package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"terminsync/internal/partnersync"
)

const ledgerPrefix = "terminsync:sweep:"

// RedisLedger хранит последний отчёт сверки каждого владельца в Redis.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger; ttl 0 хранит отчёты без срока.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

func (l *RedisLedger) Record(ctx context.Context, r partnersync.Report) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := l.client.Set(ctx, ledgerKey(r.OwnerID), raw, l.ttl).Err(); err != nil {
		return fmt.Errorf("record sweep for owner %d: %w", r.OwnerID, err)
	}
	return nil
}

func (l *RedisLedger) Last(ctx context.Context, ownerID int64) (*partnersync.Report, error) {
	raw, err := l.client.Get(ctx, ledgerKey(ownerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sweep for owner %d: %w", ownerID, err)
	}
	var r partnersync.Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode sweep for owner %d: %w", ownerID, err)
	}
	return &r, nil
}

func ledgerKey(ownerID int64) string {
	return ledgerPrefix + strconv.FormatInt(ownerID, 10)
}
