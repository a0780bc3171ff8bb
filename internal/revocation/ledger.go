package revocation

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "blacklist:"

// Ledger is the redis-backed blacklist of token identifiers. Entries carry a
// TTL at least as long as the remaining validity of the token they revoke,
// so a revocation stays visible until the token would have expired anyway.
// Entries are never deleted explicitly; redis expiry handles cleanup.
type Ledger struct {
	client *redis.Client
}

func NewLedger(client *redis.Client) *Ledger {
	return &Ledger{client: client}
}

// Revoke marks tokenID revoked for ttl. TTLs are floored to one second so a
// token about to expire still gets a visible entry.
func (l *Ledger) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl < time.Second {
		ttl = time.Second
	}
	return l.client.Set(ctx, keyPrefix+tokenID, "revoked", ttl).Err()
}

func (l *Ledger) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := l.client.Exists(ctx, keyPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
