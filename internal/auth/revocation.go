package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"starthub/submission/internal/crypto"
)

// RevocationStore records tokens invalidated before their natural expiry.
// Entries are keyed by token fingerprint and self-expire, so a revoked token
// never outlives its own expires_at in the store.
type RevocationStore struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRevocationStore(client *redis.Client, timeout time.Duration) *RevocationStore {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RevocationStore{client: client, timeout: timeout}
}

// Revoke records the token for its remaining lifetime. Re-recording the same
// token overwrites the entry with the current remaining lifetime.
func (s *RevocationStore) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Set(ctx, revokedTokenKey(token), "revoked", ttl).Err()
}

// IsRevoked is a single key lookup. Expired entries read as absent. Errors are
// returned to the caller, which must fail closed.
func (s *RevocationStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.client.Get(ctx, revokedTokenKey(token)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func revokedTokenKey(token string) string {
	return fmt.Sprintf("revoked_token:%s", crypto.HashToken(token))
}
