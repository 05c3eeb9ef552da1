package auth

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func openTestRedis(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
		return nil
	}
	return client
}

func TestRevocationRoundTrip(t *testing.T) {
	client := openTestRedis(t)
	if client == nil {
		return
	}
	defer client.Close()

	store := NewRevocationStore(client, 2*time.Second)
	ctx := context.Background()

	token := "test-token-" + time.Now().Format("150405.000000000")
	revoked, err := store.IsRevoked(ctx, token)
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	if revoked {
		t.Fatalf("expected fresh token not revoked")
	}

	if err := store.Revoke(ctx, token, time.Minute); err != nil {
		t.Fatalf("revoke error: %v", err)
	}
	revoked, err = store.IsRevoked(ctx, token)
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	if !revoked {
		t.Fatalf("expected token revoked")
	}

	// A different token for the same user stays valid.
	revoked, err = store.IsRevoked(ctx, token+"-other")
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	if revoked {
		t.Fatalf("expected other token not revoked")
	}
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	client := openTestRedis(t)
	if client == nil {
		return
	}
	defer client.Close()

	store := NewRevocationStore(client, 2*time.Second)
	ctx := context.Background()

	token := "expired-token-" + time.Now().Format("150405.000000000")
	if err := store.Revoke(ctx, token, -time.Second); err != nil {
		t.Fatalf("revoke error: %v", err)
	}
	revoked, err := store.IsRevoked(ctx, token)
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	if revoked {
		t.Fatalf("expected no entry for an already expired token")
	}
}
