package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := NewAccessToken("secret", "vrisa", time.Minute, Claims{
		AccountID:  42,
		Email:      "ana@example.com",
		Role:       "researcher",
		IsAuthUser: true,
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := ParseToken("secret", "vrisa", token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}

	if claims.AccountID != 42 || claims.Email != "ana@example.com" || !claims.IsAuthUser {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Subject != "42" {
		t.Errorf("Expected subject 42, got %q", claims.Subject)
	}
	if claims.ID == "" {
		t.Error("Expected a token id")
	}
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := NewAccessToken("secret", "vrisa", time.Minute, Claims{AccountID: 1})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	expired, err := NewAccessToken("secret", "vrisa", -time.Minute, Claims{AccountID: 1})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{AccountID: 1}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	tests := []struct {
		name   string
		secret string
		issuer string
		token  string
	}{
		{"wrong secret", "other", "vrisa", valid},
		{"wrong issuer", "secret", "someone-else", valid},
		{"expired", "secret", "vrisa", expired},
		{"none algorithm", "secret", "vrisa", unsigned},
		{"garbage", "secret", "vrisa", "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.secret, tt.issuer, tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("citizen123")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if strings.Contains(hash, "citizen123") {
		t.Error("Expected hash not to contain the password")
	}
	if !CheckPassword("citizen123", hash) {
		t.Error("Expected password to verify")
	}
	if CheckPassword("citizen124", hash) {
		t.Error("Expected wrong password to fail")
	}

	if _, err := HashPassword("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Errorf("Expected ErrPasswordTooShort, got %v", err)
	}
}

type fakeRedis struct {
	values map[string]time.Duration
	err    error
}

func (f *fakeRedis) Set(_ context.Context, key string, _ interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRevocations(t *testing.T) {
	kv := &fakeRedis{values: map[string]time.Duration{}}
	r := NewRevocations(kv)
	ctx := context.Background()

	if err := r.Revoke(ctx, "abc", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	ttl, ok := kv.values["revoked_token:abc"]
	if !ok {
		t.Fatal("Expected revocation key to be set")
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("Expected TTL within an hour, got %v", ttl)
	}

	revoked, err := r.IsRevoked(ctx, "abc")
	if err != nil || !revoked {
		t.Errorf("Expected revoked, got %v (%v)", revoked, err)
	}
	revoked, err = r.IsRevoked(ctx, "other")
	if err != nil || revoked {
		t.Errorf("Expected not revoked, got %v (%v)", revoked, err)
	}

	if err := r.Revoke(ctx, "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke of expired token failed: %v", err)
	}
	if _, ok := kv.values["revoked_token:old"]; ok {
		t.Error("Expected no key for an already expired token")
	}
}

func TestRevocations_RedisError(t *testing.T) {
	r := NewRevocations(&fakeRedis{err: errors.New("connection refused")})

	if _, err := r.IsRevoked(context.Background(), "abc"); err == nil {
		t.Error("Expected error from IsRevoked")
	}
}
