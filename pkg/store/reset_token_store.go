package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type resetGrant struct {
	userID int64
	expiry time.Time
}

// MemoryResetTokenStore keeps password reset tokens in memory (single instance only).
type MemoryResetTokenStore struct {
	mu     sync.Mutex
	grants map[string]resetGrant // tokenHash -> grant
	now    func() time.Time
}

// NewMemoryResetTokenStore constructs an in-memory reset token store.
func NewMemoryResetTokenStore() *MemoryResetTokenStore {
	return &MemoryResetTokenStore{
		grants: make(map[string]resetGrant),
		now:    time.Now,
	}
}

// NewToken issues a reset token for userID valid for ttl.
func (s *MemoryResetTokenStore) NewToken(_ context.Context, userID int64, ttl time.Duration) (string, error) {
	token, err := generateResetToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.grants[resetTokenHash(token)] = resetGrant{userID: userID, expiry: s.now().Add(ttl)}
	s.mu.Unlock()
	return token, nil
}

// ConsumeToken redeems a token once. Expired or unknown tokens report false.
func (s *MemoryResetTokenStore) ConsumeToken(_ context.Context, token string) (int64, bool, error) {
	hash := resetTokenHash(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[hash]
	if !ok {
		return 0, false, nil
	}
	delete(s.grants, hash)
	if s.now().After(grant.expiry) {
		return 0, false, nil
	}
	return grant.userID, true, nil
}

// RedisResetTokenStore stores reset tokens in Redis with TTL.
type RedisResetTokenStore struct {
	client *redis.Client
}

// NewRedisResetTokenStore builds a Redis-backed reset token store.
func NewRedisResetTokenStore(addr, password string) *RedisResetTokenStore {
	return &RedisResetTokenStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// NewToken issues a reset token for userID valid for ttl.
func (s *RedisResetTokenStore) NewToken(ctx context.Context, userID int64, ttl time.Duration) (string, error) {
	token, err := generateResetToken()
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, resetTokenRedisKey(resetTokenHash(token)), userID, ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// ConsumeToken redeems a token once using GETDEL.
func (s *RedisResetTokenStore) ConsumeToken(ctx context.Context, token string) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	raw, err := s.client.GetDel(ctx, resetTokenRedisKey(resetTokenHash(token))).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt reset token payload: %w", err)
	}
	return userID, true, nil
}

// Close releases the Redis client.
func (s *RedisResetTokenStore) Close() error {
	return s.client.Close()
}

func generateResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func resetTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func resetTokenRedisKey(tokenHash string) string {
	return fmt.Sprintf("journal:reset:%s", tokenHash)
}
