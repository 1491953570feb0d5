package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no record matches the presented token.
	ErrNotFound = errors.New("refresh token not found")
	// ErrExpired is returned when the presented token is past its expiry.
	ErrExpired = errors.New("refresh token expired")
	// ErrRevoked is returned when the presented token was already rotated or
	// revoked.
	ErrRevoked = errors.New("refresh token revoked")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("refresh token store unavailable")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("refresh token record corrupt")
)

// Store persists refresh token records. Implementations must make Rotate
// atomic across every process sharing the backend.
type Store interface {
	Create(ctx context.Context, token *RefreshToken) error
	Lookup(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// Rotate revokes the record for presentedHash and persists successor in
	// the same lineage. successor.UserID and successor.FamilyID are filled
	// from the presented record. The presented record is returned as it was
	// before rotation.
	Rotate(ctx context.Context, presentedHash string, successor *RefreshToken, now time.Time) (*RefreshToken, error)
	// Revoke marks one record revoked. Revoking an already revoked record
	// returns ErrRevoked with the record.
	Revoke(ctx context.Context, tokenHash string, now time.Time) (*RefreshToken, error)
	// RevokeAllForUser revokes every live record of userID and returns how
	// many were live.
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int, error)
}

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusRevoked  int64 = 2
	rotateStatusRotated  int64 = 3
)

// Records are hashes keyed by token digest. Each user has a set of the
// digests that may still be live. Every key a script touches arrives in KEYS,
// and all keys share the store's hash tag, so one store maps to one cluster
// slot.
const rotateRefreshScript = `
local old_key = KEYS[1]
local new_key = KEYS[2]
local user_key = KEYS[3]
local user_id = ARGV[1]
local now_ms = tonumber(ARGV[2])
local old_hash = ARGV[3]
local new_hash = ARGV[4]
local new_id = ARGV[5]
local new_expires = tonumber(ARGV[6])
local retain_ms = tonumber(ARGV[7])

local f = redis.call("HMGET", old_key, "id", "user_id", "family_id", "created_at", "expires_at", "revoked_at", "replaced_by")
if not f[1] or f[2] ~= user_id then
  return {0}
end
if f[6] and f[6] ~= "" then
  return {2, f[1], f[2], f[3], f[4], f[5], f[6], f[7] or ""}
end
if tonumber(f[5]) <= now_ms then
  return {1, f[1], f[2], f[3], f[4], f[5], "", ""}
end

redis.call("HSET", old_key, "revoked_at", ARGV[2], "replaced_by", new_id)
redis.call("HSET", new_key,
  "id", new_id,
  "user_id", f[2],
  "family_id", f[3],
  "created_at", ARGV[2],
  "expires_at", ARGV[6],
  "revoked_at", "",
  "replaced_by", "")
redis.call("PEXPIRE", new_key, new_expires - now_ms + retain_ms)

redis.call("SREM", user_key, old_hash)
redis.call("SADD", user_key, new_hash)
redis.call("PEXPIRE", user_key, new_expires - now_ms + retain_ms)

return {3, f[1], f[2], f[3], f[4], f[5], "", ""}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

const revokeRefreshScript = `
local f = redis.call("HMGET", KEYS[1], "id", "user_id", "family_id", "created_at", "expires_at", "revoked_at", "replaced_by")
if not f[1] or f[2] ~= ARGV[1] then
  return {0}
end
if f[6] and f[6] ~= "" then
  return {2, f[1], f[2], f[3], f[4], f[5], f[6], f[7] or ""}
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[2])
redis.call("SREM", KEYS[2], ARGV[3])
return {3, f[1], f[2], f[3], f[4], f[5], ARGV[2], f[7] or ""}
`

var revokeRefreshLua = redis.NewScript(revokeRefreshScript)

// KEYS[1] is the user set; KEYS[i] for i > 1 is the record of ARGV[i].
const revokeAllScript = `
local revoked = 0
for i = 2, #KEYS do
  if redis.call("SREM", KEYS[1], ARGV[i]) == 1 then
    local at = redis.call("HGET", KEYS[i], "revoked_at")
    if at == "" then
      redis.call("HSET", KEYS[i], "revoked_at", ARGV[1])
      revoked = revoked + 1
    end
  end
end
local left = redis.call("SCARD", KEYS[1])
if left == 0 then
  redis.call("DEL", KEYS[1])
end
return {revoked, left}
`

var revokeAllLua = redis.NewScript(revokeAllScript)

// revokeAllRounds bounds how often RevokeAllForUser chases tokens created
// while it runs.
const revokeAllRounds = 4

// RedisStore implements Store with Redis hashes and Lua scripts.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	// retain keeps revoked and expired records around after expiry so that
	// replays are reported as revoked rather than unknown.
	retain time.Duration
}

// NewRedisStore returns a Redis-backed Store. retain is how long records
// outlive their expiry.
// Keys are written as {prefix}:rt:<digest> and {prefix}:rtu:<user id>.
func NewRedisStore(client redis.UniversalClient, prefix string, retain time.Duration) *RedisStore {
	if retain < 0 {
		retain = 0
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisStore{redis: client, prefix: prefix, retain: retain}
}

const defaultPrefix = "authcore"

func (s *RedisStore) tokenPrefix() string {
	return "{" + s.prefix + "}:rt:"
}

func (s *RedisStore) userPrefix() string {
	return "{" + s.prefix + "}:rtu:"
}

// owner reads the user id of a record. It never changes after Create, so
// reading it ahead of a script is safe.
func (s *RedisStore) owner(ctx context.Context, tokenHash string) (string, error) {
	userID, err := s.redis.HGet(ctx, s.key(tokenHash), "user_id").Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrNotFound
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	case userID == "":
		return "", ErrCorrupt
	}
	return userID, nil
}

func (s *RedisStore) key(hash string) string {
	return s.tokenPrefix() + hash
}

func (s *RedisStore) userKey(userID string) string {
	return s.userPrefix() + userID
}

func (s *RedisStore) Create(ctx context.Context, token *RefreshToken) error {
	if token == nil || token.TokenHash == "" || token.UserID == "" {
		return errors.New("refresh token record requires hash and user id")
	}

	ttl := time.Until(token.ExpiresAt)
	if !token.CreatedAt.IsZero() {
		ttl = token.ExpiresAt.Sub(token.CreatedAt)
	}
	ttl += s.retain
	if ttl <= 0 {
		ttl = time.Second
	}

	key := s.key(token.TokenHash)
	userKey := s.userKey(token.UserID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", token.ID,
			"user_id", token.UserID,
			"family_id", token.FamilyID,
			"created_at", strconv.FormatInt(token.CreatedAt.UnixMilli(), 10),
			"expires_at", strconv.FormatInt(token.ExpiresAt.UnixMilli(), 10),
			"revoked_at", "",
			"replaced_by", "",
		)
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, userKey, token.TokenHash)
		pipe.PExpire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	return decodeRecord(tokenHash, []string{
		fields["id"],
		fields["user_id"],
		fields["family_id"],
		fields["created_at"],
		fields["expires_at"],
		fields["revoked_at"],
		fields["replaced_by"],
	})
}

func (s *RedisStore) Rotate(ctx context.Context, presentedHash string, successor *RefreshToken, now time.Time) (*RefreshToken, error) {
	if successor == nil || successor.TokenHash == "" || successor.ID == "" {
		return nil, errors.New("successor record requires hash and id")
	}

	userID, err := s.owner(ctx, presentedHash)
	if err != nil {
		return nil, err
	}

	res, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(presentedHash), s.key(successor.TokenHash), s.userKey(userID)},
		userID,
		strconv.FormatInt(now.UnixMilli(), 10),
		presentedHash,
		successor.TokenHash,
		successor.ID,
		strconv.FormatInt(successor.ExpiresAt.UnixMilli(), 10),
		strconv.FormatInt(s.retain.Milliseconds(), 10),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	status, prev, err := decodeScriptResult(presentedHash, res)
	if err != nil {
		return nil, err
	}

	switch status {
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusExpired:
		return prev, ErrExpired
	case rotateStatusRevoked:
		return prev, ErrRevoked
	case rotateStatusRotated:
		successor.UserID = prev.UserID
		successor.FamilyID = prev.FamilyID
		successor.CreatedAt = time.UnixMilli(now.UnixMilli())
		return prev, nil
	default:
		return nil, fmt.Errorf("%w: unexpected rotate status %d", ErrCorrupt, status)
	}
}

func (s *RedisStore) Revoke(ctx context.Context, tokenHash string, now time.Time) (*RefreshToken, error) {
	userID, err := s.owner(ctx, tokenHash)
	if err != nil {
		return nil, err
	}

	res, err := revokeRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.key(tokenHash), s.userKey(userID)},
		userID,
		strconv.FormatInt(now.UnixMilli(), 10),
		tokenHash,
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	status, rec, err := decodeScriptResult(tokenHash, res)
	if err != nil {
		return nil, err
	}

	switch status {
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusRevoked:
		return rec, ErrRevoked
	default:
		return rec, nil
	}
}

func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int, error) {
	userKey := s.userKey(userID)
	at := strconv.FormatInt(now.UnixMilli(), 10)

	total := 0
	for round := 0; round < revokeAllRounds; round++ {
		members, err := s.redis.SMembers(ctx, userKey).Result()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(members) == 0 {
			return total, nil
		}

		keys := make([]string, 0, len(members)+1)
		args := make([]interface{}, 0, len(members)+1)
		keys = append(keys, userKey)
		args = append(args, at)
		for _, hash := range members {
			keys = append(keys, s.key(hash))
			args = append(args, hash)
		}

		res, err := revokeAllLua.Run(ctx, s.redis, keys, args...).Int64Slice()
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if len(res) != 2 {
			return total, ErrCorrupt
		}
		total += int(res[0])
		if res[1] == 0 {
			return total, nil
		}
	}
	return total, nil
}

func decodeScriptResult(hash string, res interface{}) (int64, *RefreshToken, error) {
	values, ok := res.([]interface{})
	if !ok || len(values) == 0 {
		return 0, nil, ErrCorrupt
	}
	status, ok := values[0].(int64)
	if !ok {
		return 0, nil, ErrCorrupt
	}
	if status == rotateStatusNotFound {
		return status, nil, nil
	}
	if len(values) != 8 {
		return 0, nil, ErrCorrupt
	}

	fields := make([]string, 7)
	for i := range fields {
		s, _ := values[i+1].(string)
		fields[i] = s
	}

	rec, err := decodeRecord(hash, fields)
	if err != nil {
		return 0, nil, err
	}
	return status, rec, nil
}

// decodeRecord expects id, user_id, family_id, created_at, expires_at,
// revoked_at, replaced_by.
func decodeRecord(hash string, f []string) (*RefreshToken, error) {
	if f[0] == "" || f[1] == "" {
		return nil, ErrCorrupt
	}
	created, err := strconv.ParseInt(f[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: created_at", ErrCorrupt)
	}
	expires, err := strconv.ParseInt(f[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: expires_at", ErrCorrupt)
	}

	rec := &RefreshToken{
		ID:         f[0],
		UserID:     f[1],
		FamilyID:   f[2],
		TokenHash:  hash,
		CreatedAt:  time.UnixMilli(created),
		ExpiresAt:  time.UnixMilli(expires),
		ReplacedBy: f[6],
	}
	if f[5] != "" {
		revoked, err := strconv.ParseInt(f[5], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: revoked_at", ErrCorrupt)
		}
		at := time.UnixMilli(revoked)
		rec.RevokedAt = &at
	}
	return rec, nil
}
