package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when the session key does not exist.
var ErrNotFound = errors.New("session not found")

// ErrExpired is returned when the session record exists but its absolute
// deadline has passed. The record is deleted as a side effect.
var ErrExpired = errors.New("session expired")

// ErrFingerprintMismatch is returned when the presented refresh fingerprint
// does not match the stored one. The session is revoked as a side effect
// because a mismatch on a live session indicates token reuse.
var ErrFingerprintMismatch = errors.New("refresh fingerprint mismatch")

// ErrCorrupt is returned when a stored record fails to decode.
var ErrCorrupt = errors.New("session record corrupt")

// ErrUnavailable is returned when Redis cannot be reached.
var ErrUnavailable = errors.New("session store unavailable")

const minSlidingTTL = time.Second

const (
	rotateStatusNotFound    int64 = 0
	rotateStatusExpired     int64 = 1
	rotateStatusMismatch    int64 = 2
	rotateStatusRotated     int64 = 3
	rotateStatusInvalidBlob int64 = 4
)

const (
	touchStatusNotFound    int64 = 0
	touchStatusTouched     int64 = 1
	touchStatusInvalidBlob int64 = 2
)

const revokeScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
  local count = tonumber(redis.call("GET", KEYS[3]) or "0")
  if count > 1 then
    redis.call("DECR", KEYS[3])
  elseif count == 1 then
    redis.call("DEL", KEYS[3])
  end
end
return existed
`

var revokeLua = redis.NewScript(revokeScript)

const rotateScript = `
local function read_be64(s, i)
  local b1 = string.byte(s, i)
  local b2 = string.byte(s, i + 1)
  local b3 = string.byte(s, i + 2)
  local b4 = string.byte(s, i + 3)
  local b5 = string.byte(s, i + 4)
  local b6 = string.byte(s, i + 5)
  local b7 = string.byte(s, i + 6)
  local b8 = string.byte(s, i + 7)
  if not b8 then
    return nil
  end
  return ((((((((b1 * 256) + b2) * 256 + b3) * 256 + b4) * 256 + b5) * 256 + b6) * 256 + b7) * 256 + b8)
end

local function parse_record(data)
  local version = string.byte(data, 1)
  if version ~= 1 then
    return nil
  end

  local subject_len = string.byte(data, 2)
  if not subject_len or subject_len == 0 then
    return nil
  end
  if #data < 2 + subject_len then
    return nil
  end
  local subject = string.sub(data, 3, 2 + subject_len)

  local roles_len = string.byte(data, 4 + subject_len)
  if not roles_len then
    return nil
  end

  local fp_offset = 5 + subject_len + roles_len
  if #data ~= fp_offset + 55 then
    return nil
  end

  local fingerprint = string.sub(data, fp_offset, fp_offset + 31)
  local expires_at = read_be64(data, fp_offset + 48)
  if not expires_at then
    return nil
  end

  return {
    subject = subject,
    fingerprint = fingerprint,
    fp_offset = fp_offset,
    expires_at = expires_at
  }
end

local function decrement_count(count_key)
  local count = tonumber(redis.call("GET", count_key) or "0")
  if count > 1 then
    redis.call("DECR", count_key)
  elseif count == 1 then
    redis.call("DEL", count_key)
  end
end

local session_key = KEYS[1]
local count_key = KEYS[2]
local session_id = ARGV[1]
local subject_prefix = ARGV[2]
local provided_fp = ARGV[3]
local next_fp = ARGV[4]
local now_unix = tonumber(ARGV[5])

local data = redis.call("GET", session_key)
if not data then
  return {0}
end

local parsed = parse_record(data)
if not parsed then
  return {4}
end

local subject_key = subject_prefix .. parsed.subject

if parsed.expires_at <= now_unix then
  local deleted = redis.call("DEL", session_key)
  redis.call("SREM", subject_key, session_id)
  if deleted == 1 then
    decrement_count(count_key)
  end
  return {1}
end

if parsed.fingerprint ~= provided_fp then
  local deleted = redis.call("DEL", session_key)
  redis.call("SREM", subject_key, session_id)
  if deleted == 1 then
    decrement_count(count_key)
  end
  return {2}
end

local ttl = redis.call("PTTL", session_key)
if ttl <= 0 then
  local deleted = redis.call("DEL", session_key)
  redis.call("SREM", subject_key, session_id)
  if deleted == 1 then
    decrement_count(count_key)
  end
  return {1}
end

local prefix = string.sub(data, 1, parsed.fp_offset - 1)
local suffix = string.sub(data, parsed.fp_offset + 32)
local updated = prefix .. next_fp .. suffix

redis.call("SET", session_key, updated, "PX", ttl)

return {3, updated}
`

var rotateLua = redis.NewScript(rotateScript)

const touchScript = `
local function last_activity_offset(data)
  local version = string.byte(data, 1)
  if version ~= 1 then
    return nil
  end

  local subject_len = string.byte(data, 2)
  if not subject_len or subject_len == 0 then
    return nil
  end

  local roles_len = string.byte(data, 4 + subject_len)
  if not roles_len then
    return nil
  end

  local fp_offset = 5 + subject_len + roles_len
  if #data ~= fp_offset + 55 then
    return nil
  end

  return fp_offset + 40
end

local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end

local offset = last_activity_offset(data)
if not offset then
  return 2
end

local updated = string.sub(data, 1, offset - 1) .. ARGV[1] .. string.sub(data, offset + 8)

local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], updated, "PX", ttl)
else
  redis.call("SET", KEYS[1], updated)
end

return 1
`

var touchLua = redis.NewScript(touchScript)

// Store is a Redis-backed session store that handles persistence,
// expiration, sliding window renewal, and atomic refresh-fingerprint
// rotation.
type Store struct {
	redis         redis.UniversalClient
	prefix        string
	sliding       bool
	jitterEnabled bool
	jitterRange   time.Duration
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace; the remaining parameters control
// sliding expiration.
func NewStore(
	redisClient redis.UniversalClient,
	prefix string,
	sliding bool,
	jitterEnabled bool,
	jitterRange time.Duration,
) *Store {
	return &Store{
		redis:         redisClient,
		prefix:        prefix,
		sliding:       sliding,
		jitterEnabled: jitterEnabled,
		jitterRange:   jitterRange,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) subjectKey(subject string) string {
	return s.prefix + ":u:" + subject
}

func (s *Store) countKey() string {
	return s.prefix + ":count"
}

// Create persists a [Record] with the given TTL and registers the session in
// the subject index.
func (s *Store) Create(ctx context.Context, rec *Record, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("invalid session ttl")
	}

	data, err := Encode(rec)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(rec.SessionID), data, ttl)
		pipe.SAdd(ctx, s.subjectKey(rec.Subject), rec.SessionID)
		pipe.Incr(ctx, s.countKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// Get retrieves a session by ID. absoluteLifetime caps the session age
// regardless of the key TTL; a record past either deadline is deleted and
// reported as [ErrExpired]. When sliding expiration is enabled the key TTL
// is extended toward the remaining absolute budget.
func (s *Store) Get(ctx context.Context, sessionID string, absoluteLifetime time.Duration) (*Record, error) {
	key := s.key(sessionID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	rec.SessionID = sessionID

	now := time.Now()
	remaining := s.remainingAbsoluteTTL(rec, absoluteLifetime, now)
	if remaining <= 0 {
		if err := s.revokeIndexed(ctx, rec.Subject, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	if s.sliding {
		nextTTL, err := s.nextSlidingTTL(remaining)
		if err != nil {
			return nil, err
		}
		if err := s.redis.Expire(ctx, key, nextTTL).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return rec, nil
}

// Touch updates the last-activity timestamp without changing the key TTL.
// The script splices only the last-activity bytes, so a concurrent
// fingerprint rotation is never overwritten.
func (s *Store) Touch(ctx context.Context, sessionID string, now time.Time) error {
	var lastActivity [8]byte
	binary.BigEndian.PutUint64(lastActivity[:], uint64(now.Unix()))

	result, err := touchLua.Run(ctx, s.redis, []string{s.key(sessionID)}, lastActivity[:]).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	code, ok := result.(int64)
	if !ok {
		return fmt.Errorf("%w: invalid touch script response", ErrUnavailable)
	}

	switch code {
	case touchStatusNotFound:
		return ErrNotFound
	case touchStatusTouched:
		return nil
	case touchStatusInvalidBlob:
		return fmt.Errorf("%w: undecodable record", ErrCorrupt)
	default:
		return fmt.Errorf("%w: unknown touch script status", ErrUnavailable)
	}
}

// Revoke deletes a session and its index entry. Revoking a session that no
// longer exists is a no-op; the counter never goes negative.
func (s *Store) Revoke(ctx context.Context, sessionID string) error {
	key := s.key(sessionID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		// An undecodable record is still deleted so it cannot wedge the key.
		if delErr := s.redis.Del(ctx, key).Err(); delErr != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, delErr)
		}
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return s.revokeIndexed(ctx, rec.Subject, sessionID)
}

// RevokeAllForSubject removes every tracked session for a subject.
//
// ATOMICITY NOTE: this is NOT fully atomic. It reads the subject's session
// set, checks which sessions still exist, then deletes them in one
// transaction. A session created between the read and delete phases is not
// captured; it expires naturally or is caught by a later call.
func (s *Store) RevokeAllForSubject(ctx context.Context, subject string) error {
	subjectKey := s.subjectKey(subject)
	countKey := s.countKey()

	sessionIDs, err := s.redis.SMembers(ctx, subjectKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sessionKeys := make([]string, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		sessionKeys = append(sessionKeys, s.key(sessionID))
	}

	currentCount, err := s.SessionCount(ctx)
	if err != nil {
		return err
	}

	var existing int
	if len(sessionKeys) > 0 {
		pipe := s.redis.Pipeline()
		existsCmds := make([]*redis.IntCmd, len(sessionKeys))
		for i, sessionKey := range sessionKeys {
			existsCmds[i] = pipe.Exists(ctx, sessionKey)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		for _, cmd := range existsCmds {
			v, cmdErr := cmd.Result()
			if cmdErr != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, cmdErr)
			}
			existing += int(v)
		}
	}

	decrement := existing
	if decrement > currentCount {
		decrement = currentCount
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(sessionKeys) > 0 {
			pipe.Del(ctx, sessionKeys...)
		}
		pipe.Del(ctx, subjectKey)
		if decrement > 0 {
			pipe.DecrBy(ctx, countKey, int64(decrement))
		}
		if decrement == currentCount && currentCount > 0 {
			pipe.Del(ctx, countKey)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return nil
}

// RotateFingerprint atomically replaces the refresh fingerprint using a Lua
// compare-and-swap. Exactly one concurrent caller presenting the same
// fingerprint wins; the rest observe [ErrFingerprintMismatch]. A mismatch or
// expiry revokes the session inside the script.
func (s *Store) RotateFingerprint(
	ctx context.Context,
	sessionID string,
	providedFingerprint [32]byte,
	nextFingerprint [32]byte,
) (*Record, error) {
	key := s.key(sessionID)
	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{key, s.countKey()},
		sessionID,
		s.subjectKey(""),
		providedFingerprint[:],
		nextFingerprint[:],
		time.Now().Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid rotate script response", ErrUnavailable)
	}

	code, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid rotate script status", ErrUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusExpired:
		return nil, ErrExpired
	case rotateStatusMismatch:
		return nil, ErrFingerprintMismatch
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: missing updated record payload", ErrUnavailable)
		}

		var blob []byte
		switch v := parts[1].(type) {
		case string:
			blob = []byte(v)
		case []byte:
			blob = v
		default:
			return nil, fmt.Errorf("%w: invalid updated record payload", ErrUnavailable)
		}

		rec, decErr := Decode(blob)
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, decErr)
		}
		rec.SessionID = sessionID
		return rec, nil
	case rotateStatusInvalidBlob:
		return nil, ErrCorrupt
	default:
		return nil, fmt.Errorf("%w: unknown rotate script status", ErrUnavailable)
	}
}

// ActiveSessionCount returns the number of tracked session IDs for a subject.
func (s *Store) ActiveSessionCount(ctx context.Context, subject string) (int, error) {
	count, err := s.redis.SCard(ctx, s.subjectKey(subject)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(count), nil
}

// ActiveSessionIDs returns tracked session IDs for a subject. The index may
// reference sessions whose keys already expired; callers filter through Get.
func (s *Store) ActiveSessionIDs(ctx context.Context, subject string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.subjectKey(subject)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ids, nil
}

// Sessions fetches the live records for a subject without mutating TTLs.
// Expired or vanished entries are skipped.
func (s *Store) Sessions(ctx context.Context, subject string) ([]*Record, error) {
	sessionIDs, err := s.ActiveSessionIDs(ctx, subject)
	if err != nil {
		return nil, err
	}
	if len(sessionIDs) == 0 {
		return []*Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(sessionIDs))
	for i, sid := range sessionIDs {
		cmds[i] = pipe.Get(ctx, s.key(sid))
	}

	_, err = pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	records := make([]*Record, 0, len(sessionIDs))
	nowUnix := time.Now().Unix()
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, cmdErr)
		}

		rec, decErr := Decode(data)
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, decErr)
		}
		rec.SessionID = sessionIDs[i]
		if nowUnix > rec.ExpiresAt {
			continue
		}

		records = append(records, rec)
	}

	return records, nil
}

// SessionCount returns the tracked store-wide session counter.
func (s *Store) SessionCount(ctx context.Context) (int, error) {
	count, err := s.redis.Get(ctx, s.countKey()).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) revokeIndexed(ctx context.Context, subject, sessionID string) error {
	keys := []string{s.key(sessionID), s.subjectKey(subject), s.countKey()}
	if _, err := revokeLua.Run(ctx, s.redis, keys, sessionID).Result(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) remainingAbsoluteTTL(rec *Record, absoluteLifetime time.Duration, now time.Time) time.Duration {
	storedExpiry := time.Unix(rec.ExpiresAt, 0)
	if absoluteLifetime <= 0 {
		return storedExpiry.Sub(now)
	}

	configCap := time.Unix(rec.CreatedAt, 0).Add(absoluteLifetime)
	if configCap.Before(storedExpiry) {
		return configCap.Sub(now)
	}

	return storedExpiry.Sub(now)
}

func (s *Store) nextSlidingTTL(remainingAbsolute time.Duration) (time.Duration, error) {
	nextTTL := remainingAbsolute

	if s.jitterEnabled && s.jitterRange > 0 {
		jitter, err := randomJitter(s.jitterRange)
		if err != nil {
			return 0, err
		}
		nextTTL += jitter
	}

	if nextTTL > remainingAbsolute {
		nextTTL = remainingAbsolute
	}

	minTTL := minSlidingTTL
	if remainingAbsolute < minTTL {
		minTTL = remainingAbsolute
	}
	if nextTTL < minTTL {
		nextTTL = minTTL
	}

	return nextTTL, nil
}

func randomJitter(jitterRange time.Duration) (time.Duration, error) {
	if jitterRange <= 0 {
		return 0, nil
	}

	max := jitterRange.Nanoseconds()
	if max > (math.MaxInt64-1)/2 {
		return 0, errors.New("jitter range too large")
	}
	span := max*2 + 1

	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return 0, err
	}

	return time.Duration(n.Int64() - max), nil
}
