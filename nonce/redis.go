package nonce

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const (
	recordVersionV1 = 1

	consumeStatusNotFound        int64 = 0
	consumeStatusWrongPurpose    int64 = 1
	consumeStatusAlreadyConsumed int64 = 2
	consumeStatusExpired         int64 = 3
	consumeStatusValid           int64 = 4
)

// consumeScript atomically performs GET→validate→rewrite on a nonce record.
// KEYS[1] = record key
// ARGV[1] = expected purpose
// ARGV[2] = current unix time in milliseconds
//
// Record layout: version(1) consumed(1) issuedAt(8 BE ms) expiresAt(8 BE ms)
// purposeLen(2 BE) purpose.
const consumeScript = `
local data = redis.call('GET', KEYS[1])
if not data then
  return 0
end

if string.byte(data, 1) ~= 1 then
  redis.call('DEL', KEYS[1])
  return 0
end

local purposeLen = string.byte(data, 19) * 256 + string.byte(data, 20)
local purpose = string.sub(data, 21, 20 + purposeLen)
if purpose ~= ARGV[1] then
  return 1
end

if string.byte(data, 2) == 1 then
  return 2
end

local expiresAt = 0
for i = 11, 18 do
  expiresAt = expiresAt * 256 + string.byte(data, i)
end
if tonumber(ARGV[2]) > expiresAt then
  return 3
end

local ttlMs = redis.call('PTTL', KEYS[1])
local updated = string.sub(data, 1, 1) .. string.char(1) .. string.sub(data, 3)
if ttlMs > 0 then
  redis.call('SET', KEYS[1], updated, 'PX', ttlMs)
else
  redis.call('SET', KEYS[1], updated)
end
return 4
`

var consumeLua = redis.NewScript(consumeScript)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Prefix namespaces the keys. Defaults to "hn".
	Prefix string
	// Secret keys the blake2b hash of token ids; at most 64 bytes. An empty
	// secret still hashes, unkeyed.
	Secret []byte
	// Retention keeps a record this long past its expiry so late replays
	// report Expired or AlreadyConsumed instead of NotFound.
	Retention time.Duration
}

// RedisStore keeps records in Redis, one key per token.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	secret    []byte
	retention time.Duration
}

func NewRedisStore(client redis.UniversalClient, cfg RedisConfig) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if len(cfg.Secret) > blake2b.Size {
		return nil, errors.New("redis store secret must be at most 64 bytes")
	}
	if cfg.Retention < 0 {
		return nil, errors.New("redis store retention must be >= 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "hn"
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &RedisStore{
		redis:     client,
		prefix:    cfg.Prefix,
		secret:    secret,
		retention: cfg.Retention,
	}, nil
}

func (s *RedisStore) key(id string) string {
	// New256 only fails for keys longer than 64 bytes, rejected in NewRedisStore.
	h, _ := blake2b.New256(s.secret)
	_, _ = h.Write([]byte(id))
	return s.prefix + ":" + hex.EncodeToString(h.Sum(nil))
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	ttl := rec.ExpiresAt.Sub(rec.IssuedAt) + s.retention
	if ttl <= 0 {
		return errors.New("nonce record ttl must be > 0")
	}

	ok, err := s.redis.SetNX(ctx, s.key(rec.ID), encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return ErrDuplicateID
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, id, purpose string, now time.Time) (Result, error) {
	status, err := consumeLua.Run(ctx, s.redis,
		[]string{s.key(id)},
		purpose,
		now.UnixMilli(),
	).Int64()
	if err != nil {
		return NotFound, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	switch status {
	case consumeStatusValid:
		return Valid, nil
	case consumeStatusWrongPurpose:
		return WrongPurpose, nil
	case consumeStatusAlreadyConsumed:
		return AlreadyConsumed, nil
	case consumeStatusExpired:
		return Expired, nil
	case consumeStatusNotFound:
		return NotFound, nil
	default:
		return NotFound, fmt.Errorf("%w: unexpected consume status %d", ErrStoreUnavailable, status)
	}
}

// Lookup returns the stored record for id without consuming it.
func (s *RedisStore) Lookup(ctx context.Context, id string) (Record, bool, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	rec.ID = id
	return rec, true, nil
}

// Sweep is a no-op: Redis expires keys on its own.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func encodeRecord(rec Record) ([]byte, error) {
	if len(rec.Purpose) > 65535 {
		return nil, errors.New("nonce purpose too long")
	}

	var buf bytes.Buffer
	buf.Grow(20 + len(rec.Purpose))

	buf.WriteByte(recordVersionV1)
	if rec.Consumed {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.IssuedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(rec.Purpose))); err != nil {
		return nil, err
	}
	buf.WriteString(rec.Purpose)

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Record{}, err
	}
	if version != recordVersionV1 {
		return Record{}, errors.New("invalid nonce record version")
	}

	consumed, err := reader.ReadByte()
	if err != nil {
		return Record{}, err
	}

	var issued, expires int64
	if err := binary.Read(reader, binary.BigEndian, &issued); err != nil {
		return Record{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expires); err != nil {
		return Record{}, err
	}

	var purposeLen uint16
	if err := binary.Read(reader, binary.BigEndian, &purposeLen); err != nil {
		return Record{}, err
	}
	purpose := make([]byte, purposeLen)
	if _, err := io.ReadFull(reader, purpose); err != nil {
		return Record{}, err
	}

	return Record{
		Purpose:   string(purpose),
		IssuedAt:  time.UnixMilli(issued),
		ExpiresAt: time.UnixMilli(expires),
		Consumed:  consumed == 1,
	}, nil
}
