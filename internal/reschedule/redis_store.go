package reschedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	fieldID     = "id"
	fieldStatus = "status"
	fieldData   = "data"

	expiryIndexKey = "reschedule:expiry"
)

// transitionScript compares id and status and applies the transition in one step.
// KEYS: record hash, tombstone, expiry index.
// ARGV: id, from, to, remove flag, retain ms, phone.
var transitionScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'id', 'status')
if not cur[1] then
  return 0
end
if ARGV[1] ~= '' and cur[1] ~= ARGV[1] then
  return 0
end
if ARGV[2] ~= '' and cur[2] ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[3], ARGV[6])
if ARGV[4] == '1' then
  redis.call('DEL', KEYS[1])
else
  redis.call('HSET', KEYS[1], 'status', ARGV[3])
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
end
redis.call('SET', KEYS[2], cur[1] .. '|' .. ARGV[3], 'PX', ARGV[5])
return 1
`)

// RedisStore keeps conversations in Redis so they survive restarts and are
// shared across API replicas.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(client *redis.Client, tracer trace.Tracer) *RedisStore {
	if client == nil {
		panic("reschedule: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("medspa.internal.reschedule.redis")
	}
	return &RedisStore{redis: client, tracer: tracer}
}

func recordKey(phone string) string {
	return fmt.Sprintf("reschedule:conv:%s", phone)
}

func tombstoneKey(phone string) string {
	return fmt.Sprintf("reschedule:tomb:%s", phone)
}

func (s *RedisStore) Save(ctx context.Context, conv *Conversation, ttl time.Duration) error {
	ctx, span := s.tracer.Start(ctx, "reschedule.redis.save")
	defer span.End()

	data, err := json.Marshal(conv)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("reschedule: marshal conversation: %w", err)
	}
	key := recordKey(conv.Phone)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fieldID, conv.ID.String(), fieldStatus, string(conv.Status), fieldData, data)
		pipe.PExpire(ctx, key, ttl)
		pipe.ZAdd(ctx, expiryIndexKey, redis.Z{Score: float64(conv.ExpiresAt.UnixMilli()), Member: conv.Phone})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("reschedule: persist conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, phone string) (*Conversation, error) {
	ctx, span := s.tracer.Start(ctx, "reschedule.redis.load")
	defer span.End()

	vals, err := s.redis.HMGet(ctx, recordKey(phone), fieldStatus, fieldData).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("reschedule: load conversation: %w", err)
	}
	status, _ := vals[0].(string)
	data, _ := vals[1].(string)
	if data == "" {
		return nil, nil
	}
	var conv Conversation
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("reschedule: decode conversation: %w", err)
	}
	if status != "" {
		conv.Status = Status(status)
	}
	return &conv, nil
}

func (s *RedisStore) Transition(ctx context.Context, phone string, t Transition) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "reschedule.redis.transition")
	defer span.End()

	id := ""
	if t.ID != uuid.Nil {
		id = t.ID.String()
	}
	remove := "0"
	if t.To.removes() {
		remove = "1"
	}
	retain := t.Retain.Milliseconds()
	if retain <= 0 {
		retain = 1
	}
	res, err := transitionScript.Run(ctx, s.redis,
		[]string{recordKey(phone), tombstoneKey(phone), expiryIndexKey},
		id, string(t.From), string(t.To), remove, retain, phone,
	).Int()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("reschedule: transition conversation: %w", err)
	}
	return res == 1, nil
}

func (s *RedisStore) Status(ctx context.Context, phone string) (Status, bool, error) {
	ctx, span := s.tracer.Start(ctx, "reschedule.redis.status")
	defer span.End()

	status, err := s.redis.HGet(ctx, recordKey(phone), fieldStatus).Result()
	if err == nil {
		return Status(status), true, nil
	}
	if !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		return "", false, fmt.Errorf("reschedule: read status: %w", err)
	}

	tomb, err := s.redis.Get(ctx, tombstoneKey(phone)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		span.RecordError(err)
		return "", false, fmt.Errorf("reschedule: read tombstone: %w", err)
	}
	_, st, ok := strings.Cut(tomb, "|")
	if !ok {
		return "", false, nil
	}
	return Status(st), true, nil
}

func (s *RedisStore) Overdue(ctx context.Context, now time.Time, limit int) ([]Due, error) {
	ctx, span := s.tracer.Start(ctx, "reschedule.redis.overdue")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	phones, err := s.redis.ZRangeByScore(ctx, expiryIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("(%d", now.UnixMilli()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("reschedule: scan expiry index: %w", err)
	}

	due := make([]Due, 0, len(phones))
	for _, phone := range phones {
		vals, err := s.redis.HMGet(ctx, recordKey(phone), fieldID, fieldStatus).Result()
		if err != nil {
			span.RecordError(err)
			return due, fmt.Errorf("reschedule: read overdue record: %w", err)
		}
		idStr, _ := vals[0].(string)
		status, _ := vals[1].(string)
		id, parseErr := uuid.Parse(idStr)
		if parseErr != nil || Status(status) != StatusPending {
			// record evicted or already resolved
			s.redis.ZRem(ctx, expiryIndexKey, phone)
			continue
		}
		due = append(due, Due{Phone: phone, ID: id})
	}
	return due, nil
}
