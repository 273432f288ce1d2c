package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Nobert1/event-driven-systems/platform/kv"
)

// Each key is a hash: "v" holds the version, "d" the value.
const (
	hashFieldVersion = "v"
	hashFieldData    = "d"
)

var setScript = redis.NewScript(`
local v = redis.call('HINCRBY', KEYS[1], 'v', 1)
redis.call('HSET', KEYS[1], 'd', ARGV[1])
return v
`)

// Returns -1 when the stored version differs from ARGV[1].
var compareAndSetScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'v') or '0')
if cur ~= tonumber(ARGV[1]) then
  return -1
end
local nv = cur + 1
redis.call('HSET', KEYS[1], 'v', nv, 'd', ARGV[2])
return nv
`)

type Config struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Store implements kv.Store on a redis client.
type Store struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
}

// Open connects and pings redis.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, kv.Unavailable("connect", err)
	}
	logger.Info("redis connection established", zap.String("addr", cfg.Addr))
	return NewStore(client, logger), nil
}

func NewStore(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logger, prefix: "kv:"}
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Get(ctx context.Context, key string) (kv.Entry, error) {
	vals, err := s.client.HMGet(ctx, s.key(key), hashFieldVersion, hashFieldData).Result()
	if err != nil {
		s.logger.Error("failed to read key from redis", zap.Error(err), zap.String("key", key))
		return kv.Entry{}, kv.Unavailable("get", err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return kv.Entry{}, kv.ErrNotFound
	}

	rawVersion, _ := vals[0].(string)
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		s.logger.Error("unreadable version field in redis", zap.Error(err), zap.String("key", key), zap.String("version", rawVersion))
		return kv.Entry{}, fmt.Errorf("%w: redis version %q for %s", kv.ErrCorrupt, rawVersion, key)
	}
	data, _ := vals[1].(string)
	return kv.Entry{Value: []byte(data), Version: version}, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) (int64, error) {
	version, err := setScript.Run(ctx, s.client, []string{s.key(key)}, value).Int64()
	if err != nil {
		s.logger.Error("failed to write key to redis", zap.Error(err), zap.String("key", key))
		return 0, kv.Unavailable("set", err)
	}
	return version, nil
}

func (s *Store) CompareAndSet(ctx context.Context, key string, expected int64, value []byte) (int64, error) {
	version, err := compareAndSetScript.Run(ctx, s.client, []string{s.key(key)}, expected, value).Int64()
	if err != nil {
		s.logger.Error("failed to compare-and-set key in redis", zap.Error(err), zap.String("key", key))
		return 0, kv.Unavailable("compare-and-set", err)
	}
	if version < 0 {
		return 0, kv.ErrConflict
	}
	return version, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return kv.Unavailable("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
