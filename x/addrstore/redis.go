package addrstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"

	"github.com/compose-network/bridge-deployer/x/resource"
)

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Namespace prefixes the hash key, normally "<mode>:<project>".
	Namespace string
	Timeout   time.Duration
}

// RedisStore keeps every record as a field of one hash. Put uses HSETNX so
// the first writer of a key wins across processes.
type RedisStore struct {
	pool *redis.Pool
	hash string
	log  zerolog.Logger
}

// OpenRedis builds the connection pool and checks the server answers PING.
func OpenRedis(ctx context.Context, cfg RedisConfig, log zerolog.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("addrstore: redis address is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	opts := []redis.DialOption{
		redis.DialConnectTimeout(cfg.Timeout),
		redis.DialReadTimeout(cfg.Timeout),
		redis.DialWriteTimeout(cfg.Timeout),
		redis.DialDatabase(cfg.DB),
	}
	if cfg.Password != "" {
		opts = append(opts, redis.DialPassword(cfg.Password))
	}

	s := &RedisStore{
		pool: &redis.Pool{
			MaxIdle:     4,
			IdleTimeout: time.Minute,
			DialContext: func(ctx context.Context) (redis.Conn, error) {
				return redis.DialContext(ctx, "tcp", cfg.Addr, opts...)
			},
		},
		hash: fmt.Sprintf("bridge-deployer:%s:addresses", cfg.Namespace),
		log:  log.With().Str("component", "addrstore-redis").Str("addr", cfg.Addr).Logger(),
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		s.pool.Close()
		return nil, fmt.Errorf("addrstore: redis connect: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		s.pool.Close()
		return nil, fmt.Errorf("addrstore: redis ping: %w", err)
	}
	return s, nil
}

func (s *RedisStore) Get(ctx context.Context, key resource.Key) (resource.Record, bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return resource.Record{}, false, fmt.Errorf("addrstore: redis connect: %w", err)
	}
	defer conn.Close()

	raw, err := redis.Bytes(conn.Do("HGET", s.hash, key.String()))
	if errors.Is(err, redis.ErrNil) {
		return resource.Record{}, false, nil
	}
	if err != nil {
		return resource.Record{}, false, fmt.Errorf("addrstore: redis get %s: %w", key, err)
	}
	var rec resource.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return resource.Record{}, false, fmt.Errorf("addrstore: decode %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *RedisStore) Put(ctx context.Context, rec resource.Record) error {
	if err := validateRecord(&rec); err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("addrstore: encode %s: %w", rec.Key, err)
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("addrstore: redis connect: %w", err)
	}
	set, err := redis.Int(conn.Do("HSETNX", s.hash, rec.Key.String(), raw))
	conn.Close()
	if err != nil {
		return fmt.Errorf("addrstore: redis set %s: %w", rec.Key, err)
	}
	if set == 1 {
		s.log.Debug().Str("key", rec.Key.String()).Str("address", rec.Address.Hex()).Msg("Address recorded")
		return nil
	}

	existing, found, err := s.Get(ctx, rec.Key)
	if err != nil {
		return err
	}
	_, err = admit(existing, found, rec)
	return err
}

func (s *RedisStore) Records(ctx context.Context) ([]resource.Record, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("addrstore: redis connect: %w", err)
	}
	defer conn.Close()

	fields, err := redis.StringMap(conn.Do("HGETALL", s.hash))
	if err != nil {
		return nil, fmt.Errorf("addrstore: redis list: %w", err)
	}
	out := make([]resource.Record, 0, len(fields))
	for field, raw := range fields {
		var rec resource.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("addrstore: decode %s: %w", field, err)
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.pool.Close()
}
