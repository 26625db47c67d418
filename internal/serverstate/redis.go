package serverstate

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gaspardpetit/promptrelay/internal/logx"
)

const (
	redisKeyPrefix = "promptrelay:state:"
	redisTimeout   = 2 * time.Second
	// stale entries from crashed instances expire on their own; live
	// instances rewrite their key every redisRefresh
	redisTTL     = 24 * time.Hour
	redisRefresh = redisTTL / 4
)

// RedisStore implements Store backed by a Redis instance. Each relay
// instance writes its own key so operators can inspect a fleet from Redis.
type RedisStore struct {
	client redis.UniversalClient
	key    string

	mu   sync.Mutex
	last *State

	stop chan struct{}
	once sync.Once
}

// NewRedisStore connects to the given Redis URL and returns a Store for the
// named instance. The instance key is reset to not_ready.
func NewRedisStore(addr, instance string) (*RedisStore, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	rs := &RedisStore{client: c, key: redisKeyPrefix + instance, stop: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	b, _ := json.Marshal(State{Status: StatusNotReady})
	if err := c.Set(ctx, rs.key, b, redisTTL).Err(); err != nil {
		logx.Log.Warn().Err(err).Str("key", rs.key).Msg("redis init state")
	}
	go rs.keepAlive(redisRefresh)
	return rs, nil
}

func (r *RedisStore) keepAlive(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			r.refresh()
		}
	}
}

// refresh rewrites the last state this instance stored, resetting the TTL.
func (r *RedisStore) refresh() {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	if last == nil {
		return
	}
	r.write(*last)
}

// Key returns the Redis key holding this instance's state.
func (r *RedisStore) Key() string { return r.key }

// Close stops the key refresh and releases the underlying client.
func (r *RedisStore) Close() error {
	r.once.Do(func() { close(r.stop) })
	return r.client.Close()
}

// parseRedisURL parses addr into UniversalOptions supporting single, cluster,
// and sentinel Redis deployments. If no scheme is present, addr is treated as
// a plain host:port string.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = strings.Split(u.Host, ",")

	q := u.Query()
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	switch u.Scheme {
	case "redis", "rediss":
		if u.Path != "" && u.Path != "/" {
			db, err := strconv.Atoi(strings.TrimPrefix(u.Path, "/"))
			if err != nil {
				return nil, fmt.Errorf("redis: invalid db: %v", err)
			}
			opts.DB = db
		} else if dbStr := q.Get("db"); dbStr != "" {
			db, err := strconv.Atoi(dbStr)
			if err != nil {
				return nil, fmt.Errorf("redis: invalid db: %v", err)
			}
			opts.DB = db
		}
		if u.Scheme == "rediss" {
			opts.TLSConfig = tlsCfg
		}
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = strings.TrimPrefix(u.Path, "/")
		if dbStr := q.Get("db"); dbStr != "" {
			db, err := strconv.Atoi(dbStr)
			if err != nil {
				return nil, fmt.Errorf("redis: invalid db: %v", err)
			}
			opts.DB = db
		}
		if v := q.Get("sentinel_username"); v != "" {
			opts.SentinelUsername = v
		}
		if v := q.Get("sentinel_password"); v != "" {
			opts.SentinelPassword = v
		}
		if u.Scheme == "rediss-sentinel" {
			opts.TLSConfig = tlsCfg
		}
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}

	return opts, nil
}

func (r *RedisStore) Load() State {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	b, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.mu.Lock()
			last := r.last
			r.mu.Unlock()
			if last != nil {
				// expired or evicted; this instance still owns its state
				r.write(*last)
				return *last
			}
			return State{Status: StatusNotReady}
		}
		logx.Log.Warn().Err(err).Str("key", r.key).Msg("redis load state")
		return State{Status: StatusUnknown}
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{Status: StatusUnknown}
	}
	return st
}

func (r *RedisStore) Store(s State) {
	r.mu.Lock()
	r.last = &s
	r.mu.Unlock()
	r.write(s)
}

func (r *RedisStore) write(s State) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := r.client.Set(ctx, r.key, b, redisTTL).Err(); err != nil {
		logx.Log.Warn().Err(err).Str("key", r.key).Msg("redis store state")
	}
}
