package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore Redis实现：值为JSON字符串，变更通过pub/sub广播
type redisStore struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	lastTS int64
}

// wireEvent is the pub/sub payload for both value and child channels.
type wireEvent struct {
	Op        string          `json:"op"` // "put" | "del"
	Path      string          `json:"path"`
	Existed   bool            `json:"existed"`
	Value     json.RawMessage `json:"value,omitempty"`
	Timestamp int64           `json:"ts"`
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(cfg Config) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "epifind"
	}
	return &redisStore{client: client, prefix: prefix}, nil
}

func (r *redisStore) key(path string) string       { return r.prefix + ":" + path }
func (r *redisStore) evtChan(path string) string   { return r.prefix + ":evt:" + path }
func (r *redisStore) childChan(path string) string { return r.prefix + ":child:" + path }

// serverTime uses the redis server clock so every client orders against the
// same clock; bumped locally to stay strictly monotonic per process.
func (r *redisStore) serverTime(ctx context.Context) (int64, error) {
	t, err := r.client.Time(ctx).Result()
	if err != nil {
		return 0, err
	}
	ts := t.UnixMilli()
	r.mu.Lock()
	if ts <= r.lastTS {
		ts = r.lastTS + 1
	}
	r.lastTS = ts
	r.mu.Unlock()
	return ts, nil
}

func (r *redisStore) publish(ctx context.Context, path string, ev wireEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	// best effort: watchers that miss an event re-read on reconnect
	r.client.Publish(ctx, r.evtChan(path), data)
	if parent, _ := splitPath(path); parent != "" {
		r.client.Publish(ctx, r.childChan(parent), data)
	}
}

func (r *redisStore) Set(ctx context.Context, path string, value interface{}) (int64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("marshal value at %s: %w", path, err)
	}
	ts, err := r.serverTime(ctx)
	if err != nil {
		return 0, fmt.Errorf("server time: %w", err)
	}

	existed, err := r.client.Exists(ctx, r.key(path)).Result()
	if err != nil {
		return 0, err
	}
	if err := r.client.Set(ctx, r.key(path), data, 0).Err(); err != nil {
		return 0, err
	}
	r.publish(ctx, path, wireEvent{Op: "put", Path: path, Existed: existed > 0, Value: data, Timestamp: ts})
	return ts, nil
}

func (r *redisStore) Get(ctx context.Context, path string, dest interface{}) (bool, error) {
	data, err := r.client.Get(ctx, r.key(path)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if dest != nil {
		if err := json.Unmarshal(data, dest); err != nil {
			return true, fmt.Errorf("unmarshal value at %s: %w", path, err)
		}
	}
	return true, nil
}

func (r *redisStore) Delete(ctx context.Context, path string) error {
	keys, err := r.scanKeys(ctx, r.key(path)+"/*")
	if err != nil {
		return err
	}
	keys = append(keys, r.key(path))

	ts, err := r.serverTime(ctx)
	if err != nil {
		return err
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return err
	}
	for _, k := range keys {
		p := strings.TrimPrefix(k, r.prefix+":")
		r.publish(ctx, p, wireEvent{Op: "del", Path: p, Timestamp: ts})
	}
	return nil
}

func (r *redisStore) Children(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	keys, err := r.scanKeys(ctx, r.key(path)+"/*")
	if err != nil {
		return nil, err
	}
	prefix := r.key(path) + "/"
	var direct []string
	for _, k := range keys {
		if !strings.Contains(k[len(prefix):], "/") {
			direct = append(direct, k)
		}
	}
	out := make(map[string]json.RawMessage, len(direct))
	if len(direct) == 0 {
		return out, nil
	}

	values, err := r.client.MGet(ctx, direct...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // removed between scan and mget
		}
		out[direct[i][len(prefix):]] = json.RawMessage(s)
	}
	return out, nil
}

func (r *redisStore) Watch(ctx context.Context, path string) (<-chan Event, error) {
	sub := r.client.Subscribe(ctx, r.evtChan(path))
	out := make(chan Event, watchBuffer)

	go func() {
		defer close(out)
		defer sub.Close()

		// replay current value
		var raw json.RawMessage
		if ok, err := r.Get(ctx, path, &raw); err == nil && ok {
			out <- Event{Type: EventPut, Path: path, Value: raw, Timestamp: 0}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev wireEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				e := Event{Path: ev.Path, Value: ev.Value, Timestamp: ev.Timestamp}
				if ev.Op == "del" {
					e.Type = EventDelete
					e.Value = nil
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *redisStore) WatchChildren(ctx context.Context, path string) (<-chan ChildEvent, error) {
	sub := r.client.Subscribe(ctx, r.childChan(path))
	out := make(chan ChildEvent, watchBuffer)

	go func() {
		defer close(out)
		defer sub.Close()

		// replay existing children
		if children, err := r.Children(ctx, path); err == nil {
			for key, raw := range children {
				out <- ChildEvent{Type: ChildAdded, Parent: path, Key: key, Value: raw, Timestamp: 0}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev wireEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				_, key := splitPath(ev.Path)
				ce := ChildEvent{Parent: path, Key: key, Value: ev.Value, Timestamp: ev.Timestamp}
				switch {
				case ev.Op == "del":
					ce.Type = ChildRemoved
					ce.Value = nil
				case ev.Existed:
					ce.Type = ChildChanged
				default:
					ce.Type = ChildAdded
				}
				select {
				case out <- ce:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *redisStore) ServerTime(ctx context.Context) (int64, error) {
	return r.serverTime(ctx)
}

func (r *redisStore) Close() error {
	return r.client.Close()
}

func (r *redisStore) scanKeys(ctx context.Context, match string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
