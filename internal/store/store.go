package store

import (
	"context"
	"encoding/json"
)

// EventType 值事件类型
type EventType int

const (
	EventPut EventType = iota
	EventDelete
)

// Event is a value change at a watched path.
type Event struct {
	Type      EventType
	Path      string
	Value     json.RawMessage // nil on delete
	Timestamp int64           // server-assigned, milliseconds
}

// ChildEventType 子节点事件类型
type ChildEventType int

const (
	ChildAdded ChildEventType = iota
	ChildChanged
	ChildRemoved
)

// ChildEvent is an add/change/remove of a direct child under a watched path.
type ChildEvent struct {
	Type      ChildEventType
	Parent    string
	Key       string
	Value     json.RawMessage // nil on remove
	Timestamp int64
}

// Store is the shared, observable key-value collaborator. Paths are
// slash-separated ("users/u1"). Semantics follow a realtime database:
//
//   - Set is last-write-wins per path, stamped with a server-assigned
//     monotonic millisecond timestamp.
//   - Delete removes the path and its entire subtree.
//   - Watch streams value changes at exactly one path; the current value (if
//     any) is replayed on subscribe.
//   - WatchChildren streams direct-child changes under a path; existing
//     children are replayed as ChildAdded on subscribe.
//   - There is no cross-path atomicity. Callers sequence multi-path flows as
//     compensating steps.
//
// Subscriptions end when the supplied context is cancelled; their channels
// are closed at that point.
type Store interface {
	Set(ctx context.Context, path string, value interface{}) (int64, error)
	Get(ctx context.Context, path string, dest interface{}) (bool, error)
	Delete(ctx context.Context, path string) error
	Children(ctx context.Context, path string) (map[string]json.RawMessage, error)
	Watch(ctx context.Context, path string) (<-chan Event, error)
	WatchChildren(ctx context.Context, path string) (<-chan ChildEvent, error)

	// ServerTime returns the store clock in milliseconds; every value it
	// returns is strictly greater than timestamps of already-acknowledged
	// writes.
	ServerTime(ctx context.Context) (int64, error)

	Close() error
}

// Config 存储配置
type Config struct {
	Backend       string // "memory" 或 "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}
