package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

const watchBuffer = 64

// memoryStore 内存实现，用于测试与单机部署
type memoryStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	lastTS int64
	nextID int

	valueWatch map[string]map[int]chan Event
	childWatch map[string]map[int]chan ChildEvent
	closed     bool
}

// NewMemoryStore creates an in-process store with the same observable
// semantics as the redis backend.
func NewMemoryStore() Store {
	return &memoryStore{
		data:       make(map[string][]byte),
		valueWatch: make(map[string]map[int]chan Event),
		childWatch: make(map[string]map[int]chan ChildEvent),
	}
}

// tick returns the next server timestamp; strictly monotonic even when the
// wall clock stalls within one millisecond.
func (m *memoryStore) tick() int64 {
	ts := time.Now().UnixMilli()
	if ts <= m.lastTS {
		ts = m.lastTS + 1
	}
	m.lastTS = ts
	return ts
}

func splitPath(path string) (parent, key string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

func (m *memoryStore) Set(ctx context.Context, path string, value interface{}) (int64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("marshal value at %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("store closed")
	}

	ts := m.tick()
	_, existed := m.data[path]
	m.data[path] = data

	m.notifyValue(Event{Type: EventPut, Path: path, Value: data, Timestamp: ts})
	parent, key := splitPath(path)
	childType := ChildAdded
	if existed {
		childType = ChildChanged
	}
	m.notifyChild(parent, ChildEvent{Type: childType, Parent: parent, Key: key, Value: data, Timestamp: ts})
	return ts, nil
}

func (m *memoryStore) Get(ctx context.Context, path string, dest interface{}) (bool, error) {
	m.mu.Lock()
	data, ok := m.data[path]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if dest != nil {
		if err := json.Unmarshal(data, dest); err != nil {
			return true, fmt.Errorf("unmarshal value at %s: %w", path, err)
		}
	}
	return true, nil
}

// Delete removes the path and every descendant below it.
func (m *memoryStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("store closed")
	}

	prefix := path + "/"
	var removed []string
	for k := range m.data {
		if k == path || strings.HasPrefix(k, prefix) {
			removed = append(removed, k)
		}
	}
	ts := m.tick()
	for _, k := range removed {
		delete(m.data, k)
		m.notifyValue(Event{Type: EventDelete, Path: k, Timestamp: ts})
		parent, key := splitPath(k)
		m.notifyChild(parent, ChildEvent{Type: ChildRemoved, Parent: parent, Key: key, Timestamp: ts})
	}
	return nil
}

// Children returns the direct children of path keyed by their last segment.
func (m *memoryStore) Children(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := path + "/"
	out := make(map[string]json.RawMessage)
	for k, v := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if strings.Contains(rest, "/") {
			continue // grandchild
		}
		out[rest] = append(json.RawMessage(nil), v...)
	}
	return out, nil
}

func (m *memoryStore) Watch(ctx context.Context, path string) (<-chan Event, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("store closed")
	}
	ch := make(chan Event, watchBuffer)
	id := m.nextID
	m.nextID++
	if m.valueWatch[path] == nil {
		m.valueWatch[path] = make(map[int]chan Event)
	}
	m.valueWatch[path][id] = ch
	// replay current value
	if data, ok := m.data[path]; ok {
		ch <- Event{Type: EventPut, Path: path, Value: data, Timestamp: m.lastTS}
	}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if subs, ok := m.valueWatch[path]; ok {
			if _, live := subs[id]; live {
				delete(subs, id)
				close(ch)
			}
		}
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *memoryStore) WatchChildren(ctx context.Context, path string) (<-chan ChildEvent, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("store closed")
	}
	ch := make(chan ChildEvent, watchBuffer)
	id := m.nextID
	m.nextID++
	if m.childWatch[path] == nil {
		m.childWatch[path] = make(map[int]chan ChildEvent)
	}
	m.childWatch[path][id] = ch
	// replay existing children as ChildAdded
	prefix := path + "/"
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) && !strings.Contains(k[len(prefix):], "/") {
			ch <- ChildEvent{Type: ChildAdded, Parent: path, Key: k[len(prefix):], Value: v, Timestamp: m.lastTS}
		}
	}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if subs, ok := m.childWatch[path]; ok {
			if _, live := subs[id]; live {
				delete(subs, id)
				close(ch)
			}
		}
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *memoryStore) ServerTime(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick(), nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for path, subs := range m.valueWatch {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
		delete(m.valueWatch, path)
	}
	for path, subs := range m.childWatch {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
		delete(m.childWatch, path)
	}
	return nil
}

// notifyValue 非阻塞投递，缓冲满时丢弃（慢订阅者自行兜底重读）
func (m *memoryStore) notifyValue(ev Event) {
	for _, ch := range m.valueWatch[ev.Path] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *memoryStore) notifyChild(parent string, ev ChildEvent) {
	for _, ch := range m.childWatch[parent] {
		select {
		case ch <- ev:
		default:
		}
	}
}
