package flowkit

import (
	"sort"
	"sync"
)

// SharedStore is the run-scoped key/value container lent to every node
// phase. Nodes that run concurrently must write disjoint keys; the mutex
// keeps the map itself consistent but does not arbitrate between writers of
// the same key.
type SharedStore struct {
	mu   sync.RWMutex
	data map[string]Value
}

// NewSharedStore creates an empty store.
func NewSharedStore() *SharedStore {
	return &SharedStore{
		data: make(map[string]Value),
	}
}

// NewSharedStoreFrom creates a store seeded with data.
func NewSharedStoreFrom(data map[string]any) *SharedStore {
	s := NewSharedStore()
	s.Merge(data)
	return s
}

// Get retrieves a value from the store
func (s *SharedStore) Get(key string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.data[key]
	return val, ok
}

// Require retrieves a value that a node cannot proceed without. A missing
// key is a contract violation, not a retryable failure.
func (s *SharedStore) Require(key string) (Value, error) {
	val, ok := s.Get(key)
	if !ok {
		return Value{}, &ContractError{Op: "store", Key: key, Msg: "required key is missing"}
	}
	return val, nil
}

// Set stores a value in the store
func (s *SharedStore) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = NewValue(value)
}

// Has reports whether key is present.
func (s *SharedStore) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Delete removes key.
func (s *SharedStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Keys returns the stored keys in sorted order.
func (s *SharedStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the raw contents.
func (s *SharedStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v.Raw()
	}
	return out
}

// Merge merges another map into the store
func (s *SharedStore) Merge(data map[string]any) {
	if data == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range data {
		s.data[k] = NewValue(v)
	}
}

// GetString returns the string stored under key, or "".
func (s *SharedStore) GetString(key string) string {
	return s.GetStringOr(key, "")
}

// GetStringOr returns the string stored under key, or def.
func (s *SharedStore) GetStringOr(key, def string) string {
	if v, ok := s.Get(key); ok {
		if str, ok := v.AsString(); ok {
			return str
		}
	}
	return def
}

// GetInt returns the int stored under key, or 0.
func (s *SharedStore) GetInt(key string) int {
	return s.GetIntOr(key, 0)
}

// GetIntOr returns the int stored under key, or def.
func (s *SharedStore) GetIntOr(key string, def int) int {
	if v, ok := s.Get(key); ok {
		if n, ok := v.AsInt(); ok {
			return n
		}
	}
	return def
}

// GetBool returns the bool stored under key, or false.
func (s *SharedStore) GetBool(key string) bool {
	if v, ok := s.Get(key); ok {
		b, _ := v.AsBool()
		return b
	}
	return false
}

// Lookup reads key as T. A missing key or a value of another type is a
// contract violation.
func Lookup[T any](s *SharedStore, key string) (T, error) {
	var zero T
	v, err := s.Require(key)
	if err != nil {
		return zero, err
	}
	t, ok := As[T](v)
	if !ok {
		return zero, &ContractError{Op: "store", Key: key, Msg: "value has kind " + v.Kind().String() + ", want " + typeName[T]()}
	}
	return t, nil
}
