// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Runtime settings store with atomic snapshots and reload propagation.
// The dial context subscribes for tunables that may change between
// dials; everything else stays fixed at construction.

package control

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ConfigStore is a dynamic key/value map. Every merge notifies the
// registered listeners synchronously, in registration order.
type ConfigStore struct {
	mu        sync.RWMutex
	values    map[string]any
	listeners []func()
}

// NewConfigStore initializes an empty store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{values: make(map[string]any)}
}

// Snapshot returns a copy of all current values.
func (cs *ConfigStore) Snapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.values))
	for k, v := range cs.values {
		out[k] = v
	}
	return out
}

// Merge folds new values in and dispatches the reload listeners.
func (cs *ConfigStore) Merge(values map[string]any) {
	cs.mu.Lock()
	for k, v := range values {
		cs.values[k] = v
	}
	listeners := append([]func(){}, cs.listeners...)
	cs.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// OnReload registers a listener invoked after every merge.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

func (cs *ConfigStore) value(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.values[key]
	return v, ok
}

// Duration reads a duration value. Accepted forms: time.Duration, a
// Go duration string, or a bare number of milliseconds. Absent or
// malformed values yield def.
func (cs *ConfigStore) Duration(key string, def time.Duration) time.Duration {
	v, ok := cs.value(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case time.Duration:
		return t
	case string:
		if d, err := time.ParseDuration(t); err == nil {
			return d
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	case float64: // json numbers land here
		return time.Duration(t) * time.Millisecond
	case int:
		return time.Duration(t) * time.Millisecond
	case int64:
		return time.Duration(t) * time.Millisecond
	}
	return def
}

// Int reads an integer value, tolerating json float64 and strings.
func (cs *ConfigStore) Int(key string, def int) int {
	v, ok := cs.value(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

// String reads a string value.
func (cs *ConfigStore) String(key, def string) string {
	if v, ok := cs.value(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool reads a boolean value, tolerating "true"/"false" strings.
func (cs *ConfigStore) Bool(key string, def bool) bool {
	v, ok := cs.value(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	return def
}

// LoadJSONFile merges a flat JSON object read from path.
func (cs *ConfigStore) LoadJSONFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return err
	}
	cs.Merge(values)
	return nil
}

// LoadEnv merges environment variables carrying the given prefix.
// With prefix "WSDIAL_", WSDIAL_RESPONSE_TIMEOUT=2s lands under the
// key "response_timeout".
func (cs *ConfigStore) LoadEnv(prefix string) {
	values := make(map[string]any)
	for _, kv := range os.Environ() {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, prefix))
		if key == "" {
			continue
		}
		values[key] = val
	}
	if len(values) > 0 {
		cs.Merge(values)
	}
}
