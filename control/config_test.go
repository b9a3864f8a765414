// control/config_test.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigStoreMergeAndSnapshot(t *testing.T) {
	cs := NewConfigStore()
	cs.Merge(map[string]any{"a": 1, "b": "x"})
	cs.Merge(map[string]any{"b": "y"})

	snap := cs.Snapshot()
	if snap["a"] != 1 || snap["b"] != "y" {
		t.Fatalf("snapshot = %v", snap)
	}
	snap["a"] = 99
	if cs.Int("a", 0) != 1 {
		t.Fatal("snapshot mutation leaked into the store")
	}
}

func TestConfigStoreListenerOrder(t *testing.T) {
	cs := NewConfigStore()
	var order []int
	cs.OnReload(func() { order = append(order, 1) })
	cs.OnReload(func() { order = append(order, 2) })

	cs.Merge(map[string]any{"k": "v"})
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("dispatch order = %v", order)
	}
}

func TestConfigStoreTypedGetters(t *testing.T) {
	cs := NewConfigStore()
	cs.Merge(map[string]any{
		"dur":      2 * time.Second,
		"dur_str":  "150ms",
		"dur_json": float64(250),
		"dur_bare": "300",
		"num_json": float64(7),
		"num_str":  "8",
		"str":      "text",
		"flag_str": "true",
		"junk":     struct{}{},
	})

	if got := cs.Duration("dur", 0); got != 2*time.Second {
		t.Errorf("dur = %v", got)
	}
	if got := cs.Duration("dur_str", 0); got != 150*time.Millisecond {
		t.Errorf("dur_str = %v", got)
	}
	if got := cs.Duration("dur_json", 0); got != 250*time.Millisecond {
		t.Errorf("dur_json = %v", got)
	}
	if got := cs.Duration("dur_bare", 0); got != 300*time.Millisecond {
		t.Errorf("dur_bare = %v", got)
	}
	if got := cs.Duration("absent", time.Minute); got != time.Minute {
		t.Errorf("absent duration = %v", got)
	}
	if got := cs.Duration("junk", time.Minute); got != time.Minute {
		t.Errorf("junk duration = %v", got)
	}
	if got := cs.Int("num_json", 0); got != 7 {
		t.Errorf("num_json = %d", got)
	}
	if got := cs.Int("num_str", 0); got != 8 {
		t.Errorf("num_str = %d", got)
	}
	if got := cs.String("str", ""); got != "text" {
		t.Errorf("str = %q", got)
	}
	if !cs.Bool("flag_str", false) {
		t.Error("flag_str should parse true")
	}
	if !cs.Bool("absent", true) {
		t.Error("absent bool should fall back")
	}
}

func TestConfigStoreJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wsdial.json")
	if err := os.WriteFile(path, []byte(`{"response_timeout": "2s", "max_events": 128}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cs := NewConfigStore()
	fired := 0
	cs.OnReload(func() { fired++ })

	if err := cs.LoadJSONFile(path); err != nil {
		t.Fatalf("LoadJSONFile: %v", err)
	}
	if got := cs.Duration("response_timeout", 0); got != 2*time.Second {
		t.Errorf("response_timeout = %v", got)
	}
	if got := cs.Int("max_events", 0); got != 128 {
		t.Errorf("max_events = %d", got)
	}
	if fired != 1 {
		t.Errorf("reload dispatches = %d", fired)
	}

	if err := cs.LoadJSONFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file must surface an error")
	}
}

func TestConfigStoreEnv(t *testing.T) {
	t.Setenv("WSDIAL_RESPONSE_TIMEOUT", "450ms")
	t.Setenv("WSDIAL_DEBUG", "true")

	cs := NewConfigStore()
	cs.LoadEnv("WSDIAL_")
	if got := cs.Duration("response_timeout", 0); got != 450*time.Millisecond {
		t.Errorf("response_timeout = %v", got)
	}
	if !cs.Bool("debug", false) {
		t.Error("debug flag missing")
	}
}
