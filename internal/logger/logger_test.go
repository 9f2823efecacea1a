package logger

import "testing"

func TestSanitizeRedactsSecretKeys(t *testing.T) {
	out := sanitizeKVs([]interface{}{"entity_id", "node_1", "api_key", "abc", "meta", map[string]interface{}{"Password": "hunter2", "source": "paste"}})
	if out[1] != "node_1" {
		t.Fatalf("entity_id = %v", out[1])
	}
	if out[3] != "[REDACTED]" {
		t.Fatalf("api_key = %v, want redacted", out[3])
	}
	meta, ok := out[5].(map[string]interface{})
	if !ok {
		t.Fatalf("meta = %T", out[5])
	}
	if meta["Password"] != "[REDACTED]" || meta["source"] != "paste" {
		t.Fatalf("meta = %v", meta)
	}
}

func TestSanitizeKeepsDanglingKey(t *testing.T) {
	out := sanitizeKVs([]interface{}{"a", 1, "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("out = %v", out)
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "off"} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		l.Info("hello", "mode", mode)
	}
	NewNop().Warn("discarded")
}
