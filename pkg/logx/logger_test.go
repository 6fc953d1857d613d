package logx

import "testing"

func TestNewDefaultsUnknownLevelToInfo(t *testing.T) {
	if parseZapLevel("bogus") != parseZapLevel("INFO") {
		t.Errorf("expected unknown level to default to INFO")
	}
}

func TestKVToFieldsDropsTrailingUnpairedKey(t *testing.T) {
	fields := kvToFields([]interface{}{"a", 1, "b"})
	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}
	if fields[0].Key != "a" {
		t.Errorf("expected key 'a', got %q", fields[0].Key)
	}
}

func TestKVToFieldsNonStringKeyStringified(t *testing.T) {
	fields := kvToFields([]interface{}{42, "value"})
	if fields[0].Key != "42" {
		t.Errorf("expected stringified key '42', got %q", fields[0].Key)
	}
}

func TestWithFieldsReturnsDistinctLoggerImplementingCoreLogger(t *testing.T) {
	l, err := New("DEBUG")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	child := l.WithFields("cycle_id", "cycle-1")
	if child == nil {
		t.Fatal("expected non-nil child logger")
	}
	child.Info("hello")
	if err := l.Sync(); err != nil {
		// stdout sync commonly errors in test sandboxes (ENOTTY); not a functional failure.
		t.Logf("sync returned (tolerated): %v", err)
	}
}
