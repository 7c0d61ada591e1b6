package store

import (
	"context"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoomSettings(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	value, err := s.GetRoomSetting(ctx, "!room:example.com", "model")
	if err != nil {
		t.Fatalf("GetRoomSetting (unset): %v", err)
	}
	if value != "" {
		t.Errorf("unset setting = %q, want empty", value)
	}

	if err := s.SetRoomSetting(ctx, "!room:example.com", "model", "gpt-4o"); err != nil {
		t.Fatalf("SetRoomSetting: %v", err)
	}
	if err := s.SetRoomSetting(ctx, "!room:example.com", "model", "gpt-4o-mini"); err != nil {
		t.Fatalf("SetRoomSetting (overwrite): %v", err)
	}

	value, err = s.GetRoomSetting(ctx, "!room:example.com", "model")
	if err != nil {
		t.Fatalf("GetRoomSetting: %v", err)
	}
	if value != "gpt-4o-mini" {
		t.Errorf("setting = %q, want gpt-4o-mini", value)
	}

	// Settings are scoped per room.
	value, err = s.GetRoomSetting(ctx, "!other:example.com", "model")
	if err != nil {
		t.Fatalf("GetRoomSetting (other room): %v", err)
	}
	if value != "" {
		t.Errorf("other room setting = %q, want empty", value)
	}
}

func TestBoolRoomSetting(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	on, err := s.BoolRoomSetting(ctx, "!room:example.com", "stt", true)
	if err != nil {
		t.Fatalf("BoolRoomSetting (unset): %v", err)
	}
	if !on {
		t.Error("unset bool setting should fall back to default true")
	}

	if err := s.SetRoomSetting(ctx, "!room:example.com", "stt", "0"); err != nil {
		t.Fatalf("SetRoomSetting: %v", err)
	}
	on, err = s.BoolRoomSetting(ctx, "!room:example.com", "stt", true)
	if err != nil {
		t.Fatalf("BoolRoomSetting: %v", err)
	}
	if on {
		t.Error(`"0" should read as false`)
	}
}

func TestUsageAccounting(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entries := []struct {
		message string
		api     string
		tokens  int
	}{
		{"$m1", "openai", 120},
		{"$m2", "openai", 80},
		{"$m3", "anthropic", 50},
	}
	for _, e := range entries {
		if err := s.LogUsage(ctx, e.message, "!room:example.com", e.api, e.tokens); err != nil {
			t.Fatalf("LogUsage(%s): %v", e.message, err)
		}
	}
	// Replayed message IDs must not double-count.
	if err := s.LogUsage(ctx, "$m1", "!room:example.com", "openai", 120); err != nil {
		t.Fatalf("LogUsage (replay): %v", err)
	}

	usage, err := s.RoomUsage(ctx, "!room:example.com")
	if err != nil {
		t.Fatalf("RoomUsage: %v", err)
	}
	if usage["openai"] != 200 {
		t.Errorf("openai usage = %d, want 200", usage["openai"])
	}
	if usage["anthropic"] != 50 {
		t.Errorf("anthropic usage = %d, want 50", usage["anthropic"])
	}
}

func TestMigrateIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetRoomSetting(context.Background(), "!r:x", "debug", "1"); err != nil {
		t.Fatalf("SetRoomSetting: %v", err)
	}
	s.Close()

	// Reopening must not reapply migrations or lose data.
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	value, err := s.GetRoomSetting(context.Background(), "!r:x", "debug")
	if err != nil {
		t.Fatalf("GetRoomSetting: %v", err)
	}
	if value != "1" {
		t.Errorf("setting after reopen = %q, want 1", value)
	}
}
