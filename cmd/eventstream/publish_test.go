package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event.yml")
	body := []byte(`group_id: 7
event_id: abc
organization_id: 3
project_id: 42
message: boom
platform: go
datetime: 2024-05-01T12:30:00Z
data:
  level: error
  tags: [a, b]
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	ev, err := loadFixture(path)
	if err != nil {
		t.Fatalf("loadFixture: %v", err)
	}
	if ev.ProjectID != 42 || ev.EventID != "abc" || ev.GroupID != 7 || ev.Data["level"] != "error" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Datetime.Year() != 2024 {
		t.Fatalf("datetime not parsed: %v", ev.Datetime)
	}
}

func TestLoadFixture_RequiresProject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event.yml")
	if err := os.WriteFile(path, []byte("event_id: abc\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := loadFixture(path); err == nil {
		t.Fatal("expected error without project_id")
	}
}

func TestNewEventID_Hex(t *testing.T) {
	id := newEventID()
	if len(id) != 32 {
		t.Fatalf("want 32 hex chars, got %q", id)
	}
	for _, r := range id {
		if !('0' <= r && r <= '9' || 'a' <= r && r <= 'f') {
			t.Fatalf("non-hex id %q", id)
		}
	}
}
