package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEvent_New(t *testing.T) {
	event := NewEvent("light.main_galley", "set")

	if event.EntityID != "light.main_galley" {
		t.Errorf("EntityID = %q, want %q", event.EntityID, "light.main_galley")
	}
	if event.Command != "set" {
		t.Errorf("Command = %q, want %q", event.Command, "set")
	}
	if event.ID == "" {
		t.Error("ID should not be empty")
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestEvent_Chaining(t *testing.T) {
	event := NewEvent("light.main_galley", "set").
		WithParameters(`{"brightness":75}`).
		WithBulk("bulk-123").
		WithSuccess().
		WithDuration(time.Second).
		WithClient("192.168.1.10", "req-1")

	if event.Parameters != `{"brightness":75}` {
		t.Errorf("Parameters = %q", event.Parameters)
	}
	if event.BulkID != "bulk-123" {
		t.Errorf("BulkID = %q", event.BulkID)
	}
	if !event.Success {
		t.Error("Success should be true")
	}
	if event.Duration != time.Second {
		t.Errorf("Duration = %v", event.Duration)
	}
	if event.ClientIP != "192.168.1.10" || event.RequestID != "req-1" {
		t.Errorf("Client = %q / %q", event.ClientIP, event.RequestID)
	}
}

func TestEvent_WithError(t *testing.T) {
	event := NewEvent("light.main_galley", "toggle").WithError("ENTITY_UNAVAILABLE")

	if event.Success {
		t.Error("Success should be false")
	}
	if event.Error != "ENTITY_UNAVAILABLE" {
		t.Errorf("Error = %q", event.Error)
	}
}

func newTestLogger(t *testing.T, rotation RotationConfig) *FileLogger {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewFileLogger(logPath, rotation)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestFileLogger_Basic(t *testing.T) {
	logger := newTestLogger(t, RotationConfig{})

	event := NewEvent("light.main_galley", "set").
		WithParameters(`{"state":true}`).
		WithSuccess()

	if err := logger.Log(event); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events, err := logger.Query(Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].EntityID != "light.main_galley" {
		t.Errorf("EntityID = %q", events[0].EntityID)
	}
	if events[0].Command != "set" {
		t.Errorf("Command = %q", events[0].Command)
	}
}

func TestFileLogger_QueryFilters(t *testing.T) {
	logger := newTestLogger(t, RotationConfig{})

	events := []*Event{
		NewEvent("light.main_galley", "set").WithSuccess(),
		NewEvent("light.bedroom", "toggle").WithSuccess(),
		NewEvent("light.main_galley", "brightness_up").WithError("ENTITY_UNAVAILABLE"),
		NewEvent("lock.entry_door", "lock").WithBulk("bulk-9").WithSuccess(),
	}
	for _, e := range events {
		if err := logger.Log(e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	t.Run("filter by entity", func(t *testing.T) {
		results, _ := logger.Query(Filter{EntityID: "light.main_galley"})
		if len(results) != 2 {
			t.Errorf("Expected 2 events for light.main_galley, got %d", len(results))
		}
	})

	t.Run("filter by command", func(t *testing.T) {
		results, _ := logger.Query(Filter{Command: "toggle"})
		if len(results) != 1 {
			t.Errorf("Expected 1 toggle event, got %d", len(results))
		}
	})

	t.Run("filter by bulk id", func(t *testing.T) {
		results, _ := logger.Query(Filter{BulkID: "bulk-9"})
		if len(results) != 1 {
			t.Errorf("Expected 1 event for bulk-9, got %d", len(results))
		}
	})

	t.Run("filter success only", func(t *testing.T) {
		results, _ := logger.Query(Filter{SuccessOnly: true})
		if len(results) != 3 {
			t.Errorf("Expected 3 successful events, got %d", len(results))
		}
	})

	t.Run("filter failure only", func(t *testing.T) {
		results, _ := logger.Query(Filter{FailureOnly: true})
		if len(results) != 1 {
			t.Errorf("Expected 1 failed event, got %d", len(results))
		}
	})

	t.Run("filter with limit and offset", func(t *testing.T) {
		results, _ := logger.Query(Filter{Limit: 2})
		if len(results) != 2 {
			t.Errorf("Expected 2 events with limit, got %d", len(results))
		}
		results, _ = logger.Query(Filter{Offset: 3})
		if len(results) != 1 {
			t.Errorf("Expected 1 event with offset 3, got %d", len(results))
		}
	})
}

func TestFileLogger_QueryTimeFilter(t *testing.T) {
	logger := newTestLogger(t, RotationConfig{})

	logger.Log(NewEvent("light.main_galley", "set").WithSuccess())

	results, _ := logger.Query(Filter{
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	})
	if len(results) != 1 {
		t.Errorf("Expected 1 event in time range, got %d", len(results))
	}

	results, _ = logger.Query(Filter{StartTime: time.Now().Add(time.Hour)})
	if len(results) != 0 {
		t.Errorf("Expected 0 events outside time range, got %d", len(results))
	}
}

func TestFileLogger_LogRotation(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "audit.log")
	logger, err := NewFileLogger(logPath, RotationConfig{
		MaxSize:    100, // triggers on the second log
		MaxBackups: 2,
	})
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	for i := 0; i < 10; i++ {
		if err := logger.Log(NewEvent("light.main_galley", "set").WithSuccess()); err != nil {
			t.Fatalf("Log failed on iteration %d: %v", i, err)
		}
	}

	matches, err := filepath.Glob(filepath.Join(tmpDir, "audit.log.*"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(matches) == 0 {
		t.Error("Expected rotation to create backup files")
	}
	if len(matches) > 2 {
		t.Errorf("Expected at most 2 backup files, got %d", len(matches))
	}
}

func TestFileLogger_QueryMalformedJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")

	content := `{"entity_id":"light.main_galley","command":"set","success":true}
invalid json line
{"entity_id":"light.bedroom","command":"toggle","success":true}
`
	if err := os.WriteFile(logPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test data: %v", err)
	}

	logger, err := NewFileLogger(logPath, RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	results, err := logger.Query(Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 valid events (skipping malformed), got %d", len(results))
	}
}

func TestDefaultLogger(t *testing.T) {
	SetDefaultLogger(nil)

	if err := Log(NewEvent("light.main_galley", "set")); err != nil {
		t.Errorf("Log with nil default should not error: %v", err)
	}
	results, err := Query(Filter{})
	if err != nil {
		t.Errorf("Query with nil default should not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected 0 results, got %d", len(results))
	}

	logger := newTestLogger(t, RotationConfig{})
	SetDefaultLogger(logger)
	defer SetDefaultLogger(nil)

	if err := Log(NewEvent("light.bedroom", "toggle").WithSuccess()); err != nil {
		t.Errorf("Log failed: %v", err)
	}
	results, err = Query(Filter{})
	if err != nil {
		t.Errorf("Query failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Expected 1 result, got %d", len(results))
	}
}
