package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/km200-bridge/internal/audit"
	"github.com/nerrad567/km200-bridge/internal/km200"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("KM200_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingMeasurements verifies run fails before touching the
// network when the measurements file does not exist.
func TestRun_MissingMeasurements(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
mode: exporter
device:
  host: "127.0.0.1:1"
  passcode: "000102030405060708090a0b0c0d0e0f"
poll:
  interval: 60s
  measurements_file: "` + filepath.Join(tmpDir, "missing.yaml") + `"
logging:
  level: error
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("KM200_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when the measurements file is missing")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("KM200_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("KM200_CONFIG", "/etc/km200/config.yaml")
	if got := getConfigPath(); got != "/etc/km200/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env override", got)
	}
}

func TestAuditEntry(t *testing.T) {
	received := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		result        km200.WriteResult
		wantPath      string
		wantConfirmed string
	}{
		{
			name: "numeric confirmation",
			result: km200.WriteResult{
				RequestID: "req-1",
				Topic:     "km200/set/heatingCircuits/hc1/temperatureLevels/comfort2",
				ID:        "/heatingCircuits/hc1/temperatureLevels/comfort2",
				Payload:   "21.5",
				State:     km200.WriteConfirmed,
				Confirmed: &km200.DecodedValue{ValueType: km200.Numeric, Number: 21.5},
			},
			wantPath:      "/heatingCircuits/hc1/temperatureLevels/comfort2",
			wantConfirmed: "21.5",
		},
		{
			name: "enumerated confirmation",
			result: km200.WriteResult{
				ID:        "/heatingCircuits/hc1/operationMode",
				Payload:   "auto",
				State:     km200.WriteConfirmed,
				Confirmed: &km200.DecodedValue{ValueType: km200.EnumeratedString, Text: "auto"},
			},
			wantPath:      "/heatingCircuits/hc1/operationMode",
			wantConfirmed: "auto",
		},
		{
			name: "unresolved topic falls back to topic",
			result: km200.WriteResult{
				Topic:  "other/topic",
				State:  km200.WriteRejected,
				Reason: "unknown topic",
			},
			wantPath: "other/topic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.result.ReceivedAt = received
			tt.result.Duration = 40 * time.Millisecond

			entry := auditEntry(tt.result)
			if entry.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", entry.Path, tt.wantPath)
			}
			if entry.ConfirmedValue != tt.wantConfirmed {
				t.Errorf("ConfirmedValue = %q, want %q", entry.ConfirmedValue, tt.wantConfirmed)
			}
			if entry.State != string(tt.result.State) {
				t.Errorf("State = %q, want %q", entry.State, tt.result.State)
			}
			if !entry.CreatedAt.Equal(received) {
				t.Errorf("CreatedAt = %v, want %v", entry.CreatedAt, received)
			}
			if entry.Duration != 40*time.Millisecond {
				t.Errorf("Duration = %v", entry.Duration)
			}
		})
	}
}

type stubRecorder struct {
	entries []*audit.Entry
	err     error
}

func (s *stubRecorder) Record(entry *audit.Entry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func TestAuditAdapter_RecordWrite(t *testing.T) {
	stub := &stubRecorder{}
	adapter := &auditAdapter{recorder: stub}

	if err := adapter.RecordWrite(km200.WriteResult{ID: "/a", State: km200.WriteFailed}); err != nil {
		t.Fatalf("RecordWrite() error = %v", err)
	}
	if len(stub.entries) != 1 || stub.entries[0].Path != "/a" {
		t.Fatalf("entries = %+v", stub.entries)
	}

	stub.err = audit.ErrDropped
	err := adapter.RecordWrite(km200.WriteResult{ID: "/a", State: km200.WriteFailed})
	if !errors.Is(err, audit.ErrDropped) {
		t.Errorf("RecordWrite() error = %v, want ErrDropped", err)
	}
}
