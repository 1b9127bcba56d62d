package types

import "testing"

func TestReadinessState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ReadinessState
		want     bool
	}{
		{ReadinessInit, ReadinessStarting, true},
		{ReadinessInit, ReadinessReady, true},
		{ReadinessInit, ReadinessFailed, true},
		{ReadinessStarting, ReadinessReady, true},
		{ReadinessStarting, ReadinessFailed, true},
		{ReadinessStarting, ReadinessInit, false},
		{ReadinessStarting, ReadinessStarting, false},
		{ReadinessReady, ReadinessReady, false},
		{ReadinessReady, ReadinessStarting, false},
		{ReadinessReady, ReadinessFailed, false},
		{ReadinessFailed, ReadinessReady, false},
		{ReadinessInit, ReadinessState("bogus"), false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestLogLine_String(t *testing.T) {
	tests := []struct {
		line LogLine
		want string
	}{
		{LogLine{Source: LogSourceStdout, Text: "hello"}, "[OUT] hello"},
		{LogLine{Source: LogSourceStderr, Text: "oops"}, "[ERR] oops"},
		{LogLine{Source: LogSourceSystem, Text: "[SYS] Sidecar PID: 1"}, "[SYS] Sidecar PID: 1"},
	}
	for _, tt := range tests {
		if got := tt.line.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestDriveFile_IsFolder(t *testing.T) {
	if !(DriveFile{MimeType: "application/vnd.google-apps.folder"}).IsFolder() {
		t.Error("expected folder mime type to be a folder")
	}
	if (DriveFile{MimeType: "image/png"}).IsFolder() {
		t.Error("expected image to not be a folder")
	}
}

func TestHealthCheck_Summary(t *testing.T) {
	h := &HealthCheck{Status: "online", System: "Personal Cloud Backend", Port: 54321}
	if got := h.Summary(); got != "Personal Cloud Backend is online on port 54321" {
		t.Errorf("Summary() = %q", got)
	}
	legacy := &HealthCheck{Message: "Hello from backend"}
	if got := legacy.Summary(); got != "Hello from backend" {
		t.Errorf("Summary() = %q", got)
	}
}
