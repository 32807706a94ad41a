package utils

import (
	"strings"
	"testing"
	"time"
)

func TestIDs(t *testing.T) {
	a, b := NewCallSessionID(), NewCallSessionID()
	if a == b {
		t.Errorf("expected unique ids, got %s twice", a)
	}
	if !strings.HasPrefix(a, "call_") {
		t.Errorf("NewCallSessionID() = %s, want call_ prefix", a)
	}
	if !strings.HasPrefix(NewConnectionID(), "conn_") {
		t.Errorf("connection id missing prefix")
	}
	if got := len(NewInstanceID()); got != len("gw_")+12 {
		t.Errorf("NewInstanceID() length = %d", got)
	}
	if strings.Contains(NewTraceID(), "-") {
		t.Errorf("trace id should be compact")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{1500 * time.Millisecond, "1.50s"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 5*time.Minute, "2h5m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestTruncateString(t *testing.T) {
	if got := TruncateString("hello world", 8); got != "hello..." {
		t.Errorf("TruncateString() = %q", got)
	}
	if got := TruncateString("hi", 8); got != "hi" {
		t.Errorf("TruncateString() = %q", got)
	}
	if got := TruncateString("hello", 2); got != "he" {
		t.Errorf("TruncateString() = %q", got)
	}
}
