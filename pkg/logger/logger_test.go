package logger

import (
	"bytes"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer, level LogLevel) *Logger {
	return New(Config{Level: level, Output: buf, Colorize: false, ShowTime: false})
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, WARN)

	l.Infof("hidden %d", 1)
	l.Warnf("shown %d", 2)
	l.Errorf("also shown %d", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("INFO line should be filtered at WARN level: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown 2") {
		t.Errorf("missing WARN line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] also shown 3") {
		t.Errorf("missing ERROR line: %q", out)
	}
}

func TestWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, DEBUG).WithPrefix("[graph]").WithPrefix("[shard]")

	l.Debugf("edges=%d", 4)

	if got := strings.TrimSpace(buf.String()); got != "[DEBUG] [graph] [shard] edges=4" {
		t.Errorf("unexpected line %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"debug", DEBUG, true},
		{" Warning ", WARN, true},
		{"ERROR", ERROR, true},
		{"loud", INFO, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v,%v want %v,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
