package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: FormatJSON,
				Output: &bytes.Buffer{},
			},
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: FormatText,
				Output: &bytes.Buffer{},
			},
		},
		{
			name: "logfmt format",
			config: &Config{
				Level:  LevelDebug,
				Format: FormatLogfmt,
				Output: &bytes.Buffer{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithScope(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: FormatLogfmt, Output: &buf, NoColor: true}
	logger := NewLogger(config)

	vmLogger := logger.WithScope("vm")
	vmLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "scope=vm") {
		t.Errorf("expected scope=vm in output, got: %s", output)
	}

	buf.Reset()
	componentLogger := vmLogger.WithComponent("tlbmanager")
	componentLogger.Info("buffer committed")

	output = buf.String()
	if !strings.Contains(output, "scope=vm") {
		t.Errorf("expected scope=vm in component logger output, got: %s", output)
	}
	if !strings.Contains(output, "component=tlbmanager") {
		t.Errorf("expected component=tlbmanager in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: FormatText, Output: &buf, NoColor: true}

	logger := NewLogger(config)
	testErr := errors.New("upstream call failed")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "upstream call failed") {
		t.Errorf("expected 'upstream call failed' in output, got: %s", output)
	}
}

func TestLoggerLevelGating(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarning, Format: FormatText, Output: &buf, NoColor: true})

	logger.Debug("should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got: %s", buf.String())
	}

	logger.Error("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}

func TestLoggerOffLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelOff, Format: FormatText, Output: &buf})
	logger.Error("must never appear")
	if buf.Len() != 0 {
		t.Errorf("expected no output at LevelOff, got: %s", buf.String())
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: FormatText, Output: &buf, NoColor: true}

	SetDefault(NewLogger(config))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warning", LevelWarning, false},
		{"warn", LevelWarning, false},
		{"error", LevelError, false},
		{"off", LevelOff, false},
		{"bogus", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
