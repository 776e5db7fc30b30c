package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level    string
		encoding string
		wantErr  bool
	}{
		{"", "", false},
		{"debug", "json", false},
		{"WARN", "console", false},
		{"loud", "json", true},
		{"info", "xml", true},
	}

	for _, tt := range tests {
		logger, err := New(tt.level, tt.encoding)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q, %q) error = %v, wantErr %v", tt.level, tt.encoding, err, tt.wantErr)
			continue
		}
		if err == nil && logger == nil {
			t.Errorf("New(%q, %q) returned nil logger", tt.level, tt.encoding)
		}
	}
}

func TestNew_Level(t *testing.T) {
	logger, err := New("warn", "json")
	if err != nil {
		t.Fatal(err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug enabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn disabled at warn level")
	}
}
