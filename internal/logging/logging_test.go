package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"debug":  zapcore.DebugLevel,
		" WARN ": zapcore.WarnLevel,
		"error":  zapcore.ErrorLevel,
		"":       zapcore.InfoLevel,
		"chatty": zapcore.InfoLevel,
	} {
		l, err := New(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if !l.Core().Enabled(want) || (want > zapcore.DebugLevel && l.Core().Enabled(want-1)) {
			t.Fatalf("%q: want level %v", in, want)
		}
	}
}
