package monitoring

import "testing"

func TestSetLoggerNilMutes(t *testing.T) {
	defer SetLogger(nil)

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, format)
	})
	Logf("hello %s", "world")
	if len(lines) != 1 {
		t.Fatalf("logged %d lines, want 1", len(lines))
	}

	SetLogger(nil)
	Logf("dropped")
	if len(lines) != 1 {
		t.Fatalf("nil logger still logged: %v", lines)
	}
}

func TestDebugfGatedOnVerbose(t *testing.T) {
	defer SetLogger(nil)
	defer SetVerbose(false)

	var count int
	SetLogger(func(format string, v ...interface{}) { count++ })

	SetVerbose(false)
	Debugf("invisible")
	if count != 0 {
		t.Fatalf("Debugf logged while verbose off")
	}

	SetVerbose(true)
	if !Verbose() {
		t.Fatal("Verbose() false after SetVerbose(true)")
	}
	Debugf("visible")
	if count != 1 {
		t.Fatalf("Debugf logged %d lines with verbose on, want 1", count)
	}
}
