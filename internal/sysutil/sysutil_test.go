package sysutil

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, c := range cases {
		SetLogLevel(c.in)
		if got := zerolog.GlobalLevel(); got != c.want {
			t.Fatalf("SetLogLevel(%q): level = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Fatalf("got %q, want x", got)
	}
	if got := FirstNonEmpty("", "  "); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
	if got := FirstNonEmpty(); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}
