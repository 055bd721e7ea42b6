package main

import (
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short passes through", "hello", 10, "hello"},
		{"exact length passes through", "hello", 5, "hello"},
		{"long ascii", "abcdefghij", 8, "abcde..."},
		{"multibyte counts runes", "漢字漢字漢字", 5, "漢字..."},
		{"mixed keeps rune boundary", "ab漢字cd", 5, "ab..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
			}
		})
	}
}
