package utils

import (
	"strings"
	"testing"
)

func TestPrettyTime(t *testing.T) {
	tests := []struct {
		sec  int
		want string
	}{
		{0, "0:00"},
		{65, "1:05"},
		{3600, "1:00:00"},
		{3725, "1:02:05"},
		{-4, "0:00"},
	}
	for _, tc := range tests {
		if got := PrettyTime(tc.sec); got != tc.want {
			t.Errorf("PrettyTime(%d) = %q, want %q", tc.sec, got, tc.want)
		}
	}
}

func TestEscapeMd(t *testing.T) {
	if got, want := EscapeMd("a_b*c`d~e"), "a\\_b\\*c\\`d\\~e"; got != want {
		t.Errorf("EscapeMd = %q, want %q", got, want)
	}
}

func TestStreamHeaders(t *testing.T) {
	got := StreamHeaders(map[string]string{"referer": " https://example.com/ ", "accept": "audio/*"})
	for _, want := range []string{
		"Referer: https://example.com/\r\n",
		"Accept: audio/*\r\n",
		"Connection: keep-alive\r\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("headers missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Accept: */*") {
		t.Errorf("default not overridden:\n%s", got)
	}
	if !strings.HasPrefix(got, "Accept:") {
		t.Errorf("headers not sorted:\n%s", got)
	}
}
