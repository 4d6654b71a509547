package spotify

import (
	"errors"
	"testing"

	"github.com/zmb3/spotify/v2"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		typ     string
		id      spotify.ID
		wantErr error
	}{
		{name: "uri", in: "spotify:track:abc123", typ: "track", id: "abc123"},
		{name: "url", in: "https://open.spotify.com/track/abc123?si=x", typ: "track", id: "abc123"},
		{name: "intl url", in: "https://open.spotify.com/intl-de/album/xyz", typ: "album", id: "xyz"},
		{name: "other host", in: "https://youtube.com/watch?v=1", wantErr: ErrNotSpotify},
		{name: "show", in: "https://open.spotify.com/show/abc", wantErr: ErrUnsupportedType},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			typ, id, err := ParseID(tc.in)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if typ != tc.typ || id != tc.id {
				t.Errorf("got (%q, %q), want (%q, %q)", typ, id, tc.typ, tc.id)
			}
		})
	}
}

func TestSearchQuery(t *testing.T) {
	if got := (Track{Name: "Song", Artist: "Band"}).SearchQuery(); got != "Band - Song" {
		t.Errorf("got %q", got)
	}
	if got := (Track{Name: "Song"}).SearchQuery(); got != "Song" {
		t.Errorf("got %q", got)
	}
}
