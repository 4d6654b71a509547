package player

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sonroyaalmerol/kumacast/internal/spotify"
	"github.com/sonroyaalmerol/kumacast/internal/stream"
	spotifyapi "github.com/zmb3/spotify/v2"
)

// Resolver turns a free-text request into playable track metadata. It never
// touches session state.
type Resolver interface {
	Resolve(ctx context.Context, request string) (TrackMetadata, error)
}

// ClipStore is the static clip table: exact phrase to local file.
type ClipStore interface {
	Find(ctx context.Context, phrase string) (path string, ok bool, err error)
}

type TrackLookup interface {
	GetInfo(ctx context.Context, target string) (*stream.YTDLPInfo, error)
}

type SpotifyTracks interface {
	GetTrack(ctx context.Context, id spotifyapi.ID) (spotify.Track, error)
}

var directExtensions = map[string]bool{
	".mp3": true, ".ogg": true, ".opus": true, ".wav": true, ".flac": true,
	".m4a": true, ".aac": true, ".webm": true, ".mka": true,
}

type SourceResolver struct {
	clips   ClipStore
	lookup  TrackLookup
	spotify SpotifyTracks // nil when no credentials are configured
}

func NewSourceResolver(clips ClipStore, lookup TrackLookup, sp SpotifyTracks) *SourceResolver {
	return &SourceResolver{clips: clips, lookup: lookup, spotify: sp}
}

func (r *SourceResolver) Resolve(ctx context.Context, request string) (TrackMetadata, error) {
	q := strings.TrimSpace(request)
	if q == "" {
		return TrackMetadata{}, &ResolutionError{Request: request, Reason: "empty request"}
	}

	if r.clips != nil {
		p, ok, err := r.clips.Find(ctx, q)
		if err != nil {
			slog.Warn("clip lookup failed", "request", q, "err", err)
		} else if ok {
			return TrackMetadata{Title: q, Locator: p, Source: SourceClip}, nil
		}
	}

	target := q
	switch {
	case isSpotify(q):
		t, err := r.spotifyTrack(ctx, q)
		if err != nil {
			return TrackMetadata{}, err
		}
		target = "ytsearch1:" + t.SearchQuery()
	case isURL(q):
		if isDirectMedia(q) {
			return TrackMetadata{Title: q, Locator: q, Source: SourceDirect, Deferred: true}, nil
		}
	default:
		target = "ytsearch1:" + q
	}

	info, err := r.lookup.GetInfo(ctx, target)
	if err != nil {
		slog.Warn("stream lookup failed", "request", q, "err", err)
		return TrackMetadata{}, &ResolutionError{Request: q, Reason: "nothing found", Cause: err}
	}
	if info.IsLive || info.Duration <= 0 {
		return TrackMetadata{}, &ResolutionError{Request: q, Reason: "live streams unsupported"}
	}
	locator := stream.AudioURL(info)
	if locator == "" {
		return TrackMetadata{}, &ResolutionError{Request: q, Reason: "no playable stream"}
	}

	return TrackMetadata{
		Title:     info.Title,
		Uploader:  info.Uploader,
		Duration:  time.Duration(info.Duration * float64(time.Second)),
		Thumbnail: stream.ThumbnailURL(info),
		Locator:   locator,
		Likes:     info.LikeCount,
		Views:     info.ViewCount,
		Source:    SourceRemote,
	}, nil
}

func (r *SourceResolver) spotifyTrack(ctx context.Context, q string) (spotify.Track, error) {
	if r.spotify == nil {
		return spotify.Track{}, &ResolutionError{Request: q, Reason: "spotify is not enabled"}
	}
	typ, id, err := spotify.ParseID(q)
	if err != nil {
		return spotify.Track{}, &ResolutionError{Request: q, Reason: "invalid spotify link", Cause: err}
	}
	if typ != "track" {
		return spotify.Track{}, &ResolutionError{Request: q, Reason: "only spotify track links are supported"}
	}
	t, err := r.spotify.GetTrack(ctx, id)
	if err != nil {
		slog.Warn("spotify lookup failed", "request", q, "err", err)
		return spotify.Track{}, &ResolutionError{Request: q, Reason: "spotify lookup failed", Cause: err}
	}
	return t, nil
}

func isSpotify(q string) bool {
	_, _, err := spotify.ParseID(q)
	return !errors.Is(err, spotify.ErrNotSpotify)
}

func isURL(q string) bool {
	return strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://")
}

func isDirectMedia(q string) bool {
	u, err := url.Parse(q)
	if err != nil {
		return false
	}
	return directExtensions[strings.ToLower(path.Ext(u.Path))]
}
