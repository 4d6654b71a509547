package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	ytdlp "github.com/lrstanley/go-ytdlp"
)

type YTDLPFormat struct {
	Url    string `json:"url"`
	Acodec string `json:"acodec"`
}

type YTDLPInfo struct {
	Id         string   `json:"id"`
	Title      string   `json:"title"`
	Uploader   string   `json:"uploader"`
	Duration   float64  `json:"duration"`
	IsLive     bool     `json:"is_live"`
	WebpageUrl string   `json:"webpage_url"`
	Thumbnail  string   `json:"thumbnail"`
	LikeCount  *int64   `json:"like_count"`
	ViewCount  *int64   `json:"view_count"`
	Url        string   `json:"url"`
	Thumbnails []struct {
		Url string `json:"url"`
	} `json:"thumbnails"`
	Formats          []YTDLPFormat `json:"formats"`
	RequestedFormats []YTDLPFormat `json:"requested_formats"`

	Entries []YTDLPInfo `json:"entries"`
}

type YtdlpOptions struct {
	CookiesPath string
	POToken     string
}

// Ytdlp wraps the yt-dlp binary for metadata and stream URL lookups.
type Ytdlp struct {
	opts        YtdlpOptions
	installOnce sync.Once
}

func NewYtdlp(opts YtdlpOptions) *Ytdlp {
	return &Ytdlp{opts: opts}
}

func (y *Ytdlp) command(target string) *ytdlp.Command {
	cmd := ytdlp.New().
		Format("ba[acodec^=opus]/ba[ext=m4a]/bestaudio/best").
		NoCheckCertificates().
		NoPlaylist().
		DumpJSON()

	if y.opts.CookiesPath != "" {
		cmd = cmd.Cookies(y.opts.CookiesPath)
	}
	if isYouTube(target) {
		args := "youtube:player-client=default,mweb"
		if y.opts.POToken != "" {
			args += ";po_token=" + y.opts.POToken
		}
		cmd = cmd.ExtractorArgs(args)
	}
	return cmd
}

// GetInfo runs yt-dlp against target, which may be a URL or an
// "ytsearch1:" query, and returns the first result.
func (y *Ytdlp) GetInfo(ctx context.Context, target string) (*YTDLPInfo, error) {
	y.installOnce.Do(func() {
		// availability problems surface from Run below
		_, _ = ytdlp.Install(ctx, nil)
	})

	res, err := y.command(target).Run(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp run: %w", err)
	}
	return parseInfo(res.Stdout)
}

// parseInfo reads the first JSON document of yt-dlp output. Search and
// playlist containers are flattened to their first entry.
func parseInfo(out string) (*YTDLPInfo, error) {
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] != '{' {
			continue
		}
		var info YTDLPInfo
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			return nil, fmt.Errorf("parse yt-dlp json: %w", err)
		}
		if len(info.Entries) > 0 {
			first := info.Entries[0]
			return &first, nil
		}
		return &info, nil
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read yt-dlp output: %w", err)
	}
	return nil, errors.New("no results")
}

// AudioURL returns the best playable URL.
// Preferred order: requested_formats, top-level url, then formats[].
func AudioURL(info *YTDLPInfo) string {
	for _, rf := range info.RequestedFormats {
		if strings.HasPrefix(rf.Url, "http") && rf.Acodec != "none" {
			return rf.Url
		}
	}
	if strings.HasPrefix(info.Url, "http") {
		return info.Url
	}
	for i := len(info.Formats) - 1; i >= 0; i-- {
		f := info.Formats[i]
		if strings.HasPrefix(f.Url, "http") && f.Acodec != "none" {
			return f.Url
		}
	}
	return info.WebpageUrl
}

// ThumbnailURL prefers the explicit thumbnail and falls back to the last
// (largest) entry of thumbnails[].
func ThumbnailURL(info *YTDLPInfo) string {
	if info.Thumbnail != "" {
		return info.Thumbnail
	}
	if n := len(info.Thumbnails); n > 0 {
		return info.Thumbnails[n-1].Url
	}
	return ""
}

func isYouTube(target string) bool {
	return strings.HasPrefix(target, "ytsearch") ||
		strings.Contains(target, "youtube.com") ||
		strings.Contains(target, "youtu.be")
}
