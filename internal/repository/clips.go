package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ClipsService loads the static clip table from a JSON file of the form
// {"phrase": {"path": "relative/or/absolute.ogg"}} into the clips table.
// Relative paths are resolved against the file's directory.
type ClipsService struct {
	repo *Repo
}

type clipEntry struct {
	Path string `json:"path"`
}

func NewClipsService(repo *Repo) *ClipsService {
	return &ClipsService{repo: repo}
}

func (c *ClipsService) LoadFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read clips file: %w", err)
	}
	clips, err := parseClips(raw, filepath.Dir(path))
	if err != nil {
		return 0, err
	}
	if err := c.repo.ReplaceClips(ctx, clips); err != nil {
		return 0, fmt.Errorf("store clips: %w", err)
	}
	return len(clips), nil
}

func parseClips(raw []byte, baseDir string) ([]Clip, error) {
	var table map[string]clipEntry
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("parse clips file: %w", err)
	}
	out := make([]Clip, 0, len(table))
	for phrase, e := range table {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" || strings.TrimSpace(e.Path) == "" {
			return nil, fmt.Errorf("clip %q: phrase and path are required", phrase)
		}
		p := e.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		out = append(out, Clip{Phrase: phrase, Path: p})
	}
	return out, nil
}

// Find is the lookup the source resolver uses. It reads the table on every
// call so a reloaded clips file takes effect without a restart.
func (c *ClipsService) Find(ctx context.Context, phrase string) (path string, ok bool, err error) {
	clip, ok, err := c.repo.FindClip(ctx, phrase)
	if err != nil || !ok {
		return "", ok, err
	}
	return clip.Path, true, nil
}
