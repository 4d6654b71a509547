package repository

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	db, err := openPath(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	repo := NewRepo(db)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSettingsDefaultsAndUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	got, err := repo.GetSettings(ctx, "g1")
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	want := &Settings{GuildID: "g1", SecondsWaitAfterEmpty: 30, DefaultVolume: 100}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}

	got.SecondsWaitAfterEmpty = 5
	got.DefaultVolume = 50
	if err := repo.UpdateSettings(ctx, got); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	again, err := repo.UpsertSettings(ctx, "g1")
	if err != nil {
		t.Fatalf("UpsertSettings: %v", err)
	}
	if diff := cmp.Diff(got, again); diff != "" {
		t.Errorf("updated settings mismatch (-want +got):\n%s", diff)
	}
}

func TestSettingsConfiguredDefaults(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	repo.SetDefaultSettings(90, 60)

	got, err := repo.GetSettings(ctx, "g2")
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	want := &Settings{GuildID: "g2", SecondsWaitAfterEmpty: 90, DefaultVolume: 60}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}

	stored, err := repo.UpsertSettings(ctx, "g2")
	if err != nil {
		t.Fatalf("UpsertSettings: %v", err)
	}
	if diff := cmp.Diff(want, stored); diff != "" {
		t.Errorf("upserted row mismatch (-want +got):\n%s", diff)
	}
}

func TestClipsLoadAndFind(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	svc := NewClipsService(repo)

	dir := t.TempDir()
	file := filepath.Join(dir, "clips.json")
	content := `{"airhorn": {"path": "sounds/airhorn.ogg"}, "bruh": {"path": "/abs/bruh.mp3"}}`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := svc.LoadFile(ctx, file)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if n != 2 {
		t.Errorf("loaded %d clips, want 2", n)
	}

	path, ok, err := svc.Find(ctx, "airhorn")
	if err != nil || !ok {
		t.Fatalf("Find(airhorn) = %q, %v, %v", path, ok, err)
	}
	if want := filepath.Join(dir, "sounds/airhorn.ogg"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	if _, ok, err := svc.Find(ctx, "Airhorn"); err != nil || ok {
		t.Errorf("Find is expected to be exact-match, got ok=%v err=%v", ok, err)
	}

	// Reloading replaces the table.
	if err := os.WriteFile(file, []byte(`{"bruh": {"path": "/abs/bruh.mp3"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.LoadFile(ctx, file); err != nil {
		t.Fatalf("reload: %v", err)
	}
	clips, err := repo.ListClips(ctx)
	if err != nil {
		t.Fatalf("ListClips: %v", err)
	}
	phrases := make([]string, 0, len(clips))
	for _, c := range clips {
		phrases = append(phrases, c.Phrase)
	}
	if !slices.Equal(phrases, []string{"bruh"}) {
		t.Errorf("phrases after reload = %v", phrases)
	}
}

func TestParseClipsRejectsEmptyPath(t *testing.T) {
	if _, err := parseClips([]byte(`{"x": {"path": ""}}`), "/"); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := parseClips([]byte(`not json`), "/"); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestPlayHistoryAndCacheIndex(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	for i := 0; i < 3; i++ {
		if err := repo.RecordPlay(ctx, PlayRecord{GuildID: "g", RequesterID: "u", Request: "q", Title: "t"}); err != nil {
			t.Fatalf("RecordPlay: %v", err)
		}
	}
	n, err := repo.CountPlays(ctx)
	if err != nil || n != 3 {
		t.Errorf("CountPlays = %d, %v; want 3", n, err)
	}

	if err := repo.CacheTouch(ctx, "a", 10, true); err != nil {
		t.Fatal(err)
	}
	if err := repo.CacheTouch(ctx, "b", 20, true); err != nil {
		t.Fatal(err)
	}
	total, err := repo.CacheTotalBytes(ctx)
	if err != nil || total != 30 {
		t.Errorf("CacheTotalBytes = %d, %v; want 30", total, err)
	}
	if err := repo.CacheRemove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	oldest, err := repo.CacheOldest(ctx)
	if err != nil || oldest != "b" {
		t.Errorf("CacheOldest = %q, %v; want b", oldest, err)
	}
}
