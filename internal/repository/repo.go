package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const (
	defaultSecondsWaitAfterEmpty = 30
	defaultVolumePercent         = 100
)

func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db, waitAfterEmpty: defaultSecondsWaitAfterEmpty, volume: defaultVolumePercent}
}

// SetDefaultSettings changes what unconfigured guilds get.
func (r *Repo) SetDefaultSettings(secondsWaitAfterEmpty, volumePercent int) {
	r.waitAfterEmpty = secondsWaitAfterEmpty
	r.volume = volumePercent
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) UpsertSettings(ctx context.Context, guild string) (*Settings, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(guild_id, seconds_wait_after_empty, default_volume) VALUES (?,?,?)`,
		guild, r.waitAfterEmpty, r.volume,
	); err != nil {
		return nil, err
	}
	return r.GetSettings(ctx, guild)
}

// GetSettings returns the stored settings for guild, or the defaults when
// the guild has never been configured.
func (r *Repo) GetSettings(ctx context.Context, guild string) (*Settings, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT guild_id, seconds_wait_after_empty, default_volume
	FROM settings WHERE guild_id = ?`, guild)

	var s Settings
	if err := row.Scan(&s.GuildID, &s.SecondsWaitAfterEmpty, &s.DefaultVolume); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &Settings{
				GuildID:               guild,
				SecondsWaitAfterEmpty: r.waitAfterEmpty,
				DefaultVolume:         r.volume,
			}, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repo) UpdateSettings(ctx context.Context, s *Settings) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings(guild_id, seconds_wait_after_empty, default_volume)
		VALUES (?,?,?)
		ON CONFLICT(guild_id) DO UPDATE SET
		  seconds_wait_after_empty=excluded.seconds_wait_after_empty,
		  default_volume=excluded.default_volume`,
		s.GuildID, s.SecondsWaitAfterEmpty, s.DefaultVolume,
	)
	return err
}

// FindClip looks up a static clip by its exact phrase. ok is false when no
// clip is registered under phrase.
func (r *Repo) FindClip(ctx context.Context, phrase string) (clip Clip, ok bool, err error) {
	row := r.db.QueryRowContext(ctx, `SELECT phrase, path FROM clips WHERE phrase = ?`, phrase)
	if err := row.Scan(&clip.Phrase, &clip.Path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Clip{}, false, nil
		}
		return Clip{}, false, err
	}
	return clip, true, nil
}

func (r *Repo) ListClips(ctx context.Context) ([]Clip, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT phrase, path FROM clips ORDER BY phrase ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Clip
	for rows.Next() {
		var c Clip
		if err := rows.Scan(&c.Phrase, &c.Path); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceClips swaps the whole clip table in one transaction.
func (r *Repo) ReplaceClips(ctx context.Context, clips []Clip) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM clips`); err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, c := range clips {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO clips(phrase, path, updated_at) VALUES (?,?,?)`,
			c.Phrase, c.Path, now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repo) RecordPlay(ctx context.Context, rec PlayRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO play_history(guild_id, requester_id, request, title, played_at) VALUES (?,?,?,?,?)`,
		rec.GuildID, rec.RequesterID, rec.Request, rec.Title, time.Now().Unix(),
	)
	return err
}

func (r *Repo) CountPlays(ctx context.Context) (int64, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM play_history`)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Repo) CacheTouch(ctx context.Context, hash string, size int64, created bool) error {
	now := time.Now().Unix()
	if created {
		_, err := r.db.ExecContext(ctx, `INSERT OR REPLACE INTO file_cache(hash,bytes,accessed_at,created_at) VALUES (?,?,?,COALESCE((SELECT created_at FROM file_cache WHERE hash=?),?))`,
			hash, size, now, hash, now)
		return err
	}
	_, err := r.db.ExecContext(ctx, `UPDATE file_cache SET accessed_at=? WHERE hash=?`, now, hash)
	return err
}

func (r *Repo) CacheRemove(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM file_cache WHERE hash=?`, hash)
	return err
}

func (r *Repo) CacheTotalBytes(ctx context.Context) (int64, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(bytes),0) FROM file_cache`)
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (r *Repo) CacheOldest(ctx context.Context) (string, error) {
	row := r.db.QueryRowContext(ctx, `SELECT hash FROM file_cache ORDER BY accessed_at ASC LIMIT 1`)
	var hash string
	if err := row.Scan(&hash); err != nil {
		return "", err
	}
	return hash, nil
}
