package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Proton-105/photostudio/internal/domain"
)

// AvatarRepository persists avatars and their reference photos.
type AvatarRepository interface {
	Create(ctx context.Context, avatar *domain.Avatar) error
	Get(ctx context.Context, id int64) (*domain.Avatar, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Avatar, error)
	Count(ctx context.Context) (int, error)
	UpdateStatus(ctx context.Context, id int64, status domain.AvatarStatus, coverURL string) error
	// Delete removes the avatar; tasks and photos go with it through ON DELETE CASCADE.
	Delete(ctx context.Context, id int64) error
	AddPhoto(ctx context.Context, photo *domain.ReferencePhoto) error
	ListPhotos(ctx context.Context, avatarID int64) ([]domain.ReferencePhoto, error)
	CountPhotos(ctx context.Context, avatarID int64) (int, error)
}

type avatarRepository struct {
	base
}

func NewAvatarRepository(db *sql.DB, log *slog.Logger) AvatarRepository {
	return &avatarRepository{base: newBase(db, log)}
}

const avatarColumns = `id, user_id, name, status, cover_url, created_at, updated_at`

func scanAvatar(row interface{ Scan(...any) error }) (*domain.Avatar, error) {
	var a domain.Avatar
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Status, &a.CoverURL, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *avatarRepository) Create(ctx context.Context, a *domain.Avatar) error {
	if a.Status == "" {
		a.Status = domain.AvatarDraft
	}

	const query = `
		INSERT INTO avatars (user_id, name, status, cover_url)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	if err := r.q(ctx).QueryRowContext(ctx, query, a.UserID, a.Name, a.Status, a.CoverURL).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("insert avatar: %w", err)
	}
	return nil
}

func (r *avatarRepository) Get(ctx context.Context, id int64) (*domain.Avatar, error) {
	a, err := scanAvatar(r.q(ctx).QueryRowContext(ctx, `SELECT `+avatarColumns+` FROM avatars WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("select avatar %d: %w", id, notFound(err))
	}
	return a, nil
}

func (r *avatarRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Avatar, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT `+avatarColumns+` FROM avatars WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list avatars: %w", err)
	}
	defer rows.Close()

	var out []domain.Avatar
	for rows.Next() {
		a, err := scanAvatar(rows)
		if err != nil {
			return nil, fmt.Errorf("scan avatar: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *avatarRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM avatars`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count avatars: %w", err)
	}
	return n, nil
}

func (r *avatarRepository) UpdateStatus(ctx context.Context, id int64, status domain.AvatarStatus, coverURL string) error {
	const query = `
		UPDATE avatars SET status = $2, cover_url = COALESCE(NULLIF($3, ''), cover_url), updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.q(ctx).ExecContext(ctx, query, id, status, coverURL)
	if err != nil {
		return fmt.Errorf("update avatar %d: %w", id, err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return fmt.Errorf("update avatar %d: %w", id, firstErr(err, ErrNotFound))
	}
	return nil
}

func (r *avatarRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q(ctx).ExecContext(ctx, `DELETE FROM avatars WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete avatar %d: %w", id, err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return fmt.Errorf("delete avatar %d: %w", id, firstErr(err, ErrNotFound))
	}
	return nil
}

func (r *avatarRepository) AddPhoto(ctx context.Context, p *domain.ReferencePhoto) error {
	const query = `
		INSERT INTO reference_photos (avatar_id, url, storage_key)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	if err := r.q(ctx).QueryRowContext(ctx, query, p.AvatarID, p.URL, p.StorageKey).Scan(&p.ID, &p.CreatedAt); err != nil {
		return fmt.Errorf("insert reference photo: %w", err)
	}
	return nil
}

func (r *avatarRepository) ListPhotos(ctx context.Context, avatarID int64) ([]domain.ReferencePhoto, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT id, avatar_id, url, storage_key, created_at FROM reference_photos WHERE avatar_id = $1 ORDER BY id`, avatarID)
	if err != nil {
		return nil, fmt.Errorf("list reference photos: %w", err)
	}
	defer rows.Close()

	var out []domain.ReferencePhoto
	for rows.Next() {
		var p domain.ReferencePhoto
		if err := rows.Scan(&p.ID, &p.AvatarID, &p.URL, &p.StorageKey, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reference photo: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *avatarRepository) CountPhotos(ctx context.Context, avatarID int64) (int, error) {
	var n int
	if err := r.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM reference_photos WHERE avatar_id = $1`, avatarID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reference photos: %w", err)
	}
	return n, nil
}
