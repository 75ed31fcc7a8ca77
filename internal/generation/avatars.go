package generation

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/Proton-105/photostudio/internal/domain"
	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/internal/storage"
)

const maxAvatarName = 64

func (s *Service) CreateAvatar(ctx context.Context, userID int64, name string) (*domain.Avatar, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > maxAvatarName {
		return nil, apperrors.NewValidationError(fmt.Sprintf("avatar name must be 1-%d characters", maxAvatarName))
	}

	if _, err := s.Users.FindByID(ctx, userID); err != nil {
		return nil, dbError(err, "user")
	}

	avatar := &domain.Avatar{UserID: userID, Name: name, Status: domain.AvatarDraft}
	if err := s.Avatars.Create(ctx, avatar); err != nil {
		return nil, dbError(err, "avatar")
	}

	s.Log.InfoContext(ctx, "avatar created", slog.Int64("avatar_id", avatar.ID), slog.Int64("user_id", userID))
	return avatar, nil
}

func (s *Service) GetAvatar(ctx context.Context, id int64) (*domain.Avatar, error) {
	avatar, err := s.Avatars.Get(ctx, id)
	if err != nil {
		return nil, dbError(err, "avatar")
	}
	return avatar, nil
}

func (s *Service) ListAvatars(ctx context.Context, userID int64) ([]domain.Avatar, error) {
	avatars, err := s.Avatars.ListByUser(ctx, userID)
	if err != nil {
		return nil, dbError(err, "avatar")
	}
	return avatars, nil
}

// DeleteAvatar removes an avatar with its tasks and photos. A zero userID skips the ownership check.
func (s *Service) DeleteAvatar(ctx context.Context, userID, avatarID int64) error {
	if _, err := s.ownedAvatar(ctx, userID, avatarID); err != nil {
		return err
	}

	photos, err := s.Avatars.ListPhotos(ctx, avatarID)
	if err != nil {
		return dbError(err, "avatar")
	}

	if err := s.Avatars.Delete(ctx, avatarID); err != nil {
		return dbError(err, "avatar")
	}

	if s.Uploader != nil {
		for _, p := range photos {
			if err := s.Uploader.Delete(ctx, p.URL); err != nil {
				s.Log.WarnContext(ctx, "failed to delete reference photo object", slog.Int64("photo_id", p.ID), slog.Any("error", err))
			}
		}
	}

	s.Log.InfoContext(ctx, "avatar deleted", slog.Int64("avatar_id", avatarID))
	return nil
}

// AddReferenceURL attaches an already hosted photo to the avatar.
func (s *Service) AddReferenceURL(ctx context.Context, userID, avatarID int64, rawURL string) (*domain.ReferencePhoto, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperrors.NewValidationError("photo url must be an absolute http(s) url")
	}
	return s.addReference(ctx, userID, avatarID, func() (string, error) { return u.String(), nil })
}

// AddReferenceUpload stores uploaded bytes in S3 and attaches them to the avatar.
func (s *Service) AddReferenceUpload(ctx context.Context, userID, avatarID int64, data []byte, contentType string) (*domain.ReferencePhoto, error) {
	if s.Uploader == nil {
		return nil, apperrors.NewValidationError("photo uploads are disabled")
	}
	if len(data) == 0 {
		return nil, apperrors.NewValidationError("photo is empty")
	}

	return s.addReference(ctx, userID, avatarID, func() (string, error) {
		location, err := s.Uploader.Upload(ctx, data, contentType, storage.PrefixReferences)
		if err != nil {
			return "", apperrors.NewExternalAPIError("s3", err)
		}
		return location, nil
	})
}

func (s *Service) ListReferencePhotos(ctx context.Context, avatarID int64) ([]domain.ReferencePhoto, error) {
	if _, err := s.GetAvatar(ctx, avatarID); err != nil {
		return nil, err
	}
	photos, err := s.Avatars.ListPhotos(ctx, avatarID)
	if err != nil {
		return nil, dbError(err, "avatar")
	}
	return photos, nil
}

// MarkAvatarReady finishes avatar setup; it needs at least one reference photo.
func (s *Service) MarkAvatarReady(ctx context.Context, userID, avatarID int64) (*domain.Avatar, error) {
	avatar, err := s.ownedAvatar(ctx, userID, avatarID)
	if err != nil {
		return nil, err
	}

	photos, err := s.Avatars.ListPhotos(ctx, avatarID)
	if err != nil {
		return nil, dbError(err, "avatar")
	}
	if len(photos) == 0 {
		return nil, apperrors.NewValidationError("avatar has no reference photos")
	}

	if err := s.Avatars.UpdateStatus(ctx, avatarID, domain.AvatarReady, photos[0].URL); err != nil {
		return nil, dbError(err, "avatar")
	}
	avatar.Status = domain.AvatarReady
	avatar.CoverURL = photos[0].URL
	return avatar, nil
}

func (s *Service) addReference(ctx context.Context, userID, avatarID int64, locate func() (string, error)) (*domain.ReferencePhoto, error) {
	if _, err := s.ownedAvatar(ctx, userID, avatarID); err != nil {
		return nil, err
	}

	count, err := s.Avatars.CountPhotos(ctx, avatarID)
	if err != nil {
		return nil, dbError(err, "avatar")
	}
	if count >= s.opts.MaxReferences {
		return nil, apperrors.NewValidationError(fmt.Sprintf("an avatar holds at most %d reference photos", s.opts.MaxReferences))
	}

	location, err := locate()
	if err != nil {
		return nil, err
	}

	photo := &domain.ReferencePhoto{AvatarID: avatarID, URL: location}
	if err := s.Avatars.AddPhoto(ctx, photo); err != nil {
		return nil, dbError(err, "avatar")
	}

	if count == 0 {
		if err := s.Avatars.UpdateStatus(ctx, avatarID, domain.AvatarReady, location); err != nil {
			s.Log.WarnContext(ctx, "failed to mark avatar ready", slog.Int64("avatar_id", avatarID), slog.Any("error", err))
		}
	}
	return photo, nil
}

func (s *Service) ownedAvatar(ctx context.Context, userID, avatarID int64) (*domain.Avatar, error) {
	avatar, err := s.Avatars.Get(ctx, avatarID)
	if err != nil {
		return nil, dbError(err, "avatar")
	}
	if userID != 0 && avatar.UserID != userID {
		return nil, apperrors.NewNotFoundError("avatar")
	}
	return avatar, nil
}
