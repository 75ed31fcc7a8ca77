package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/photostudio/internal/bot/keyboard"
	apperrors "github.com/Proton-105/photostudio/internal/errors"
	"github.com/Proton-105/photostudio/internal/state"
)

const maxPhotoBytes = 10 << 20

// NewAvatarHandler starts the avatar wizard by asking for a name.
func NewAvatarHandler(env *Env) Handler {
	return func(c telebot.Context) error {
		if c.Sender() == nil {
			return nil
		}

		if err := env.FSM.SetState(context.Background(), c.Sender().ID, state.StateAvatarNaming, nil); err != nil {
			return err
		}
		return c.Send(env.Tr(c).T("avatar.ask_name"))
	}
}

// NewAvatarNameHandler creates the avatar from the typed name.
func NewAvatarNameHandler(env *Env) Handler {
	return func(c telebot.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return nil
		}

		ctx := context.Background()
		tr := env.Tr(c)

		avatar, err := env.Generation.CreateAvatar(ctx, u.ID, c.Text())
		if err != nil {
			if isValidation(err) {
				return c.Send(tr.T("avatar.name_invalid"))
			}
			return err
		}

		err = env.FSM.TransitionTo(ctx, c.Sender().ID, state.StateAvatarUploading, map[string]any{
			state.KeyAvatarID:   avatar.ID,
			state.KeyAvatarName: avatar.Name,
			state.KeyUploaded:   0,
		})
		if err != nil {
			return err
		}

		return c.Send(tr.Tf("avatar.send_photos", avatar.Name, env.Generation.MaxReferences()))
	}
}

// NewAvatarPhotoHandler stores photos sent while the wizard waits for them.
func NewAvatarPhotoHandler(env *Env) Handler {
	return func(c telebot.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return nil
		}

		ctx := context.Background()
		tr := env.Tr(c)

		file, contentType, ok := imageFile(c.Message())
		if !ok {
			return c.Send(tr.T("avatar.expect_photo"))
		}

		current, err := env.current(ctx, c)
		if err != nil {
			return err
		}
		avatarID, ok := current.Int64(state.KeyAvatarID)
		if !ok {
			env.reset(ctx, c)
			return c.Send(tr.T("common.error"), keyboard.MainMenu(tr))
		}

		data, err := download(c, file)
		if err != nil {
			return apperrors.NewExternalAPIError("telegram", err)
		}

		if _, err := env.Generation.AddReferenceUpload(ctx, u.ID, avatarID, data, contentType); err != nil {
			if isValidation(err) && strings.Contains(err.Error(), "at most") {
				return c.Send(tr.T("avatar.too_many"))
			}
			return err
		}

		uploaded, _ := current.Int64(state.KeyUploaded)
		uploaded++
		current.Context[state.KeyUploaded] = uploaded
		if err := env.FSM.SetState(ctx, c.Sender().ID, state.StateAvatarUploading, current.Context); err != nil {
			env.Log.WarnContext(ctx, "failed to store upload counter", slog.Any("error", err))
		}

		return c.Send(tr.Tf("avatar.photo_saved", uploaded))
	}
}

// NewDoneHandler finishes the avatar wizard.
func NewDoneHandler(env *Env) Handler {
	return func(c telebot.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return nil
		}

		ctx := context.Background()
		tr := env.Tr(c)

		current, err := env.current(ctx, c)
		if err != nil {
			return err
		}
		avatarID, ok := current.Int64(state.KeyAvatarID)
		if current.CurrentState != state.StateAvatarUploading || !ok {
			return c.Send(tr.T("common.nothing_to_cancel"))
		}

		avatar, err := env.Generation.MarkAvatarReady(ctx, u.ID, avatarID)
		if err != nil {
			if isValidation(err) {
				return c.Send(tr.T("avatar.need_photo"))
			}
			return err
		}

		env.reset(ctx, c)
		return c.Send(tr.Tf("avatar.ready", avatar.Name), keyboard.MainMenu(tr))
	}
}

func imageFile(msg *telebot.Message) (*telebot.File, string, bool) {
	if msg == nil {
		return nil, "", false
	}
	if msg.Photo != nil {
		return &msg.Photo.File, "image/jpeg", true
	}
	if doc := msg.Document; doc != nil && strings.HasPrefix(doc.MIME, "image/") {
		return &doc.File, doc.MIME, true
	}
	return nil, "", false
}

func download(c telebot.Context, file *telebot.File) ([]byte, error) {
	if file.FileSize > maxPhotoBytes {
		return nil, fmt.Errorf("photo is larger than %d bytes", maxPhotoBytes)
	}

	rc, err := c.Bot().File(file)
	if err != nil {
		return nil, fmt.Errorf("download photo: %w", err)
	}
	defer rc.Close()

	return io.ReadAll(io.LimitReader(rc, maxPhotoBytes))
}

func isValidation(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr) && appErr.Code == apperrors.CodeValidation
}
