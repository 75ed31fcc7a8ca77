package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/Proton-105/photostudio/internal/errors"
)

type createAvatarRequest struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

func (s *Server) handleCreateAvatar(w http.ResponseWriter, r *http.Request) {
	var req createAvatarRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.UserID <= 0 {
		s.badRequest(w, r, "user_id is required")
		return
	}

	avatar, err := s.Generation.CreateAvatar(r.Context(), req.UserID, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, avatar)
}

func (s *Server) handleGetAvatar(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	avatar, err := s.Generation.GetAvatar(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avatar)
}

// handleDeleteAvatar removes an avatar owned by ?user_id=; its tasks and photos cascade.
func (s *Server) handleDeleteAvatar(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, err := queryID(r, "user_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.Generation.DeleteAvatar(r.Context(), userID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListReferencePhotos(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	photos, err := s.Generation.ListReferencePhotos(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: photos, Total: len(photos)})
}

type addPhotoRequest struct {
	UserID int64  `json:"user_id"`
	URL    string `json:"url"`
}

// handleAddReferencePhoto accepts either JSON {"user_id","url"} or a multipart
// form with a user_id field and a "file" part.
func (s *Server) handleAddReferencePhoto(w http.ResponseWriter, r *http.Request) {
	avatarID, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		s.addUploadedPhoto(w, r, avatarID)
		return
	}

	var req addPhotoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.UserID <= 0 {
		s.badRequest(w, r, "user_id is required")
		return
	}

	photo, err := s.Generation.AddReferenceURL(r.Context(), req.UserID, avatarID, req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, photo)
}

func (s *Server) addUploadedPhoto(w http.ResponseWriter, r *http.Request, avatarID int64) {
	limit := s.cfg.Server.MaxUploadBytes
	if limit <= 0 {
		limit = defaultUploadSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))

	if err := r.ParseMultipartForm(limit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.badRequest(w, r, "file too large")
			return
		}
		s.badRequest(w, r, "invalid multipart form")
		return
	}

	userID, err := strconv.ParseInt(r.FormValue("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		s.badRequest(w, r, "user_id is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.badRequest(w, r, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		s.writeError(w, r, apperrors.NewValidationError("failed to read file"))
		return
	}
	if int64(len(data)) > limit {
		s.badRequest(w, r, "file too large")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	photo, err := s.Generation.AddReferenceUpload(r.Context(), userID, avatarID, data, contentType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, photo)
}

type markReadyRequest struct {
	UserID int64 `json:"user_id"`
}

func (s *Server) handleMarkAvatarReady(w http.ResponseWriter, r *http.Request) {
	avatarID, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req markReadyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	avatar, err := s.Generation.MarkAvatarReady(r.Context(), req.UserID, avatarID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avatar)
}
