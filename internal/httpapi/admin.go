package httpapi

import (
	"net/http"
	"strings"

	"github.com/Proton-105/photostudio/internal/domain"
)

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Stats.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, total, err := s.Users.List(r.Context(), pageFromQuery(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: users, Total: total})
}

type adjustCreditsRequest struct {
	Delta int `json:"delta"`
}

func (s *Server) handleAdminAdjustCredits(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req adjustCreditsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	balance, err := s.Users.AdjustCredits(r.Context(), id, req.Delta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"credits": balance})
}

func (s *Server) handleAdminListTasks(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(strings.TrimSpace(r.URL.Query().Get("status")))

	tasks, err := s.Generation.ListTasks(r.Context(), status, pageFromQuery(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: tasks})
}

func (s *Server) handleAdminListNotifications(w http.ResponseWriter, r *http.Request) {
	unread := r.URL.Query().Get("unread") == "true"

	items, err := s.Notifications.List(r.Context(), unread, pageFromQuery(r))
	if err != nil {
		s.writeError(w, r, dbError(err, "notification"))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items})
}

func (s *Server) handleAdminMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.Notifications.MarkRead(r.Context(), id); err != nil {
		s.writeError(w, r, dbError(err, "notification"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminWebhookLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.WebhookLogs.List(r.Context(), r.URL.Query().Get("source"), pageFromQuery(r))
	if err != nil {
		s.writeError(w, r, dbError(err, "webhook log"))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: logs})
}

func (s *Server) handleAdminProcessedMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.Messages.Recent(r.Context(), pageFromQuery(r).Limit)
	if err != nil {
		s.writeError(w, r, dbError(err, "processed message"))
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: msgs})
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleAdminBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.badRequest(w, r, "message is required")
		return
	}

	sent, failed, err := s.Broadcaster.Broadcast(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent, "failed": failed})
}

func (s *Server) handleAdminDeleteAvatar(w http.ResponseWriter, r *http.Request) {
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
	if err := s.Generation.DeleteAvatar(r.Context(), avatar.UserID, avatar.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
