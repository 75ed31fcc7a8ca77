package httpapi

import (
	"net/http"
	"strings"
)

func (s *Server) handleListPackages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"currency": s.Payments.Currency(),
		"packages": s.Payments.Packages(),
	})
}

type createPaymentRequest struct {
	UserID    int64  `json:"user_id"`
	PackageID string `json:"package_id"`
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.UserID <= 0 || strings.TrimSpace(req.PackageID) == "" {
		s.badRequest(w, r, "user_id and package_id are required")
		return
	}

	p, err := s.Payments.CreatePayment(r.Context(), req.UserID, strings.TrimSpace(req.PackageID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}
