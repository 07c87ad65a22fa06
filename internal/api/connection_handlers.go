package api

import (
	"net/http"
)

// GetConnection reports the active profile and verifies it against the remote API.
func (s *Server) GetConnection(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"profile":    s.Profile.Name,
		"server_url": s.Profile.ServerURL,
		"api_key":    s.Profile.MaskedAPIKey(),
		"base_url":   s.Client.BaseURL(),
	}
	user, err := s.Client.CheckAccess(r.Context())
	if user != nil {
		resp["user"] = user.Name
		resp["role"] = user.Role
	}
	if err != nil {
		resp["status"] = "error"
		resp["error"] = err.Error()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp["status"] = "ok"
	writeJSON(w, http.StatusOK, resp)
}
