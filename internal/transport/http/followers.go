package http

import "net/http"

func (s *Server) handleListFollowers(w http.ResponseWriter, r *http.Request) {
	if s.Dispatcher == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.Dispatcher.ListFollowers())
}

func (s *Server) handleRetryFollowers(w http.ResponseWriter, r *http.Request) {
	if s.Dispatcher == nil {
		writeError(w, http.StatusBadRequest, "validation_error", "not running in leader mode")
		return
	}
	revived := s.Dispatcher.RetryDeadFollowers(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"revived": revived})
}
