package locationtracking

import (
	"net/http"
)

type healthResponse struct {
	Status      string `json:"status"`
	State       string `json:"state"`
	Subscribers int    `json:"subscribers"`
	PendingJobs int    `json:"pending_jobs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		State:       s.app.State().String(),
		Subscribers: s.app.notifier.Len(),
		PendingJobs: len(s.app.PendingJobs()),
	})
}
