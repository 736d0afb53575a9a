package server

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/me/miga/pkg/model"
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Endpoints []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	replyOK(w, r, discoveryResponse{
		Name:    "MiGA daemon API",
		Version: "v1",
		Endpoints: []endpointInfo{
			{"/api/v1/health", []string{"GET"}, "Daemon liveness and version"},
			{"/api/v1/status", []string{"GET"}, "Running and queued jobs after the last tick"},
			{"/api/v1/history", []string{"GET"}, "Job events, newest first; filters: dataset, event, instance"},
		},
	})
}

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Instance  string `json:"instance"`
	Iteration int    `json:"iteration"`
	LastTick  string `json:"last_tick,omitempty"`
	History   string `json:"history"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.status.Snapshot()
	resp := healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Instance:  snap.Instance,
		Iteration: snap.Iteration,
		History:   "disabled",
	}
	if snap.Iteration == 0 {
		resp.Status = "starting"
	} else {
		resp.LastTick = snap.LastTick.UTC().Format(time.RFC3339)
	}
	if s.history != nil {
		resp.History = "enabled"
	}
	replyOK(w, r, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	replyOK(w, r, s.status.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		replyError(w, r, http.StatusServiceUnavailable,
			&model.APIError{Code: model.ErrUnavailable, Message: "job history is disabled"})
		return
	}

	q := r.URL.Query()
	f := model.EventFilter{
		Instance: q.Get("instance"),
		Dataset:  q.Get("dataset"),
		Type:     model.EventType(q.Get("event")),
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			replyError(w, r, http.StatusBadRequest, model.NewValidationError("%s must be an integer, got %q", name, v))
			return
		}
		*dst = n
	}
	f.Clamp()

	events, total, err := s.history.ListEvents(r.Context(), f)
	if err != nil {
		s.logger.Error("list events", "error", err)
		replyError(w, r, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: "failed to read job history"})
		return
	}
	if events == nil {
		events = []*model.JobEvent{}
	}
	replyPage(w, r, events, &model.Pagination{
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
		HasMore: f.Offset+len(events) < total,
	})
}
