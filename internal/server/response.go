package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/me/miga/pkg/model"
)

func replyOK(w http.ResponseWriter, r *http.Request, data any) {
	reply(w, r, http.StatusOK, data, nil, nil)
}

func replyPage(w http.ResponseWriter, r *http.Request, data any, pg *model.Pagination) {
	reply(w, r, http.StatusOK, data, pg, nil)
}

func replyError(w http.ResponseWriter, r *http.Request, status int, apiErr *model.APIError) {
	reply(w, r, status, nil, nil, apiErr)
}

// reply writes the envelope every endpoint answers with. The request id is
// the one assigned by requestIDMiddleware.
func reply(w http.ResponseWriter, r *http.Request, status int, data any, pg *model.Pagination, apiErr *model.APIError) {
	resp := model.Response{
		Status:     "ok",
		RequestID:  RequestIDFromContext(r.Context()),
		Timestamp:  time.Now().UTC(),
		Data:       data,
		Pagination: pg,
	}
	if apiErr != nil {
		resp.Status = "error"
		resp.Error = apiErr
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
