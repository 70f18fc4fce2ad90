package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kurobon/interdiff/internal/forge"
	"github.com/kurobon/interdiff/internal/timeline"
	"github.com/kurobon/interdiff/internal/vcs"
)

// TimelineRequest names the pushes to compare, either explicitly or through
// a pull request URL.
type TimelineRequest struct {
	URL    string       `json:"url,omitempty"`
	Kind   string       `json:"kind,omitempty"`
	Pushes []forge.Push `json:"pushes,omitempty"`
}

// errBadRequest marks errors caused by the request itself.
var errBadRequest = errors.New("bad request")

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "pong",
		"system":  "interdiff",
	})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req TimelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	tl, err := s.timeline(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		log.Warn().Err(err).Int("status", status).Str("url", req.URL).Msg("timeline request failed")
		writeError(w, status, err.Error())
		return
	}

	log.Info().
		Str("url", req.URL).
		Int("iterations", len(tl.Iterations)).
		Int("pairs", len(tl.Pairs)).
		Dur("duration", time.Since(start)).
		Msg("timeline request served")
	writeJSON(w, http.StatusOK, NewTimelineView(tl))
}

func (s *Server) timeline(ctx context.Context, req TimelineRequest) (*timeline.Timeline, error) {
	pushes := req.Pushes
	switch {
	case req.URL != "" && len(pushes) > 0:
		return nil, fmt.Errorf("%w: give either url or pushes", errBadRequest)
	case req.URL != "":
		if s.Forges == nil {
			return nil, fmt.Errorf("%w: pull request urls are not enabled", errBadRequest)
		}
		client, err := s.Forges(forge.Kind(req.Kind), req.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		if pushes, err = client.History(ctx); err != nil {
			return nil, err
		}
	case len(pushes) == 0:
		return nil, fmt.Errorf("%w: no pushes given", errBadRequest)
	}

	its, err := forge.Iterations(pushes, s.Resolve)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return s.Builder.Build(ctx, its)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, timeline.ErrNotEnoughIterations),
		errors.Is(err, timeline.ErrInvalidIteration):
		return http.StatusBadRequest
	case errors.Is(err, vcs.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
