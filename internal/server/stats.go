package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const (
	defaultWindowMinutes = 60
	defaultStepSeconds   = 60

	tsLayout = "2006-01-02T15:04:05Z"
)

type timeseriesPoint struct {
	Ts     string `json:"ts"`
	Tokens int    `json:"tokens"`
}

type timeseriesResponse struct {
	KeyID  string            `json:"key_id"`
	Points []timeseriesPoint `json:"points"`
}

// handleKeyTimeseries implements GET
// /v1/stats/keys/{id}/timeseries?window_minutes&step_seconds, per spec §4.5.
func (s *server) handleKeyTimeseries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	windowMinutes := queryInt(r, "window_minutes", defaultWindowMinutes)
	stepSeconds := queryInt(r, "step_seconds", defaultStepSeconds)
	if windowMinutes <= 0 || stepSeconds <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("window_minutes and step_seconds must be positive"))
		return
	}

	points, err := s.deps.Series.Query(r.Context(), id, windowMinutes, stepSeconds)
	if err != nil {
		writeProviderError(w, r.Context(), err)
		return
	}

	out := make([]timeseriesPoint, len(points))
	for i, p := range points {
		out[i] = timeseriesPoint{Ts: p.Timestamp.UTC().Format(tsLayout), Tokens: p.Tokens}
	}
	writeJSON(w, http.StatusOK, timeseriesResponse{KeyID: id, Points: out})
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
