package handlers

import (
	"encoding/json"
	"net/http"

	"hostpulse/internal/broadcast"
)

// LatestHandler returns the most recent snapshot of topic as JSON.
// It never triggers a sample; before the first tick it answers 503.
// @Summary Latest snapshot
// @Produce json
// @Success 200
// @Failure 503 "No sample yet"
// @Router /api/cpus [get]
// @Router /api/memory [get]
func LatestHandler[T any](topic *broadcast.Topic[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		v, ok := topic.Latest()
		if !ok {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "no sample yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(v)
	}
}
