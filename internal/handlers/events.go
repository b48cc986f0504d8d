package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"hostpulse/internal/broadcast"
	"hostpulse/internal/watcher"
)

// EventsHandler returns a handler for Server-Sent Events carrying asset
// change notifications for the dashboard's live reload.
// @Summary Stream asset change events
// @Tags events
// @Produce text/event-stream
// @Success 200 {string} string "stream"
// @Router /api/events [get]
func EventsHandler(events *broadcast.Topic[watcher.Event], log logrus.FieldLogger) http.HandlerFunc {
	return func(wResp http.ResponseWriter, r *http.Request) {
		wResp.Header().Set("Content-Type", "text/event-stream")
		wResp.Header().Set("Cache-Control", "no-cache")
		wResp.Header().Set("Connection", "keep-alive")

		flusher, ok := wResp.(http.Flusher)
		if !ok {
			http.Error(wResp, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		flusher.Flush()

		sub := events.Subscribe()
		defer sub.Close()

		log := log.WithField("remote", r.RemoteAddr)
		log.Debug("[SSE] client connected")
		defer log.Debug("[SSE] client disconnected")

		for {
			event, err := sub.Receive(r.Context())
			if err != nil {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(wResp, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
