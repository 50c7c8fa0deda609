package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/contentflow/wfm/internal/service"
)

type LogEvent struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
	// Message is the line as stored, for clients that do not split it.
	Message string `json:"message"`
}

type CompleteEvent struct {
	JobID       string   `json:"job_id"`
	Status      string   `json:"status"`
	OutputFiles []string `json:"output_files"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// StreamLogs sends the log feed of a job as server sent events. The stream
// ends after the complete or error event, or when the client goes away; the
// job is never affected by the latter.
func (h *Handler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	feed, err := h.feeds.Tail(r.Context(), id)
	if err != nil {
		respondErrorAndLog(w, r, statusOf(err), "Job not found", err)
		return
	}

	rc := http.NewResponseController(w)
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	var sent int
	for msg := range feed {
		var event string
		var data any
		switch msg.Kind {
		case service.MessageLog:
			event, data = "log", LogEvent{
				Timestamp: msg.Entry.Timestamp,
				Text:      msg.Entry.Text,
				Message:   msg.Entry.String(),
			}
		case service.MessageComplete:
			event, data = "complete", CompleteEvent{
				JobID:       msg.Job.ID,
				Status:      string(msg.Job.Status),
				OutputFiles: msg.Job.OutputFiles,
			}
		case service.MessageError:
			event, data = "error", ErrorEvent{Message: msg.Error}
		default:
			continue
		}
		if err := writeEvent(w, event, data); err != nil {
			slog.DebugContext(r.Context(), "log stream closed", "job_id", id, "sent", sent, "error", err)
			return
		}
		if err := rc.Flush(); err != nil {
			slog.DebugContext(r.Context(), "log stream closed", "job_id", id, "sent", sent, "error", err)
			return
		}
		sent++
	}
	slog.DebugContext(r.Context(), "log stream finished", "job_id", id, "sent", sent)
}

func writeEvent(w io.Writer, event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}
