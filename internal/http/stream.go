package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"budgetbook/internal/analytics"
	"budgetbook/internal/live"
	applog "budgetbook/internal/log"
)

// handleDashboardStream serves the dashboard as server-sent events. The
// first event carries the current view; another follows each committed
// write that changes it. Stream errors arrive as "error" events and the
// stream stays open.
func (s *Server) handleDashboardStream(w http.ResponseWriter, r *http.Request) {
	tr, err := analytics.ParseTimeRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}

	ctx := r.Context()
	initial, sub, err := live.Observe(ctx, s.hub, func(ctx context.Context) (analytics.DashboardView, error) {
		return s.ledger.Dashboard(ctx, tr)
	})
	if errors.Is(err, live.ErrHubClosed) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "server is shutting down"})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Close()

	logger := applog.FromContext(ctx).With(applog.FieldOperation, applog.OpStream)
	logger.InfoContext(ctx, "Dashboard stream opened",
		applog.FieldRange, tr, applog.FieldSubscribers, s.hub.Len())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "dashboard", initial); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.DebugContext(ctx, "Dashboard stream closed by client")
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}
			if u.Err != nil {
				logger.ErrorContext(ctx, "Dashboard recompute failed", applog.FieldError, u.Err)
				err = writeEvent(w, "error", errorBody{Error: "dashboard unavailable"})
			} else {
				err = writeEvent(w, "dashboard", u.Value)
			}
			if err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
