package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/ashita-ai/omomi/internal/abatement"
	"github.com/ashita-ai/omomi/internal/deferral"
	"github.com/ashita-ai/omomi/internal/event"
	"github.com/ashita-ai/omomi/internal/queue"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	engine              Engine
	abate               *abatement.Flag
	broker              *Broker
	checks              map[string]HealthCheck
	location            *time.Location
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	now                 func() time.Time
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Uptime       int64             `json:"uptime_seconds"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	DurableDepth int               `json:"durable_depth"`
	Abated       bool              `json:"abated"`
	Subscribers  int               `json:"subscribers"`
}

// EnqueueRequest is the body of POST /api/events. Payload carries the event
// fields; Durable routes the event through the durable queue.
type EnqueueRequest struct {
	Kind    string          `json:"kind"`
	Durable bool            `json:"durable,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EnqueueResponse echoes what was queued.
type EnqueueResponse struct {
	Kind     string `json:"kind"`
	Durable  bool   `json:"durable"`
	RecordID int64  `json:"record_id,omitempty"`
}

// AbatementResponse reports the abatement flag.
type AbatementResponse struct {
	Abated bool `json:"abated"`
}

// DeferralResponse is the body of GET /api/deferral/{type}.
type DeferralResponse struct {
	Type  string    `json:"type"`
	From  time.Time `json:"from"`
	Until time.Time `json:"until"`
}

// HandleHealth handles GET /api/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	resp := HealthResponse{
		Version: h.version,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}

	if len(h.checks) > 0 {
		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)
		resp.Dependencies = make(map[string]string, len(names))
		for _, name := range names {
			if err := h.checks[name](r.Context()); err != nil {
				resp.Dependencies[name] = "disconnected"
				status = "unhealthy"
				httpStatus = http.StatusServiceUnavailable
				h.logger.Warn("health check failed", "dependency", name, "error", err)
				continue
			}
			resp.Dependencies[name] = "connected"
		}
	}

	if st, err := h.engine.Stats(r.Context()); err == nil {
		resp.DurableDepth = st.DurableDepth
		if !st.Running && status == "healthy" {
			status = "degraded"
		}
	} else {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}
	if h.abate != nil {
		resp.Abated = h.abate.IsAbatementRequired()
	}
	if h.broker != nil {
		resp.Subscribers = h.broker.Subscribers()
	}
	resp.Status = status

	writeJSON(w, r, httpStatus, resp)
}

// HandleStats handles GET /api/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Stats(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to read stats", err)
		return
	}
	writeJSON(w, r, http.StatusOK, st)
}

// HandleEnqueue handles POST /api/events.
func (h *Handlers) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	ev, err := event.ParseExternal(req.Kind, req.Payload)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidInput, err.Error())
		return
	}

	resp := EnqueueResponse{Kind: ev.Kind().String(), Durable: req.Durable}
	if !req.Durable {
		h.engine.Enqueue(ev)
		writeJSON(w, r, http.StatusAccepted, resp)
		return
	}
	rec, err := h.engine.EnqueueDurable(r.Context(), ev)
	if errors.Is(err, queue.ErrNotDurable) {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidInput, err.Error())
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to enqueue event", err)
		return
	}
	resp.RecordID = rec.ID
	writeJSON(w, r, http.StatusAccepted, resp)
}

// HandleSetAbatement handles PUT /api/abatement.
func (h *Handlers) HandleSetAbatement(w http.ResponseWriter, r *http.Request) {
	h.setAbatement(w, r, true)
}

// HandleClearAbatement handles DELETE /api/abatement.
func (h *Handlers) HandleClearAbatement(w http.ResponseWriter, r *http.Request) {
	h.setAbatement(w, r, false)
}

func (h *Handlers) setAbatement(w http.ResponseWriter, r *http.Request, on bool) {
	if h.abate == nil {
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "abatement control not configured")
		return
	}
	h.abate.Set(on)
	h.logger.Info("abatement changed", "abated", on, "request_id", RequestIDFromContext(r.Context()))
	writeJSON(w, r, http.StatusOK, AbatementResponse{Abated: on})
}

// HandleDeferral handles GET /api/deferral/{type}. Custom and due date
// deferrals take the target time in the "at" query parameter (RFC3339).
func (h *Handlers) HandleDeferral(w http.ResponseWriter, r *http.Request) {
	t, err := deferral.ParseType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidInput, err.Error())
		return
	}
	var at time.Time
	if v := r.URL.Query().Get("at"); v != "" {
		at, err = time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, ErrCodeInvalidInput,
				"invalid at: expected RFC3339 format (e.g. 2024-01-01T00:00:00Z)")
			return
		}
	}
	from := h.now().In(h.location)
	until, err := deferral.Compute(from, t, at, h.location)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidInput, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, DeferralResponse{Type: t.String(), From: from, Until: until})
}

// HandleNotifications handles GET /api/notifications (SSE).
func (h *Handlers) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "notifications not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Idle SSE connections would otherwise be cut at WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, r, http.StatusRequestEntityTooLarge, ErrCodeInvalidInput, "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body: "+err.Error())
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, msg)
}
