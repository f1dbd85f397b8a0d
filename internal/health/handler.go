package health

import (
	"context"
	"net/http"
	"time"

	"papertrade/internal/httputil"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	db        Pinger
	storeKind string
	startedAt time.Time
	timeout   time.Duration
}

func NewHandler(db Pinger, storeKind string, startedAt time.Time) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{db: db, storeKind: storeKind, startedAt: start, timeout: time.Second}
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
	Uptime    string `json:"uptime"`
}

type storeStat struct {
	Kind      string `json:"kind"`
	Reachable bool   `json:"reachable"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
}

type readinessResponse struct {
	liveResponse
	Store storeStat `json:"store"`
}

func (h *Handler) uptime(now time.Time) time.Duration {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

func (h *Handler) live(now time.Time, status string) liveResponse {
	uptime := h.uptime(now)
	return liveResponse{
		Status:    status,
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    uptime.String(),
	}
}

func (h *Handler) checkStore(ctx context.Context) storeStat {
	stat := storeStat{Kind: h.storeKind, Reachable: true}
	if h.db == nil {
		return stat
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.db.Ping(ctx)
	cancel()
	stat.PingMs = time.Since(start).Milliseconds()
	if err != nil {
		stat.Reachable = false
		stat.Error = err.Error()
	}
	return stat
}

// Live does not touch the store.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.live(time.Now().UTC(), "ok"))
}

// Ready returns 503 when the store cannot be reached.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	st := h.checkStore(r.Context())
	status, code := "ok", http.StatusOK
	if !st.Reachable {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, readinessResponse{liveResponse: h.live(time.Now().UTC(), status), Store: st})
}
