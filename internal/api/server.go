// Package api is the JSON control surface: connection management, rate
// and unit control, the current window view and sample history, plus the
// chart renderings.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/sensorview/internal/db"
	"github.com/banshee-data/sensorview/internal/display"
	"github.com/banshee-data/sensorview/internal/handshake"
	"github.com/banshee-data/sensorview/internal/httputil"
	"github.com/banshee-data/sensorview/internal/monitoring"
	"github.com/banshee-data/sensorview/internal/units"
	"github.com/banshee-data/sensorview/internal/version"
	"github.com/banshee-data/sensorview/internal/window"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultConnectTimeout bounds a single connect or auto-detect request.
const DefaultConnectTimeout = 30 * time.Second

// SensorController is the part of handshake.Controller the API drives.
type SensorController interface {
	Ports() ([]string, error)
	Open(ctx context.Context, name string) error
	Close() error
	AutoDetect(ctx context.Context) (string, error)
	Status() handshake.Status
	IncreaseRate() error
	DecreaseRate() error
}

// SampleStore serves accepted-sample history.
type SampleStore interface {
	RecentSamples(ctx context.Context, limit int) ([]db.StoredSample, error)
}

type Server struct {
	ctl   SensorController
	win   *window.Window
	store SampleStore

	// Snapshot, when set, serves the last presented view instead of
	// computing a fresh one per request.
	Snapshot *display.Snapshot
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	// ConnectTimeout bounds connect and auto-detect; zero means
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration
}

// NewServer returns a server for ctl and win. store may be nil, in which
// case /api/samples reports 404.
func NewServer(ctl SensorController, win *window.Window, store SampleStore) *Server {
	return &Server{ctl: ctl, win: win, store: store}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ports", s.listPorts)
	mux.HandleFunc("/api/connect", s.connect)
	mux.HandleFunc("/api/disconnect", s.disconnect)
	mux.HandleFunc("/api/autodetect", s.autodetect)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/rate", s.changeRate)
	mux.HandleFunc("/api/unit", s.switchUnit)
	mux.HandleFunc("/api/scale", s.rescale)
	mux.HandleFunc("/api/window", s.showWindow)
	mux.HandleFunc("/api/samples", s.listSamples)
	mux.HandleFunc("/chart", s.chartHTML)
	mux.HandleFunc("/chart.png", s.chartPNG)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics)
	}
	return mux
}

func (s *Server) connectContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := s.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return context.WithTimeout(r.Context(), timeout)
}

// view returns the view to render: the last presented one when a
// snapshot is wired and has received a view, a fresh one otherwise.
func (s *Server) view() window.View {
	if s.Snapshot != nil {
		if v, ok := s.Snapshot.Latest(); ok {
			return v
		}
	}
	return s.win.View()
}

// controllerErrorStatus maps controller errors onto HTTP status codes.
func controllerErrorStatus(err error) int {
	switch {
	case errors.Is(err, handshake.ErrNoPort),
		errors.Is(err, handshake.ErrEmptyCommand):
		return http.StatusBadRequest
	case errors.Is(err, handshake.ErrUnknownPort),
		errors.Is(err, handshake.ErrNoDevice):
		return http.StatusNotFound
	case errors.Is(err, handshake.ErrAlreadyConnected),
		errors.Is(err, handshake.ErrHandshakeInProgress),
		errors.Is(err, handshake.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, handshake.ErrHandshakeTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, handshake.ErrTransportOpen),
		errors.Is(err, handshake.ErrTransportWrite),
		errors.Is(err, handshake.ErrConnectionLost):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeControllerError(w http.ResponseWriter, err error) {
	httputil.WriteJSONError(w, controllerErrorStatus(err), err.Error())
}

type portsResponse struct {
	Ports    []string `json:"ports"`
	Selected string   `json:"selected"`
}

func (s *Server) listPorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	names, err := s.ctl.Ports()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to enumerate ports: %v", err))
		return
	}

	selected := s.ctl.Status().Port
	if selected == "" {
		selected = handshake.NoPort
	}
	// The placeholder is always offered first so a client can deselect.
	httputil.WriteJSONOK(w, portsResponse{
		Ports:    append([]string{handshake.NoPort}, names...),
		Selected: selected,
	})
}

type connectRequest struct {
	Port string `json:"port"`
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req connectRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	ctx, cancel := s.connectContext(r)
	defer cancel()
	if err := s.ctl.Open(ctx, req.Port); err != nil {
		writeControllerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.ctl.Status())
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.ctl.Close(); err != nil {
		writeControllerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.ctl.Status())
}

func (s *Server) autodetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	ctx, cancel := s.connectContext(r)
	defer cancel()
	if _, err := s.ctl.AutoDetect(ctx); err != nil {
		writeControllerError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.ctl.Status())
}

type statusResponse struct {
	handshake.Status
	Unit    string       `json:"unit"`
	Paused  bool         `json:"paused"`
	Version version.Info `json:"version"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, statusResponse{
		Status:  s.ctl.Status(),
		Unit:    s.win.Unit().String(),
		Paused:  s.win.Paused(),
		Version: version.Current(),
	})
}

type rateRequest struct {
	Direction string `json:"direction"`
}

func (s *Server) changeRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req rateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var err error
	switch req.Direction {
	case "increase":
		err = s.ctl.IncreaseRate()
	case "decrease":
		err = s.ctl.DecreaseRate()
	default:
		httputil.BadRequest(w, fmt.Sprintf("direction must be increase or decrease, got %q", req.Direction))
		return
	}
	if err != nil {
		writeControllerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"direction": req.Direction})
}

type unitRequest struct {
	Unit string `json:"unit"`
}

func (s *Server) switchUnit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req unitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	u, err := units.Parse(req.Unit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.win.SwitchUnit(u); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, window.ErrSwitchInProgress):
			status = http.StatusConflict
		case errors.Is(err, units.ErrUnknownUnit):
			status = http.StatusBadRequest
		}
		httputil.WriteJSONError(w, status, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.win.View())
}

type scaleRequest struct {
	Delta float64 `json:"delta"`
}

func (s *Server) rescale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req scaleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.win.Resize(req.Delta)
	httputil.WriteJSONOK(w, s.win.View())
}

func (s *Server) showWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.view())
}

func (s *Server) listSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.store == nil {
		httputil.NotFound(w, "sample history is not enabled")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 10000 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	samples, err := s.store.RecentSamples(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve samples: %v", err))
		return
	}
	if samples == nil {
		samples = []db.StoredSample{}
	}
	httputil.WriteJSONOK(w, samples)
}

func (s *Server) chartHTML(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var buf bytes.Buffer
	if err := display.RenderHTML(&buf, s.view()); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) chartPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var buf bytes.Buffer
	if err := display.RenderPNG(&buf, s.view(), 0, 0); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
