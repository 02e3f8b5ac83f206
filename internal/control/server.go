// Package control exposes the running daemon's notification toggles, poll
// intervals and loop status over a local HTTP endpoint, with a websocket feed
// of live tracker events. The endpoint listens on a unix socket (a named pipe
// on Windows) by default, or on TCP when an address is configured.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"

	"tools.zach/dev/psnwatch/internal/logger"
	"tools.zach/dev/psnwatch/internal/monitor"
	"tools.zach/dev/psnwatch/internal/notify"
)

const (
	maxBodyBytes    = 1 << 16
	defaultLogLines = 50
	maxLogLines     = 1000
	// DefaultRateLimit is the request budget per minute when Options.RateLimit is zero.
	DefaultRateLimit = 120
)

// ///////////////////////////////////////////////
// Wire Types
// ///////////////////////////////////////////////

// ToggleRequest sets a toggle. A nil Enabled flips it.
type ToggleRequest struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// ToggleResponse reports a toggle's value after a change.
type ToggleResponse struct {
	Name    notify.Toggle `json:"name"`
	Enabled bool          `json:"enabled"`
}

// Intervals is the wire form of the poll intervals, in whole seconds.
type Intervals struct {
	OfflineSeconds int64 `json:"offline_seconds"`
	OnlineSeconds  int64 `json:"online_seconds"`
	StepSeconds    int64 `json:"step_seconds"`
}

// IntervalsFrom converts monitor settings to the wire form.
func IntervalsFrom(s monitor.IntervalSettings) Intervals {
	return Intervals{
		OfflineSeconds: int64(s.Offline / time.Second),
		OnlineSeconds:  int64(s.Online / time.Second),
		StepSeconds:    int64(s.Step / time.Second),
	}
}

// Settings converts the wire form back to monitor settings.
func (i Intervals) Settings() monitor.IntervalSettings {
	return monitor.IntervalSettings{
		Offline: time.Duration(i.OfflineSeconds) * time.Second,
		Online:  time.Duration(i.OnlineSeconds) * time.Second,
		Step:    time.Duration(i.StepSeconds) * time.Second,
	}
}

// AdjustRequest moves the online interval by Steps.
type AdjustRequest struct {
	Steps int `json:"steps"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ///////////////////////////////////////////////
// Server
// ///////////////////////////////////////////////

// Options wires a [Server].
type Options struct {
	// Status returns the loop's published status.
	Status    func() monitor.Status
	Toggles   *notify.Toggles
	Intervals *monitor.Intervals
	// Hub is optional; without it /events answers 404.
	Hub *Hub
	// LogPath is optional; without it /log answers 404.
	LogPath string
	// RateLimit is the per-minute request budget across all clients.
	RateLimit int
	Logger    *slog.Logger
}

// Server serves the control API.
type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer returns a Server for opts.
func NewServer(opts Options) (*Server, error) {
	if opts.Status == nil || opts.Toggles == nil || opts.Intervals == nil {
		return nil, errors.New("control: status, toggles and intervals are required")
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			// Local socket clients send no Origin; TCP clients must be same-host.
			CheckOrigin: sameOrigin,
		},
	}, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(httprate.LimitAll(s.opts.RateLimit, time.Minute))

	r.Get("/status", s.handleStatus)
	r.Route("/toggles", func(r chi.Router) {
		r.Get("/", s.handleToggles)
		r.Post("/{name}", s.handleSetToggle)
	})
	r.Route("/intervals", func(r chi.Router) {
		r.Get("/", s.handleIntervals)
		r.Put("/", s.handleSetIntervals)
		r.Post("/adjust", s.handleAdjust)
	})
	r.Get("/log", s.handleLog)
	r.Get("/events", s.handleEvents)
	return r
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if s.opts.Hub != nil {
			s.opts.Hub.Close()
		}
	}()
	s.logger.Info("control endpoint listening", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ///////////////////////////////////////////////
// Handlers
// ///////////////////////////////////////////////

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Status())
}

func (s *Server) handleToggles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Toggles.Snapshot())
}

func (s *Server) handleSetToggle(w http.ResponseWriter, r *http.Request) {
	name, err := notify.ParseToggle(chi.URLParam(r, "name"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	var req ToggleRequest
	if !decode(w, r, &req, true) {
		return
	}

	var on bool
	if req.Enabled == nil {
		on = s.opts.Toggles.Flip(name)
	} else {
		on = *req.Enabled
		s.opts.Toggles.Set(name, on)
	}
	s.logger.Info("notification toggle changed", "toggle", string(name), "enabled", on, "via", "control")
	writeJSON(w, http.StatusOK, ToggleResponse{Name: name, Enabled: on})
}

func (s *Server) handleIntervals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, IntervalsFrom(s.opts.Intervals.Snapshot()))
}

func (s *Server) handleSetIntervals(w http.ResponseWriter, r *http.Request) {
	var req Intervals
	if !decode(w, r, &req, false) {
		return
	}
	if err := s.opts.Intervals.Set(req.Settings()); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}
	s.logger.Info("poll intervals changed",
		"offline", req.Settings().Offline, "online", req.Settings().Online, "via", "control")
	writeJSON(w, http.StatusOK, IntervalsFrom(s.opts.Intervals.Snapshot()))
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if !decode(w, r, &req, false) {
		return
	}
	if req.Steps == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "steps must not be zero"})
		return
	}
	online := s.opts.Intervals.AdjustOnline(req.Steps)
	s.logger.Info("online poll interval changed", "online", online, "via", "control")
	writeJSON(w, http.StatusOK, IntervalsFrom(s.opts.Intervals.Snapshot()))
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if s.opts.LogPath == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "file logging is disabled"})
		return
	}
	lines := defaultLogLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "lines must be a positive integer"})
			return
		}
		lines = min(n, maxLogLines)
	}
	tail, err := logger.ReadTail(s.opts.LogPath, lines)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, tail)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Hub == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "event feed is disabled"})
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	sub := s.opts.Hub.add(conn)
	s.logger.Debug("event subscriber connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			s.opts.Hub.remove(sub)
			s.logger.Debug("event subscriber disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

// decode reads a JSON body into v. An empty body is accepted when allowEmpty.
func decode(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return origin == "http://"+r.Host
}
