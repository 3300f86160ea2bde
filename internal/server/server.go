package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jpalmerr/flightwatch/internal/delivery"
	"github.com/jpalmerr/flightwatch/internal/flight"
	"github.com/jpalmerr/flightwatch/internal/ingest"
	"github.com/jpalmerr/flightwatch/internal/subscription"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write
	// operation. Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	// maxRequestBodySize bounds push-ingestion and subscription bodies.
	maxRequestBodySize = 8 << 20
)

// Backend is the engine the server exposes.
type Backend interface {
	Flights(ctx context.Context) ([]flight.Snapshot, error)
	Flight(ctx context.Context, id string) (flight.Snapshot, bool, error)
	Ingest(ctx context.Context, snap flight.Snapshot) (ingest.Result, error)
	Subscribe(sub flight.Subscription) error
	Unsubscribe(flightID, endpoint string) bool
	Subscriptions(flightID string) []flight.Subscription

	// Refresh polls every configured feed now.
	Refresh()
}

// EventSource streams change events. hub.Hub satisfies it.
type EventSource interface {
	Subscribe(flightIDs ...string) <-chan flight.ChangeEvent
	Unsubscribe(ch <-chan flight.ChangeEvent)
}

// Server handles HTTP requests for the flightwatch API.
type Server struct {
	backend    Backend
	events     EventSource
	gatherer   prometheus.Gatherer
	port       int
	httpServer *http.Server
	addr       net.Addr
	logger     *slog.Logger
}

// NewServer creates a new HTTP [Server].
//
// gatherer may be nil, in which case /metrics is not served. The server is
// not started until [Server.Start] is called.
func NewServer(backend Backend, events EventSource, gatherer prometheus.Gatherer, port int, logger *slog.Logger) *Server {
	return &Server{
		backend:  backend,
		events:   events,
		gatherer: gatherer,
		port:     port,
		logger:   logger,
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/flights", s.handleFlights)
	mux.HandleFunc("GET /api/flights/{id}", s.handleFlight)
	mux.HandleFunc("GET /api/flights/{id}/subscriptions", s.handleFlightSubscriptions)
	mux.HandleFunc("POST /api/snapshots", s.handleSnapshots)
	mux.HandleFunc("POST /api/subscriptions", s.handleSubscribe)
	mux.HandleFunc("DELETE /api/subscriptions", s.handleUnsubscribe)
	mux.HandleFunc("POST /api/feeds/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start returns once the listener is bound. The server runs until ctx is
// cancelled, then shuts down gracefully. Returns an error if the port
// cannot be bound.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	s.addr = ln.Addr()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx so SSE handlers end on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address once Start has succeeded, or nil.
func (s *Server) Addr() net.Addr {
	return s.addr
}

func (s *Server) handleFlights(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.backend.Flights(r.Context())
	if err != nil {
		s.logger.Error("listing flights failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list flights")
		return
	}
	slices.SortFunc(snaps, func(a, b flight.Snapshot) int {
		return strings.Compare(a.ID, b.ID)
	})
	if snaps == nil {
		snaps = []flight.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleFlight(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok, err := s.backend.Flight(r.Context(), id)
	if err != nil {
		s.logger.Error("reading flight failed", "flight_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read flight")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("flight %q not found", id))
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleFlightSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs := s.backend.Subscriptions(r.PathValue("id"))
	if subs == nil {
		subs = []flight.Subscription{}
	}
	s.writeJSON(w, http.StatusOK, subs)
}

// ingestResponse is the outcome of one pushed snapshot.
type ingestResponse struct {
	FlightID string               `json:"flight_id"`
	Revision int64                `json:"revision"`
	Outcome  ingest.Outcome       `json:"outcome,omitempty"`
	Events   []flight.ChangeEvent `json:"events,omitempty"`
	Tasks    int                  `json:"tasks"`
	Error    string               `json:"error,omitempty"`
}

// handleSnapshots ingests one snapshot object or an array of them.
//
// A single snapshot maps its failure to a status code. An array is ingested
// in order and answered with 200 when every item succeeded, otherwise 207
// with per-item errors.
func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	body = bytes.TrimSpace(body)
	batch := len(body) > 0 && body[0] == '['

	var snaps []flight.Snapshot
	if batch {
		err = json.Unmarshal(body, &snaps)
	} else {
		var snap flight.Snapshot
		err = json.Unmarshal(body, &snap)
		snaps = []flight.Snapshot{snap}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot JSON: "+err.Error())
		return
	}

	responses := make([]ingestResponse, 0, len(snaps))
	var firstErr error
	for _, snap := range snaps {
		res, err := s.backend.Ingest(r.Context(), snap)
		resp := ingestResponse{
			FlightID: snap.ID,
			Revision: snap.Revision,
			Outcome:  res.Outcome,
			Events:   res.Events,
			Tasks:    res.Tasks,
		}
		if err != nil {
			resp.Error = err.Error()
			if firstErr == nil {
				firstErr = err
			}
		}
		responses = append(responses, resp)
	}

	if !batch {
		status := http.StatusOK
		if firstErr != nil {
			status = ingestStatus(firstErr)
		}
		s.writeJSON(w, status, responses[0])
		return
	}

	status := http.StatusOK
	if firstErr != nil {
		status = http.StatusMultiStatus
	}
	s.writeJSON(w, status, responses)
}

func ingestStatus(err error) int {
	switch {
	case errors.Is(err, ingest.ErrInvalidSnapshot):
		return http.StatusBadRequest
	case errors.Is(err, delivery.ErrQueueSaturated), errors.Is(err, delivery.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type subscribeRequest struct {
	FlightID string         `json:"flight_id"`
	Endpoint string         `json:"endpoint"`
	Fields   []flight.Field `json:"fields,omitempty"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription JSON: "+err.Error())
		return
	}

	err := s.backend.Subscribe(flight.Subscription{
		FlightID: req.FlightID,
		Endpoint: req.Endpoint,
		Fields:   req.Fields,
	})
	if errors.Is(err, subscription.ErrInvalidSubscription) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("subscribe failed", "flight_id", req.FlightID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}

	s.logger.Info("subscribed", "flight_id", req.FlightID, "endpoint", req.Endpoint)
	for _, sub := range s.backend.Subscriptions(req.FlightID) {
		if sub.Endpoint == req.Endpoint {
			s.writeJSON(w, http.StatusCreated, sub)
			return
		}
	}
	// removed concurrently between the two calls
	w.WriteHeader(http.StatusCreated)
}

// handleUnsubscribe always answers 204; removing an unknown pair is a no-op.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	flightID, endpoint := q.Get("flight_id"), q.Get("endpoint")
	if flightID == "" || endpoint == "" {
		writeError(w, http.StatusBadRequest, "flight_id and endpoint are required")
		return
	}

	if s.backend.Unsubscribe(flightID, endpoint) {
		s.logger.Info("unsubscribed", "flight_id", flightID, "endpoint", endpoint)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.backend.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

// handleEvents streams change events via Server-Sent Events.
//
// The current snapshot of each requested flight (every flight when no
// "flight" query parameter is given) is sent first as "snapshot" events,
// followed by live "change" events. Writes carry a deadline so a stalled
// client cannot pin the handler past shutdown.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(event string, data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flightIDs := r.URL.Query()["flight"]

	// subscribe before reading state so no change falls in between
	ch := s.events.Subscribe(flightIDs...)
	defer s.events.Unsubscribe(ch)

	for _, snap := range s.initialSnapshots(r.Context(), flightIDs) {
		data, err := json.Marshal(snap)
		if err != nil {
			continue
		}
		if err := writeAndFlush("snapshot", data); err != nil {
			return
		}
	}

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if err := writeAndFlush("change", data); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on client disconnect and on server shutdown
			return
		}
	}
}

func (s *Server) initialSnapshots(ctx context.Context, flightIDs []string) []flight.Snapshot {
	if len(flightIDs) == 0 {
		snaps, err := s.backend.Flights(ctx)
		if err != nil {
			s.logger.Warn("sse initial state unavailable", "error", err)
			return nil
		}
		slices.SortFunc(snaps, func(a, b flight.Snapshot) int {
			return strings.Compare(a.ID, b.ID)
		})
		return snaps
	}

	var snaps []flight.Snapshot
	for _, id := range flightIDs {
		snap, ok, err := s.backend.Flight(ctx, id)
		if err != nil {
			s.logger.Warn("sse initial state unavailable", "flight_id", id, "error", err)
			continue
		}
		if ok {
			snaps = append(snaps, snap)
		}
	}
	return snaps
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
