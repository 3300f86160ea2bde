// Package mockfeed serves a fake airport flight feed and a fake push
// gateway for demos.
//
// The feed moves a handful of flights through their day: gates change,
// departures slip, statuses advance. Every change bumps the flight's
// revision. The push gateway accepts webhook notifications and logs them,
// rejecting endpoints under /push/gone/ with 410 so permanent failures can
// be seen too.
package mockfeed

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// flight mirrors the snapshot wire format.
type flight struct {
	ID                 string    `json:"id"`
	Revision           int64     `json:"revision"`
	ObservedAt         time.Time `json:"observed_at"`
	Status             string    `json:"status"`
	ScheduledDeparture time.Time `json:"scheduled_departure"`
	EstimatedDeparture time.Time `json:"estimated_departure"`
	ActualDeparture    time.Time `json:"actual_departure"`
	ScheduledArrival   time.Time `json:"scheduled_arrival"`
	EstimatedArrival   time.Time `json:"estimated_arrival"`
	Gate               string    `json:"gate"`
	Terminal           string    `json:"terminal"`
}

// progression is the order a flight's status advances through.
var progression = []string{"scheduled", "boarding", "departed", "in_air", "landed"}

// Server holds the simulated flights.
type Server struct {
	mu      sync.Mutex
	flights []*flight
	logger  *slog.Logger
	rng     *rand.Rand
}

// New creates a Server with flights departing over the next few hours.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now().UTC().Truncate(time.Minute)
	day := now.Format("2006-01-02")

	s := &Server{logger: logger, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for i, code := range []string{"BA117", "UA90", "LH400", "AF1381"} {
		dep := now.Add(time.Duration(30+i*45) * time.Minute)
		s.flights = append(s.flights, &flight{
			ID:                 code + "-" + day,
			Revision:           1,
			ObservedAt:         now,
			Status:             "scheduled",
			ScheduledDeparture: dep,
			EstimatedDeparture: dep,
			ScheduledArrival:   dep.Add(7 * time.Hour),
			EstimatedArrival:   dep.Add(7 * time.Hour),
			Gate:               fmt.Sprintf("A%d", 10+i),
			Terminal:           fmt.Sprintf("%d", 2+i%4),
		})
	}
	return s
}

// FlightIDs returns the identifiers of the simulated flights.
func (s *Server) FlightIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.flights))
	for i, f := range s.flights {
		ids[i] = f.ID
	}
	return ids
}

// Handler serves GET /flights.json and POST /push/{device}.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /flights.json", s.handleFeed)
	mux.HandleFunc("POST /push/", s.handlePush)
	return mux
}

// ListenAndServe serves the feed and gateway on addr and moves the flights
// along every interval.
func (s *Server) ListenAndServe(addr string, interval time.Duration) error {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			s.Advance()
		}
	}()
	return http.ListenAndServe(addr, s.Handler())
}

// Advance applies one random change to one flight.
func (s *Server) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.flights[s.rng.Intn(len(s.flights))]
	if f.Status == "landed" || f.Status == "cancelled" {
		return
	}

	var what string
	switch s.rng.Intn(4) {
	case 0:
		f.Gate = fmt.Sprintf("%c%d", 'A'+rune(s.rng.Intn(3)), 1+s.rng.Intn(30))
		what = "gate " + f.Gate
	case 1:
		// small slips are informational, large ones actionable
		slip := time.Duration(1+s.rng.Intn(20)) * time.Minute
		f.EstimatedDeparture = f.EstimatedDeparture.Add(slip)
		f.EstimatedArrival = f.EstimatedArrival.Add(slip)
		what = "delay " + slip.String()
	default:
		next := nextStatus(f.Status)
		if next == "departed" {
			f.ActualDeparture = time.Now().UTC().Truncate(time.Minute)
		}
		f.Status = next
		what = "status " + next
	}

	f.Revision++
	f.ObservedAt = time.Now().UTC()
	s.logger.Info("flight changed", "flight_id", f.ID, "revision", f.Revision, "change", what)
}

func nextStatus(current string) string {
	for i, st := range progression {
		if st == current && i+1 < len(progression) {
			return progression[i+1]
		}
	}
	return current
}

func (s *Server) handleFeed(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	snapshot := make([]flight, len(s.flights))
	for i, f := range s.flights {
		snapshot[i] = *f
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"flights": snapshot}); err != nil {
		s.logger.Error("failed to write feed", "error", err)
	}
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	device := strings.TrimPrefix(r.URL.Path, "/push/")
	if strings.HasPrefix(device, "gone/") {
		http.Error(w, "device unregistered", http.StatusGone)
		return
	}

	var n struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	body, _ := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err := json.Unmarshal(body, &n); err != nil {
		http.Error(w, "bad notification", http.StatusBadRequest)
		return
	}

	s.logger.Info("push received", "device", device, "title", n.Title, "body", n.Body)
	w.WriteHeader(http.StatusAccepted)
}
