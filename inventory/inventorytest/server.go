// Package inventorytest provides an in-memory inventory service for tests.
package inventorytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/c360/sensorsim/sensor"
)

// CollectionPath is where the fake service mounts the sensor collection.
const CollectionPath = "/api/sensors"

// Server is an httptest server speaking the inventory REST protocol. Sensors
// are kept in insertion order.
type Server struct {
	srv *httptest.Server

	mu          sync.Mutex
	sensors     map[string]sensor.Identity
	order       []string
	requests    []string
	failNext    int
	failStatus  int
	listStatus  int
	createFails map[string]int
	deleteFails map[string]int
}

type createRequest struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	WalletAddress string `json:"wallet_address"`
}

// NewServer starts a fake inventory service; it is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		sensors:     make(map[string]sensor.Identity),
		createFails: make(map[string]int),
		deleteFails: make(map[string]int),
	}

	r := mux.NewRouter()
	r.Use(s.record)
	r.HandleFunc(CollectionPath, s.list).Methods(http.MethodGet)
	r.HandleFunc(CollectionPath, s.create).Methods(http.MethodPost)
	r.HandleFunc(CollectionPath+"/{id}", s.get).Methods(http.MethodGet)
	r.HandleFunc(CollectionPath+"/{id}", s.remove).Methods(http.MethodDelete)

	s.srv = httptest.NewServer(r)
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the collection URL to hand to inventory.NewClient.
func (s *Server) URL() string {
	return s.srv.URL + CollectionPath
}

// Seed stores sensors directly and returns them with their generated ids.
func (s *Server) Seed(entries ...sensor.Identity) []sensor.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]sensor.Identity, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		s.put(e)
		out = append(out, e)
	}
	return out
}

// Sensors returns the stored sensors in insertion order.
func (s *Server) Sensors() []sensor.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Requests returns "METHOD /path" for every request received.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// FailNext answers the next n requests with status, whatever their route.
func (s *Server) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failStatus = status
}

// FailList answers every listing with status; 0 restores normal behaviour.
func (s *Server) FailList(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listStatus = status
}

// FailCreate rejects creation of the named sensor with status.
func (s *Server) FailCreate(name string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createFails[name] = status
}

// FailDeletion rejects deletion of id with status.
func (s *Server) FailDeletion(id string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteFails[id] = status
}

func (s *Server) put(e sensor.Identity) {
	if _, exists := s.sensors[e.ID]; !exists {
		s.order = append(s.order, e.ID)
	}
	s.sensors[e.ID] = e
}

func (s *Server) snapshot() []sensor.Identity {
	out := make([]sensor.Identity, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sensors[id])
	}
	return out
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		fail := s.failNext > 0
		status := s.failStatus
		if fail {
			s.failNext--
		}
		s.mu.Unlock()

		if fail {
			http.Error(w, http.StatusText(status), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) list(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status := s.listStatus
	sensors := s.snapshot()
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	writeJSON(w, http.StatusOK, sensors)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Type == "" {
		http.Error(w, "name and type are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if status, ok := s.createFails[req.Name]; ok {
		http.Error(w, http.StatusText(status), status)
		return
	}

	identity := sensor.Identity{
		ID:            uuid.NewString(),
		DisplayName:   req.Name,
		Category:      req.Type,
		WalletAddress: req.WalletAddress,
	}
	s.put(identity)
	writeJSON(w, http.StatusCreated, identity)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	identity, ok := s.sensors[id]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	defer s.mu.Unlock()

	if status, ok := s.deleteFails[id]; ok {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if _, ok := s.sensors[id]; !ok {
		http.NotFound(w, r)
		return
	}

	delete(s.sensors, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
