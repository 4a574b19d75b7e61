// Package fakeserver is test support: an in-memory HTTP server
// implementing the wire contract of §6, for integration tests exercising
// the pull/push round trip without a real backend.
package fakeserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"
)

type entityState struct {
	records []map[string]any // sorted by id ascending, simulating server order
}

type pushResultItem struct {
	MutationID string         `json:"mutationId"`
	Status     string         `json:"status"`
	Record     map[string]any `json:"record,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// RejectRule lets a test force a specific entityId to be rejected or
// failed by the fake server, mirroring S3/S4.
type RejectRule struct {
	EntityID string
	Status   string // "rejected" or "failed"
	Error    string
}

// Server is an in-memory reference implementation of the pull/push
// contract (§6.1, §6.2), with idempotency-key tracking for P2.
type Server struct {
	mu            sync.Mutex
	entities      map[string]*entityState // keyed by entity name
	pullPaths     map[string]string        // entity name -> pull path
	pushPaths     map[string]string        // entity name -> push path
	seenMutations map[string]pushResultItem
	rejectRules   map[string]RejectRule // entityId -> rule
	pageSize      int
	httpServer    *httptest.Server
}

// New builds a Server with the given default page size (used when a
// request does not specify limit).
func New(defaultPageSize int) *Server {
	if defaultPageSize <= 0 {
		defaultPageSize = 2
	}
	s := &Server{
		entities:      make(map[string]*entityState),
		pullPaths:     make(map[string]string),
		pushPaths:     make(map[string]string),
		seenMutations: make(map[string]pushResultItem),
		rejectRules:   make(map[string]RejectRule),
		pageSize:      defaultPageSize,
	}
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.route))
	return s
}

// URL returns the server's base URL, suitable for engine.Config.BaseURL.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// Close shuts down the underlying httptest.Server.
func (s *Server) Close() {
	s.httpServer.Close()
}

// Seed registers an entity's wire paths and initial records.
func (s *Server) Seed(name, pullPath, pushPath string, records []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pullPaths[name] = pullPath
	s.pushPaths[name] = pushPath
	sorted := append([]map[string]any(nil), records...)
	sort.Slice(sorted, func(i, j int) bool {
		return idOf(sorted[i]) < idOf(sorted[j])
	})
	s.entities[name] = &entityState{records: sorted}
}

// RejectMutationFor makes the next push of entityId respond with rule
// instead of "applied" (used to simulate S3/S4-style server behavior).
func (s *Server) RejectMutationFor(entityID string, rule RejectRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.EntityID = entityID
	s.rejectRules[entityID] = rule
}

func idOf(rec map[string]any) string {
	id, _ := rec["id"].(string)
	return id
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	var matchedPull, matchedPush string
	for name, p := range s.pullPaths {
		if p == r.URL.Path && r.Method == http.MethodGet {
			matchedPull = name
		}
	}
	for name, p := range s.pushPaths {
		if p == r.URL.Path && r.Method == http.MethodPost {
			matchedPush = name
		}
	}
	s.mu.Unlock()

	switch {
	case matchedPull != "":
		s.handlePull(w, r, matchedPull)
	case matchedPush != "":
		s.handlePush(w, r, matchedPush)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request, entity string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.entities[entity]
	if state == nil {
		state = &entityState{}
	}

	since := r.URL.Query().Get("since")
	cursor := r.URL.Query().Get("cursor")
	limit := s.pageSize
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	filtered := state.records
	if since != "" {
		out := make([]map[string]any, 0, len(filtered))
		for _, rec := range filtered {
			if updatedAt, _ := rec["updatedAt"].(string); updatedAt >= since {
				out = append(out, rec)
			}
		}
		filtered = out
	}

	start := 0
	if cursor != "" {
		if n, err := strconv.Atoi(cursor); err == nil {
			start = n
		}
	}
	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	if start > len(filtered) {
		start = len(filtered)
	}

	page := filtered[start:end]
	hasMore := end < len(filtered)

	var nextCursor *string
	if hasMore {
		nc := strconv.Itoa(end)
		nextCursor = &nc
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":      page,
		"nextCursor": nextCursor,
		"hasMore":    hasMore,
		"total":      len(filtered),
	})
}

type pushEnvelope struct {
	Mutations []struct {
		MutationID string         `json:"mutationId"`
		Entity     string         `json:"entity"`
		EntityID   string         `json:"entityId"`
		Operation  string         `json:"operation"`
		Payload    map[string]any `json:"payload"`
	} `json:"mutations"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request, entity string) {
	var env pushEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]pushResultItem, 0, len(env.Mutations))
	for _, m := range env.Mutations {
		if prior, ok := s.seenMutations[m.MutationID]; ok {
			results = append(results, prior) // P2: idempotent replay
			continue
		}

		if rule, ok := s.rejectRules[m.EntityID]; ok {
			res := pushResultItem{MutationID: m.MutationID, Status: rule.Status, Error: rule.Error}
			s.seenMutations[m.MutationID] = res
			results = append(results, res)
			delete(s.rejectRules, m.EntityID)
			continue
		}

		state := s.entities[entity]
		if state == nil {
			state = &entityState{}
			s.entities[entity] = state
		}
		state.upsert(m.EntityID, m.Payload)

		res := pushResultItem{MutationID: m.MutationID, Status: "applied", Record: m.Payload}
		s.seenMutations[m.MutationID] = res
		results = append(results, res)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results":    results,
		"serverTime": time.Now().UTC().Format(time.RFC3339),
	})
}

func (e *entityState) upsert(id string, payload map[string]any) {
	for i, rec := range e.records {
		if idOf(rec) == id {
			e.records[i] = payload
			return
		}
	}
	e.records = append(e.records, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
