// Package loadertest provides an in-process bulk loader endpoint for tests.
package loadertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"neptuneload/internal/signer"

	"github.com/google/uuid"
)

// Server answers the loader and system APIs over TLS. Every status poll
// advances a load one step through its script; the last step repeats.
type Server struct {
	srv *httptest.Server

	mu          sync.Mutex
	loads       map[string]*load
	order       []string
	script      []string
	failCancel  map[string]bool
	resetToken  string
	resets      int
	requests    []string
	unavailable int
}

type load struct {
	source   string
	statuses []string
	polls    int
}

func (l *load) current() string {
	idx := l.polls
	if idx >= len(l.statuses) {
		idx = len(l.statuses) - 1
	}
	return l.statuses[idx]
}

// NewServer starts a server. Submitted loads follow the script
// LOAD_IN_PROGRESS, LOAD_COMPLETED unless SetScript changes it.
func NewServer() *Server {
	s := &Server{
		loads:      make(map[string]*load),
		script:     []string{"LOAD_IN_PROGRESS", "LOAD_COMPLETED"},
		failCancel: make(map[string]bool),
	}
	s.srv = httptest.NewTLSServer(http.HandlerFunc(s.handle))
	return s
}

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

// Host returns the host:port to sign requests for.
func (s *Server) Host() string { return strings.TrimPrefix(s.srv.URL, "https://") }

// Transport returns a transport that trusts the server certificate.
func (s *Server) Transport() *signer.HTTPTransport {
	return signer.NewHTTPTransportWithClient(s.srv.Client())
}

// SetScript sets the statuses of loads submitted from now on.
func (s *Server) SetScript(statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = statuses
}

// AddLoad registers an existing load.
func (s *Server) AddLoad(id, source string, statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads[id] = &load{source: source, statuses: statuses}
	s.order = append(s.order, id)
}

// FailCancel makes cancelling id answer 500.
func (s *Server) FailCancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCancel[id] = true
}

// FailNext makes the next n requests answer 503.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = n
}

// LoadStatus returns the status the next poll of id reports.
func (s *Server) LoadStatus(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.loads[id]; ok {
		return l.current()
	}
	return ""
}

// Resets returns how many database resets were performed.
func (s *Server) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Count returns how many requests matched "METHOD /path/".
func (s *Server) Count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r == method+" "+path {
			n++
		}
	}
	return n
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, r.Method+" "+r.URL.Path)

	if r.Header.Get(signer.HeaderAuthorization) == "" || r.Header.Get(signer.HeaderDate) == "" {
		writeJSON(w, http.StatusForbidden, map[string]any{"code": "AccessDeniedException"})
		return
	}
	if s.unavailable > 0 {
		s.unavailable--
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"code": "ThrottlingException"})
		return
	}

	var form url.Values
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": "BadRequestException"})
			return
		}
		form = r.PostForm
	} else {
		form = r.URL.Query()
	}

	switch {
	case r.URL.Path == "/loader/" && r.Method == http.MethodPost:
		s.submit(w, form)
	case r.URL.Path == "/loader/" && r.Method == http.MethodGet && form.Get("loadId") != "":
		s.status(w, form.Get("loadId"))
	case r.URL.Path == "/loader/" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "200 OK",
			"payload": map[string]any{"loadIds": append([]string{}, s.order...)},
		})
	case r.URL.Path == "/loader/" && r.Method == http.MethodDelete:
		s.cancel(w, form.Get("loadId"))
	case r.URL.Path == "/system/" && r.Method == http.MethodPost:
		s.system(w, form)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": "BadRequestException"})
	}
}

func (s *Server) submit(w http.ResponseWriter, form url.Values) {
	if form.Get("source") == "" || form.Get("iamRoleArn") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": "MissingParameterException"})
		return
	}
	id := uuid.NewString()
	s.loads[id] = &load{source: form.Get("source"), statuses: append([]string{}, s.script...)}
	s.order = append(s.order, id)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "200 OK",
		"payload": map[string]any{"loadId": id},
	})
}

func (s *Server) status(w http.ResponseWriter, id string) {
	l, ok := s.loads[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": "LoadNotFoundException"})
		return
	}
	status := l.current()
	l.polls++
	fmt.Fprint(w, StatusDocument(status, l.source, int64(100*l.polls)))
}

func (s *Server) cancel(w http.ResponseWriter, id string) {
	l, ok := s.loads[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": "LoadNotFoundException"})
		return
	}
	if s.failCancel[id] {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"code": "InternalFailureException"})
		return
	}
	l.statuses = []string{"LOAD_CANCELLED_BY_USER"}
	l.polls = 0
	writeJSON(w, http.StatusOK, map[string]any{"status": "200 OK"})
}

func (s *Server) system(w http.ResponseWriter, form url.Values) {
	switch form.Get("action") {
	case "initiateDatabaseReset":
		s.resetToken = uuid.NewString()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "200 OK",
			"payload": map[string]any{"token": s.resetToken},
		})
	case "performDatabaseReset":
		if s.resetToken == "" || form.Get("token") != s.resetToken {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": "InvalidParameterException"})
			return
		}
		s.resetToken = ""
		s.resets++
		s.loads = make(map[string]*load)
		s.order = nil
		writeJSON(w, http.StatusOK, map[string]any{"status": "200 OK"})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": "InvalidParameterException"})
	}
}

// StatusDocument renders a loader status response.
func StatusDocument(status, source string, records int64) string {
	doc := map[string]any{
		"status": "200 OK",
		"payload": map[string]any{
			"feedCount": []map[string]int64{{status: 1}},
			"overallStatus": map[string]any{
				"fullUri":                source,
				"runNumber":              1,
				"retryNumber":            0,
				"status":                 status,
				"totalTimeSpent":         records / 100,
				"startTime":              1625111590,
				"totalRecords":           records,
				"totalDuplicates":        0,
				"parsingErrors":          0,
				"datatypeMismatchErrors": 0,
				"insertErrors":           0,
			},
		},
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
