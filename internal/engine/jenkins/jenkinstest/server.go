// Package jenkinstest provides a scriptable fake Jenkins server for tests.
package jenkinstest

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"buildwait/internal/engine"
)

// TriggerCall records one buildWithParameters request
type TriggerCall struct {
	View   string
	Job    string
	Params []engine.Param
	Header http.Header
}

// Server is a fake Jenkins. Configure the exported fields before the first request.
type Server struct {
	*httptest.Server

	Username string
	Token    string

	// TriggerStatus is the status for buildWithParameters (default 201)
	TriggerStatus int
	// OmitLocation drops the Location header from the trigger response
	OmitLocation bool
	// RelativeLocation sends a server-relative Location header
	RelativeLocation bool

	// CrumbEnabled serves /crumbIssuer/api/json; otherwise it returns 404
	CrumbEnabled bool

	mu          sync.Mutex
	queueBodies []string
	buildBodies []string
	triggers    []TriggerCall
	queuePolls  int
	buildPolls  int
	crumbCalls  int
	requestIDs  []string
}

// NewServer starts a fake Jenkins accepting user:token
func NewServer() *Server {
	s := &Server{
		Username:      "user",
		Token:         "token",
		TriggerStatus: http.StatusCreated,
	}

	r := chi.NewRouter()
	r.Use(s.recordRequestID)
	r.Use(s.basicAuth)
	r.Get("/crumbIssuer/api/json", s.handleCrumb)
	r.Post("/view/{view}/job/{job}/buildWithParameters", s.handleTrigger)
	r.Get("/queue/item/{id}/api/json", s.handleQueue)
	r.Get("/job/{job}/{number}/api/json", s.handleBuild)

	s.Server = httptest.NewServer(r)
	return s
}

// QueueResponses sets the bodies served by successive queue polls; the last one repeats
func (s *Server) QueueResponses(bodies ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueBodies = bodies
}

// BuildResponses sets the bodies served by successive build polls; the last one repeats
func (s *Server) BuildResponses(bodies ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildBodies = bodies
}

// Triggers returns the recorded trigger calls
func (s *Server) Triggers() []TriggerCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TriggerCall(nil), s.triggers...)
}

// QueuePolls returns how many times the queue item was fetched
func (s *Server) QueuePolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queuePolls
}

// BuildPolls returns how many times the build status was fetched
func (s *Server) BuildPolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildPolls
}

// CrumbCalls returns how many crumbs were issued
func (s *Server) CrumbCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crumbCalls
}

// RequestIDs returns the distinct X-Request-ID values seen
func (s *Server) RequestIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requestIDs...)
}

func (s *Server) recordRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		s.mu.Lock()
		known := false
		for _, seen := range s.requestIDs {
			if seen == id {
				known = true
				break
			}
		}
		if !known {
			s.requestIDs = append(s.requestIDs, id)
		}
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := "Basic " + base64.StdEncoding.EncodeToString([]byte(s.Username+":"+s.Token))
		if r.Header.Get("Authorization") != expected {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCrumb(w http.ResponseWriter, r *http.Request) {
	if !s.CrumbEnabled {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	s.crumbCalls++
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"crumb":"test-crumb","crumbRequestField":"Jenkins-Crumb"}`)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params, err := engine.DecodeForm(string(body))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.triggers = append(s.triggers, TriggerCall{
		View:   pathParam(r, "view"),
		Job:    pathParam(r, "job"),
		Params: params,
		Header: r.Header.Clone(),
	})
	s.mu.Unlock()

	if !s.OmitLocation {
		location := "/queue/item/1/"
		if !s.RelativeLocation {
			location = s.URL + location
		}
		w.Header().Set("Location", location)
	}
	w.WriteHeader(s.TriggerStatus)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body := next(s.queueBodies, s.queuePolls)
	s.queuePolls++
	s.mu.Unlock()
	writeJSON(w, body)
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body := next(s.buildBodies, s.buildPolls)
	s.buildPolls++
	s.mu.Unlock()
	writeJSON(w, body)
}

func next(bodies []string, n int) string {
	if len(bodies) == 0 {
		return "{}"
	}
	if n >= len(bodies) {
		return bodies[len(bodies)-1]
	}
	return bodies[n]
}

// writeJSON writes body, or a bare status when body is "status:NNN"
func writeJSON(w http.ResponseWriter, body string) {
	if code, ok := strings.CutPrefix(body, "status:"); ok {
		var status int
		fmt.Sscanf(code, "%d", &status)
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}
