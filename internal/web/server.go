// Package web serves the operator-facing HTTP API: module status, skill
// listing and invocation, and a live GPS websocket feed.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"skillsd/internal/skill"
)

// Status aggregates per-module snapshots for /api/status. Modules register a
// section function at startup; sections are evaluated per request.
type Status struct {
	mu       sync.Mutex
	sections map[string]func() any
}

func NewStatus() *Status {
	return &Status{sections: make(map[string]func() any)}
}

func (s *Status) Register(name string, fn func() any) {
	if s == nil || name == "" || fn == nil {
		return
	}
	s.mu.Lock()
	s.sections[name] = fn
	s.mu.Unlock()
}

func (s *Status) Snapshot(nowUTC time.Time) map[string]any {
	out := map[string]any{
		"time_utc": nowUTC.Format(time.RFC3339Nano),
	}
	if s == nil {
		return out
	}
	s.mu.Lock()
	names := make([]string, 0, len(s.sections))
	for name := range s.sections {
		names = append(names, name)
	}
	fns := make(map[string]func() any, len(s.sections))
	for name, fn := range s.sections {
		fns[name] = fn
	}
	s.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		out[name] = fns[name]()
	}
	return out
}

// Sayer speaks text through the robot speaker.
type Sayer interface {
	Say(text string) error
}

func Handler(status *Status, reg *skill.Registry, sayer Sayer, live *LiveGPS) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/skills", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		type item struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		list := reg.List()
		out := make([]item, 0, len(list))
		for _, s := range list {
			out = append(out, item{Name: s.Name, Description: s.Description})
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("/api/skills/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/api/skills/")
		if name == "" || strings.Contains(name, "/") {
			http.Error(w, "skill name required", http.StatusNotFound)
			return
		}

		args := map[string]string{}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "read body failed", http.StatusBadRequest)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &args); err != nil {
				http.Error(w, "args must be a JSON string map", http.StatusBadRequest)
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()
		result, err := reg.Invoke(ctx, name, args)
		if err != nil {
			writeJSONStatus(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, map[string]any{"result": result})
	})

	mux.HandleFunc("/api/say", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if sayer == nil {
			http.Error(w, "tts unavailable", http.StatusNotFound)
			return
		}
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if err := sayer.Say(req.Text); err != nil {
			writeJSONStatus(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/gps/live", func(w http.ResponseWriter, r *http.Request) {
		if live == nil {
			http.Error(w, "gps unavailable", http.StatusNotFound)
			return
		}
		live.ServeHTTP(w, r)
	})

	return mux
}

// Server runs the HTTP API on one listener.
type Server struct {
	addr    string
	handler http.Handler

	mu sync.Mutex
	ln net.Listener
	hs *http.Server
}

func NewServer(addr string, handler http.Handler) (*Server, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("web listen addr is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("web handler is nil")
	}
	return &Server{addr: addr, handler: handler}, nil
}

// Start binds the listener and serves in the background. Bind errors are
// returned to the caller.
func (s *Server) Start() error {
	if s == nil {
		return fmt.Errorf("web server is nil")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("web listen %s: %w", s.addr, err)
	}

	hs := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.ln = ln
	s.hs = hs
	s.mu.Unlock()

	go func() {
		if err := hs.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("web server stopped err=%v", err)
		}
	}()
	log.Printf("web server listening addr=%s", ln.Addr())
	return nil
}

// Addr is the bound address, useful with port 0.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	hs := s.hs
	s.hs = nil
	s.mu.Unlock()
	if hs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = hs.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}
