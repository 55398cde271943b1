package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/redline/internal/store"
	"github.com/steveyegge/redline/internal/types"
)

const maxBodyBytes = 16 << 20

// Config configures a Server.
type Config struct {
	Addr string
	// Token, when set, is required as a Bearer token on every endpoint except
	// /healthz.
	Token string
	// Sessions serves GET /ws. Nil disables live sessions.
	Sessions http.Handler
	// SessionCount reports connected sessions for /healthz.
	SessionCount func() int
	Version      string
	Logger       *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	store   *store.Store
	cfg     Config
	log     *slog.Logger
	started time.Time

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a server for st. Call Listen, then Serve.
func NewServer(st *store.Store, cfg Config) *Server {
	s := &Server{store: st, cfg: cfg, log: cfg.Logger, started: time.Now()}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	return s
}

// DetermineAccess inspects the listen address and reports whether a token is
// required (any non-loopback bind). Remote binds are refused unless
// allowRemote is set.
func DetermineAccess(listenAddr string, allowRemote bool) (bool, error) {
	host, _, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return false, fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	if isLoopbackHost(host) {
		return false, nil
	}
	if !allowRemote {
		return false, fmt.Errorf("refusing remote bind to %q without --allow-remote", host)
	}
	return true, nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/document", s.handleDocument)
	api.HandleFunc("GET /api/status", s.handleStatus)
	api.HandleFunc("POST /api/changes", s.handleChanges)
	api.HandleFunc("POST /api/nodes/{id}/text-edits", s.handleTextEdits)
	api.HandleFunc("GET /api/pending", s.handlePending)
	api.HandleFunc("POST /api/pending/accept-all", s.handleResolveAll(true))
	api.HandleFunc("POST /api/pending/reject-all", s.handleResolveAll(false))
	api.HandleFunc("POST /api/pending/{id}/accept", s.handleResolve(true))
	api.HandleFunc("POST /api/pending/{id}/reject", s.handleResolve(false))
	api.HandleFunc("POST /api/document/open", s.handleOpen)
	api.HandleFunc("POST /api/save", s.handleSave)
	api.HandleFunc("GET /api/versions", s.handleVersions)
	api.HandleFunc("GET /api/versions/{id}", s.handleVersion)
	api.HandleFunc("POST /api/versions/{id}/restore", s.handleRestore)
	if s.cfg.Sessions != nil {
		api.Handle("GET /ws", s.cfg.Sessions)
	}

	mux.Handle("/", s.authenticate(api))
	return mux
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	token := strings.TrimSpace(s.cfg.Token)
	if token == "" {
		return next
	}
	expected := "Bearer " + token
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actual := strings.TrimSpace(r.Header.Get("Authorization"))
		// Browsers cannot set headers on websocket upgrades.
		if actual == "" && r.URL.Query().Get("token") != "" {
			actual = "Bearer " + r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="redline"`)
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: CodeUnauthorized})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Unlock()
	return nil
}

// Serve serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.RLock()
	srv, ln := s.httpServer, s.listener
	s.mu.RUnlock()
	if srv == nil {
		return fmt.Errorf("serve: Listen was not called")
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("api listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Version:  s.cfg.Version,
		Uptime:   fmt.Sprintf("%.0fs", time.Since(s.started).Seconds()),
		Document: s.store.Path(),
	}
	if s.cfg.SessionCount != nil {
		resp.Sessions = s.cfg.SessionCount()
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDocument(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Document())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Status())
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	var req ChangesRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.store.ApplyChanges(r.Context(), req.Changes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTextEdits(w http.ResponseWriter, r *http.Request) {
	var req TextEditsRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.store.ApplyTextEdits(r.Context(), r.PathValue("id"), req.Edits)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request) {
	list := s.store.Pending()
	if list == nil {
		list = []types.PendingNode{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleResolve(accept bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn := s.store.Reject
		if accept {
			fn = s.store.Accept
		}
		n, err := fn(r.Context(), actor(r), r.PathValue("id"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ResolveResponse{Resolved: n})
	}
}

func (s *Server) handleResolveAll(accept bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn := s.store.RejectAll
		if accept {
			fn = s.store.AcceptAll
		}
		writeJSON(w, http.StatusOK, ResolveResponse{Resolved: fn(r.Context(), actor(r))})
	}
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if !s.decode(w, r, &req) {
		return
	}
	var (
		doc *types.Document
		err error
	)
	switch {
	case req.Temp:
		doc, err = s.store.NewTemp(r.Context(), req.Title)
	case req.Path == "":
		err = fmt.Errorf("open: path is required: %w", types.ErrMalformedChange)
	case req.Create:
		doc, err = s.store.Create(r.Context(), req.Path, req.Title)
	default:
		doc, err = s.store.Open(r.Context(), req.Path)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.store.Save(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SaveResponse{Outcome: outcome.String()})
}

func (s *Server) handleVersions(w http.ResponseWriter, _ *http.Request) {
	versions, err := s.store.Versions()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.ReadVersion(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RestoreVersion(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.store.Document())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read request body", Code: CodeMalformed})
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid JSON: %v", err), Code: CodeMalformed})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.log.Error("api request failed", "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(HeaderActor)); a != "" {
		return a
	}
	return store.OriginAgent
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
