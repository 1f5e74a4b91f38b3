package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/siegeup/hostagent/pkg/buildstore"
	"github.com/siegeup/hostagent/pkg/log"
	"github.com/siegeup/hostagent/pkg/logsink"
	"github.com/siegeup/hostagent/pkg/reconciler"
	"github.com/siegeup/hostagent/pkg/state"
	"github.com/siegeup/hostagent/pkg/supervisor"
)

// Server is the HTTPS control facade. It translates orchestrator requests
// into core operations and owns no state of its own beyond the agent commit
// string computed at startup.
type Server struct {
	state  *state.Store
	super  *supervisor.Supervisor
	builds *buildstore.Store
	sink   *logsink.Sink
	recon  *reconciler.Reconciler

	commit string
	router *mux.Router
	srv    *http.Server
	logger zerolog.Logger

	// exit runs the /update sequence: stop everything and leave with
	// status 0 so the service manager restarts (and possibly replaces)
	// the agent binary. Overridable in tests.
	exit func()
}

// NewServer wires the facade over the core components.
func NewServer(st *state.Store, sv *supervisor.Supervisor, bs *buildstore.Store, sink *logsink.Sink, rec *reconciler.Reconciler, commit string) *Server {
	s := &Server{
		state:  st,
		super:  sv,
		builds: bs,
		sink:   sink,
		recon:  rec,
		commit: commit,
		logger: log.WithComponent("api"),
	}
	s.exit = s.defaultExit

	r := mux.NewRouter()
	r.Use(s.recoverMiddleware)
	r.HandleFunc("/launch", s.handleLaunch).Methods(http.MethodPost)
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/restart", s.handleRestart).Methods(http.MethodPost)
	r.HandleFunc("/purge", s.handlePurge).Methods(http.MethodPost)
	r.HandleFunc("/update", s.handleUpdate).Methods(http.MethodPost)
	r.HandleFunc("/logs/{port:[0-9]+}", s.handleLogs).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router = r

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTPS on the given port with the agent certificate. It
// blocks until the server stops.
func (s *Server) Start(port int, cert *tls.Certificate) error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{*cert},
			MinVersion:   tls.VersionTLS12,
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Int("port", port).Msg("Control API listening")
	err := s.srv.ListenAndServeTLS("", "")
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

// defaultExit is the production /update behavior.
func (s *Server) defaultExit() {
	// Give the response a moment to flush before tearing the world down.
	time.Sleep(100 * time.Millisecond)
	s.recon.Stop()
	s.recon.StopAll()
	s.logger.Info().Msg("Exiting for update")
	osExit(0)
}

// osExit is stubbed in tests.
var osExit = defaultOSExit

// recoverMiddleware turns handler panics into a 500 with a correlation id
// the operator can grep the agent log for.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				id := 100000 + rand.Intn(900000)
				s.logger.Error().
					Int("id", id).
					Str("path", r.URL.Path).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("Handler panicked")
				writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
					"error": "Internal error",
					"id":    id,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
