package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cbodonnell/herosync/pkg/api/handlers"
	"github.com/cbodonnell/herosync/pkg/api/middleware"
	"github.com/cbodonnell/herosync/pkg/game"
	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/cbodonnell/herosync/pkg/repositories"
	"github.com/cbodonnell/herosync/pkg/state"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port       int
	TLS        *TLSConfig
	Store      state.Store
	Dispatcher *game.Dispatcher
	// Results is optional. When set, GET /results lists recorded battles.
	Results repositories.ResultRepository
}

// NewAPIServer creates a new http.Server for the poll channel
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(opts),
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

// NewRouter builds the API routes. Responses are gzip compressed for
// clients that accept it.
func NewRouter(opts NewAPIServerOptions) http.Handler {
	if opts.Dispatcher == nil {
		opts.Dispatcher = game.NewDispatcher(game.NewDispatcherOptions{Store: opts.Store})
	}

	r := mux.NewRouter()
	r.Use(middleware.NewLoggingMiddleware(), middleware.NewCORSMiddleware())
	r.HandleFunc("/sync", handlers.HandleGetSync(opts.Store)).Methods(http.MethodGet)
	r.HandleFunc("/sync", handlers.HandlePostSync(opts.Store, opts.Dispatcher)).Methods(http.MethodPost)
	r.HandleFunc("/sync", handlers.HandleSyncOptions()).Methods(http.MethodOptions)
	r.HandleFunc("/health", handlers.HandleHealth(opts.Store)).Methods(http.MethodGet)
	if opts.Results != nil {
		r.HandleFunc("/results", handlers.HandleListResults(opts.Results)).Methods(http.MethodGet)
	}

	return gzhttp.GzipHandler(r)
}

// Start starts the APIServer
func (s *APIServer) Start() error {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return nil
		}
		return fmt.Errorf("API server error: %v", err)
	}
	return nil
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
