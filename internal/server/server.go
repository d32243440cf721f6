// Package server is the local HTTP bridge. It serves the JSON API used by
// the web configurator, the event stream and the status page.
package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/versioduo/v2configure/internal/device"
	"github.com/versioduo/v2configure/internal/firmware"
	"github.com/versioduo/v2configure/internal/logs"
	"github.com/versioduo/v2configure/internal/midi"
)

const shutdownTimeout = 5 * time.Second

// Ports lists the devices and looks them up by port id
type Ports interface {
	Enumerate() ([]midi.Pair, error)
	FindPair(key string) (midi.Pair, bool, error)
}

// Options wires the server to the application
type Options struct {
	Addr    string
	Version string

	Ports    Ports
	Session  *device.Session
	Transfer *firmware.Transfer
	Resolver *firmware.Resolver
	Hub      *Hub

	// DownloadOverride replaces the download site reported by the device
	DownloadOverride string

	Short *logs.MemoryWriter
	Long  *logs.MemoryWriter
	Log   zerolog.Logger

	// CSRFKey protects the status page; a random key is used when empty
	CSRFKey []byte
}

type serverPrivate struct {
	*http.Server
}

type Server struct {
	serverPrivate

	opts Options
	log  zerolog.Logger

	mu         sync.Mutex
	resolution *firmware.Resolution
	query      firmware.Query
}

func New(opts Options) (*Server, error) {
	if opts.Hub == nil {
		return nil, errors.New("server: missing event hub")
	}
	if len(opts.CSRFKey) == 0 {
		opts.CSRFKey = make([]byte, 32)
		if _, err := rand.Read(opts.CSRFKey); err != nil {
			return nil, fmt.Errorf("failed to create csrf key: %w", err)
		}
	}

	s := &Server{
		serverPrivate: serverPrivate{
			Server: &http.Server{
				Addr:              opts.Addr,
				ReadHeaderTimeout: 10 * time.Second,
			},
		},
		opts: opts,
		log:  opts.Log.With().Str("component", "server").Logger(),
	}

	cv, err := corsValidator(opts.Addr)
	if err != nil {
		return nil, err
	}

	r := mux.NewRouter()
	apiRouter := r.PathPrefix("/api").Subrouter()
	statusRouter := r.PathPrefix("/status").Subrouter()
	redirectRouter := r.Methods("GET").Path("/").Subrouter()

	s.serveAPI(apiRouter, cv)
	s.serveStatus(statusRouter)
	s.serveStatusRedirect(redirectRouter)

	var h http.Handler = r

	// Log after the request is done, in the Apache format.
	if opts.Long != nil {
		h = handlers.LoggingHandler(opts.Long, h)
	}
	// Log when the request is received.
	h = s.logRequest(h)

	s.Handler = h
	return s, nil
}

func (s *Server) logRequest(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debug().Str("method", r.Method).Str("url", r.URL.String()).Msg("request")
		handler.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	go s.opts.Hub.Run(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("shutdown failed")
		}
	}()

	s.log.Info().Str("addr", s.Addr).Msg("listening")
	err := s.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
