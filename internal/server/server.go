package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"example.com/rangehttp/internal/config"
	"example.com/rangehttp/internal/logger"
	"example.com/rangehttp/internal/util"
)

// Server owns the listeners and the HTTP/1.1 transport and feeds every request
// to the router through a ResponseWriterStream.
type Server struct {
	cfg        *config.Config
	log        *logger.Logger
	router     RouterInterface
	httpServer *http.Server

	nextRequestID atomic.Uint64

	mu        sync.Mutex
	listeners []net.Listener
	serveErrs chan error
	serving   sync.WaitGroup
	doneChan  chan struct{}
}

// NewServer wires cfg, the logger and the router into an unstarted server.
func NewServer(cfg *config.Config, lg *logger.Logger, router RouterInterface) (*Server, error) {
	if cfg == nil || cfg.Server == nil {
		return nil, fmt.Errorf("server configuration cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if router == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}

	s := &Server{
		cfg:      cfg,
		log:      lg,
		router:   router,
		doneChan: make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Handler:      s,
		ReadTimeout:  cfg.Server.ReadTimeout.Value(),
		WriteTimeout: cfg.Server.WriteTimeout.Value(),
		IdleTimeout:  cfg.Server.IdleTimeout.Value(),
		ErrorLog:     lg.StdLogger("net/http"),
		// An empty, non-nil map keeps ServeTLS from negotiating HTTP/2.
		TLSNextProto: make(map[string]func(*http.Server, *tls.Conn, http.Handler)),
	}
	return s, nil
}

// ServeHTTP implements http.Handler: it assigns a request ID, dispatches to
// the router, recovers handler panics and writes the access log entry.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	stream := newHTTPStream(w, req, s.nextRequestID.Add(1))

	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.log.Error("Panic while handling request", logger.LogFields{
				"request_id": stream.ID(),
				"method":     req.Method,
				"path":       req.URL.Path,
				"panic":      fmt.Sprint(rec),
				"stack":      string(debug.Stack()),
			})
			if !stream.headersSent {
				SendDefaultErrorResponse(stream, http.StatusInternalServerError, req, "", s.log)
			}
		}
		s.log.Access(req, stream.ID(), stream.statusForLog(), stream.bytesWritten, time.Since(start))
	}()

	s.router.ServeStream(stream, req)
}

// initializeListeners uses sockets inherited through LISTEN_FDS when present
// and otherwise binds server.address.
func (s *Server) initializeListeners(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inherited, err := util.InheritedListeners()
	if err != nil {
		return fmt.Errorf("failed to use inherited listeners: %w", err)
	}
	if len(inherited) > 0 {
		for _, l := range inherited {
			s.log.Info("Using inherited listener", logger.LogFields{"address": l.Addr().String()})
		}
		s.listeners = inherited
	} else {
		address := *s.cfg.Server.Address
		l, err := util.CreateListener(ctx, "tcp", address)
		if err != nil {
			if util.IsAddrInUse(err) {
				return fmt.Errorf("address %s is already in use: %w", address, err)
			}
			return err
		}
		s.listeners = []net.Listener{l}
	}

	if limit := s.cfg.Server.MaxConnections; limit != nil && *limit > 0 {
		for i, l := range s.listeners {
			s.listeners[i] = netutil.LimitListener(l, *limit)
		}
	}
	return nil
}

// Start binds the listeners and begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	if err := s.initializeListeners(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	listeners := append([]net.Listener(nil), s.listeners...)
	s.serveErrs = make(chan error, len(listeners))
	s.mu.Unlock()

	tlsEnabled := s.cfg.Server.TLSEnabled()
	maxConns := 0
	if mc := s.cfg.Server.MaxConnections; mc != nil {
		maxConns = *mc
	}
	for _, l := range listeners {
		s.log.Info("Server listening", logger.LogFields{
			"address":         l.Addr().String(),
			"tls":             tlsEnabled,
			"max_connections": maxConns,
		})
		s.serving.Add(1)
		go func(l net.Listener) {
			defer s.serving.Done()
			var err error
			if tlsEnabled {
				err = s.httpServer.ServeTLS(l, *s.cfg.Server.TLSCertFile, *s.cfg.Server.TLSKeyFile)
			} else {
				err = s.httpServer.Serve(l)
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.serveErrs <- fmt.Errorf("serving on %s: %w", l.Addr(), err)
			}
		}(l)
	}
	go func() {
		s.serving.Wait()
		close(s.doneChan)
	}()
	return nil
}

// Addrs returns the bound listener addresses.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// Done is closed once every listener has stopped serving.
func (s *Server) Done() <-chan struct{} { return s.doneChan }

// Shutdown stops accepting connections and waits for in-flight requests until
// ctx expires, after which remaining connections are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server", nil)
	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.log.Warn("Graceful shutdown did not complete, closing remaining connections", logger.LogFields{"error": err.Error()})
		if cerr := s.httpServer.Close(); cerr != nil {
			s.log.Error("Failed to close server", logger.LogFields{"error": cerr.Error()})
		}
	}
	return err
}

// Run starts the server and blocks until ctx is cancelled, SIGINT or SIGTERM
// arrives, or a listener fails. SIGHUP reopens log files. Shutdown is
// bounded by server.graceful_shutdown_timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	var runErr error
loop:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				s.log.Info("Received SIGHUP, reopening log files", nil)
				if err := s.log.ReopenLogFiles(); err != nil {
					s.log.Error("Failed to reopen log files", logger.LogFields{"error": err.Error()})
				}
				continue
			}
			s.log.Info("Received signal, starting graceful shutdown", logger.LogFields{"signal": sig.String()})
			break loop
		case <-ctx.Done():
			break loop
		case err := <-s.serveErrs:
			s.log.Error("Listener failed", logger.LogFields{"error": err.Error()})
			runErr = err
			break loop
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.GracefulShutdownTimeout.Value())
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("graceful shutdown: %w", err)
	}
	<-s.doneChan
	return runErr
}
