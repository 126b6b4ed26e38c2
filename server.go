package medtracker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/medtracker/medtracker/logging"
	"github.com/medtracker/medtracker/serverutil"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server is the HTTP server for the API. Build one with New.
//
// Usage:
//
//	s := medtracker.New(
//		medtracker.WithPlugin(eventbus.Plugin()),
//		medtracker.WithPlugin(auth.Plugin(auth.WithProvider(google.New(...)))),
//	)
//	if err := s.Start(); err != nil {
//		log.Fatal(err)
//	}
type Server struct {
	// Hostname or IP to bind to.
	host string

	// Port to listen on.
	port int

	// Location of certificate and key files, if TLS is to be used.
	certFile string
	keyFile  string

	// Upper bound on draining connections during Shutdown.
	shutdownTimeout time.Duration

	// Context that is propagated to every request.
	baseContext context.Context

	// Fully wrapped request handler.
	handler http.Handler

	plugins  *Registry
	initOnce sync.Once
	initErr  error

	mu         sync.Mutex
	httpServer *http.Server
	quit       chan struct{}
}

// Handler returns the server's request handler, with logging, security
// headers and compression applied. Useful for tests with httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Plugins returns the registry of plugins configured for the server.
func (s *Server) Plugins() *Registry {
	return s.plugins
}

// Init initializes plugins. It is called by Start and only runs once.
func (s *Server) Init() error {
	s.initOnce.Do(func() {
		s.initErr = s.plugins.Init(s.baseContext)
	})
	return s.initErr
}

// Start serving requests. Blocks until the process receives SIGINT or SIGTERM
// or Shutdown is called.
func (s *Server) Start() error {
	if err := s.Init(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	srv := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return s.baseContext
		},
	}
	quit := make(chan struct{})
	s.mu.Lock()
	s.httpServer = srv
	s.quit = quit
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(stop)
		select {
		case sig := <-stop:
			logging.Infow(s.baseContext, "server: graceful shutdown triggered", "signal", sig.String())
			if err := s.Shutdown(); err != nil {
				logging.Errorw(s.baseContext, "server: shutdown error", "error", err)
			}
		case <-s.baseContext.Done():
			_ = s.Shutdown()
		case <-quit:
		}
	}()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer ln.Close()

	if s.certFile != "" {
		srv.Handler = s.handler
		srv.TLSConfig = safeTLSConfig()
		logging.Infow(s.baseContext, "server: listening", "address", "https://"+addr)
		err = srv.ServeTLS(ln, s.certFile, s.keyFile)
	} else {
		srv.Handler = h2c.NewHandler(s.handler, &http2.Server{})
		logging.Infow(s.baseContext, "server: listening", "address", "http://"+addr)
		err = srv.Serve(ln)
	}

	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}

// Shutdown gracefully stops the server, then shuts down plugins.
func (s *Server) Shutdown() error {
	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseContext), timeout)
	defer cancel()

	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	if s.quit != nil {
		close(s.quit)
		s.quit = nil
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
		if err == nil {
			logging.Info(ctx, "server: connections drained")
		}
	}
	if perr := s.plugins.Shutdown(ctx); perr != nil && err == nil {
		err = perr
	}
	return err
}

// wrapHandler applies the middleware stack, outermost first: access logging
// and panic recovery, compression, server address, security headers.
func wrapHandler(mux http.Handler, logger logging.Logger, publicAddress string, sh *SecurityHeaders) http.Handler {
	h := securityMiddleware(mux, sh)
	h = serverutil.AddressMiddleware(publicAddress, h)
	h = gziphandler.GzipHandler(h)
	return logging.Middleware(logger, h)
}

// TLS1.2 min and support for HTTP2.
func safeTLSConfig() *tls.Config {
	return &tls.Config{
		NextProtos: []string{"h2", "http/1.1"},
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	}
}
