package medtracker

import (
	"context"
	"net/http"
	"time"

	"github.com/medtracker/medtracker/logging"
)

// ServerOption customizes the server built by New.
type ServerOption func(*builder)

type route struct {
	pattern string
	handler http.Handler
}

// New returns a new server. Defaults are read from Config and can be
// overridden with options.
func New(opts ...ServerOption) *Server {
	b := &builder{
		host:            Config.String("server.host"),
		port:            Config.Int("server.port"),
		publicAddress:   Config.String("server.publicAddress"),
		certFile:        Config.String("server.tls.certFile"),
		keyFile:         Config.String("server.tls.keyFile"),
		shutdownTimeout: Config.Duration("server.shutdownTimeout"),
		serviceName:     Config.String("service.name"),
		serviceVersion:  Config.String("service.version"),
		securityHeaders: &SecurityHeaders{
			XFramesOptions:        XFramesOptions(Config.String("server.security.xFramesOptions")),
			HSTSExpiration:        Config.Duration("server.security.hstsExpiration"),
			HSTSIncludeSubdomains: Config.Bool("server.security.hstsIncludeSubdomains"),
			HSTSPreload:           Config.Bool("server.security.hstsPreload"),
			CORSOrigins:           Config.Strings("server.security.corsOrigins"),
			CORSAllowMethods:      Config.Strings("server.security.corsAllowMethods"),
			CORSAllowHeaders:      Config.Strings("server.security.corsAllowHeaders"),
			CORSExposeHeaders:     Config.Strings("server.security.corsExposeHeaders"),
			CORSAllowCredentials:  Config.Bool("server.security.corsAllowCredentials"),
			CORSMaxAge:            Config.Duration("server.security.corsMaxAge"),
		},
		plugins: &Registry{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b.build()
}

type builder struct {
	baseContext     context.Context
	logger          logging.Logger
	host            string
	port            int
	publicAddress   string
	certFile        string
	keyFile         string
	shutdownTimeout time.Duration
	serviceName     string
	serviceVersion  string
	securityHeaders *SecurityHeaders

	plugins *Registry
	routes  []route
}

func (b *builder) build() *Server {
	if b.baseContext == nil {
		b.baseContext = context.Background()
	}
	if b.logger == nil {
		b.logger = logging.NewLogger(Config.String("logging.format"))
	}
	ctx := logging.With(b.baseContext, b.logger)

	mux := http.NewServeMux()
	mux.Handle("GET /api/health", wrapJSONHandler(healthHandler(b.serviceName, b.serviceVersion, time.Now)))
	for _, r := range b.routes {
		mux.Handle(r.pattern, r.handler)
	}

	return &Server{
		baseContext:     ctx,
		host:            b.host,
		port:            b.port,
		certFile:        b.certFile,
		keyFile:         b.keyFile,
		shutdownTimeout: b.shutdownTimeout,
		plugins:         b.plugins,
		handler:         wrapHandler(mux, b.logger, b.publicAddress, b.securityHeaders),
	}
}

// WithContext sets the base context for the server. This context will be used
// for all requests and can be used to inject values into the context.
func WithContext(ctx context.Context) ServerOption {
	return func(b *builder) {
		b.baseContext = ctx
	}
}

// WithLogger sets the logger used for access logs and handed to handlers via
// the request context.
func WithLogger(l logging.Logger) ServerOption {
	return func(b *builder) {
		b.logger = l
	}
}

// WithHost configures the hostname or IP the server will listen on.
//
// Config key: `server.host`.
func WithHost(host string) ServerOption {
	return func(b *builder) {
		b.host = host
	}
}

// WithPort configures the port the server will listen on.
//
// Config key: `server.port`.
func WithPort(port int) ServerOption {
	return func(b *builder) {
		b.port = port
	}
}

// WithPublicAddress fixes the externally visible address used to build OAuth
// redirect URIs. When empty the address is derived from each request.
//
// Config key: `server.publicAddress`.
func WithPublicAddress(addr string) ServerOption {
	return func(b *builder) {
		b.publicAddress = addr
	}
}

// WithTLS configures the server to serve HTTPS using the provided cert. If not
// called the server will use HTTP/H2C.
//
// Config keys: `server.tls.certFile`, `server.tls.keyFile`.
func WithTLS(certFile, keyFile string) ServerOption {
	return func(b *builder) {
		b.certFile = certFile
		b.keyFile = keyFile
	}
}

// WithShutdownTimeout bounds how long Shutdown waits for connections to drain.
//
// Config key: `server.shutdownTimeout`.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(b *builder) {
		b.shutdownTimeout = d
	}
}

// WithServiceInfo sets the name and version reported by the health endpoint.
//
// Config keys: `service.name`, `service.version`.
func WithServiceInfo(name, version string) ServerOption {
	return func(b *builder) {
		b.serviceName = name
		b.serviceVersion = version
	}
}

// WithSecurityHeaders sets the security headers that should be set on HTTP
// responses.
//
// Config keys:
// - `server.security.xFramesOptions`
// - `server.security.hstsExpiration`
// - `server.security.hstsIncludeSubdomains`
// - `server.security.hstsPreload`
// - `server.security.corsOrigins`
// - `server.security.corsAllowMethods`
// - `server.security.corsAllowHeaders`
// - `server.security.corsExposeHeaders`
// - `server.security.corsAllowCredentials`
// - `server.security.corsMaxAge`.
func WithSecurityHeaders(headers *SecurityHeaders) ServerOption {
	return func(b *builder) {
		b.securityHeaders = headers
	}
}

// WithHTTPHandler adds an HTTP handler. Patterns follow http.ServeMux, e.g.
// "POST /api/auth/refresh".
func WithHTTPHandler(pattern string, h http.Handler) ServerOption {
	return func(b *builder) {
		b.routes = append(b.routes, route{pattern: pattern, handler: h})
	}
}

// WithHTTPHandlerFunc adds an HTTP handler function.
func WithHTTPHandlerFunc(pattern string, h func(http.ResponseWriter, *http.Request)) ServerOption {
	return WithHTTPHandler(pattern, http.HandlerFunc(h))
}

// WithJSONHandler adds a handler whose result is encoded as JSON.
func WithJSONHandler(pattern string, h JSONHandler) ServerOption {
	return WithHTTPHandler(pattern, wrapJSONHandler(h))
}

// WithPlugin registers a plugin with the server's registry. Plugins will be
// initialized at server start. If the Plugin implements `OptionProvider` then
// additional server options can be configured for the server.
func WithPlugin(p Plugin) ServerOption {
	return func(b *builder) {
		if so, ok := p.(OptionProvider); ok {
			for _, opt := range so.ServerOptions() {
				opt(b)
			}
		}
		b.plugins.Register(p)
	}
}
