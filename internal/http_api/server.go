package http_api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/keypay/keypay/internal/models"
	"github.com/keypay/keypay/pkg/logger"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 10 * time.Second
)

// Authenticator resolves a bearer token to the calling principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Principal, error)
}

// Accounts signs callers in. It is optional: without it the auth routes answer 501.
type Accounts interface {
	Login(ctx context.Context, email, password string) (string, *models.Principal, error)
	Register(ctx context.Context, email, password, passwordConfirm string) (string, *models.Principal, error)
}

type Options struct {
	Port           int
	AllowedOrigins []string
	QRServiceURL   string
	// VerifyPath is the unversioned alias of the verify-order route.
	VerifyPath string
}

// HTTPServer is the HTTP server struct that will serve the API
type HTTPServer struct {
	// logger is the logger instance
	logger *logger.Logger

	// router is the HTTP router
	router *gin.Engine
	// handler is the router wrapped with CORS
	handler http.Handler
	opts    Options

	// server is the underlying HTTP server
	server *http.Server

	keypay   models.KeypayI
	auth     Authenticator
	accounts Accounts
}

var _ models.APIServer = (*HTTPServer)(nil)

// NewHTTPServer creates a new HTTP server instance
func NewHTTPServer(keypay models.KeypayI, auth Authenticator, accounts Accounts, opts Options, logger *logger.Logger) *HTTPServer {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.QRServiceURL == "" {
		opts.QRServiceURL = DefaultQRServiceURL
	}

	router := gin.Default()

	server := &HTTPServer{
		router:   router,
		opts:     opts,
		keypay:   keypay,
		auth:     auth,
		accounts: accounts,
		logger:   logger,
	}

	// Define routes
	server.routes()

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
	})
	server.handler = c.Handler(router)

	return server
}

// Handler returns the CORS-wrapped router.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *HTTPServer) Start() {
	addr := fmt.Sprintf("0.0.0.0:%v", s.opts.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infow("Starting HTTP server", "address", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Fatal("Failed to start the HTTP server: ", err)
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	s.logger.Info("HTTP server shut down successfully")
	return nil
}
