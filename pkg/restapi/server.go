// Package restapi is the Control REST API: the operator-facing HTTPS
// surface over the Configuration Store and Cluster State Store. Built
// on github.com/labstack/echo/v4, the pack's one echo-based REST
// service (evalgo-org-graphium/internal/api), whose APIError/
// HTTPErrorHandler and middleware chain this package adapts rather than
// reinvents.
package restapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/flocker-cluster/flocker/pkg/clusterstate"
	"github.com/flocker-cluster/flocker/pkg/configstore"
	"github.com/flocker-cluster/flocker/pkg/logging"
	"github.com/flocker-cluster/flocker/pkg/metrics"
)

// DefaultRateLimit bounds requests per second per client, mirroring
// graphium's rate.Limit-based middleware.RateLimiter wiring.
const DefaultRateLimit = 50

// Server is the Control REST API's HTTP surface.
type Server struct {
	echo *echo.Echo

	configStore  *configstore.Store
	clusterState *clusterstate.Store

	// mutationMu serializes configuration mutations so a read-transform-
	// save cycle never races with a concurrent one.
	mutationMu sync.Mutex
}

// New builds a Server. rateLimit <= 0 disables rate limiting (useful in
// tests).
func New(configStore *configstore.Store, clusterState *clusterstate.Store, rateLimit rate.Limit) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Validator = newRequestValidator()

	s := &Server{
		echo:         e,
		configStore:  configStore,
		clusterState: clusterState,
	}

	s.setupMiddleware(rateLimit)
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware(rateLimit rate.Limit) {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(requestMetrics)

	if rateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rateLimit)))
	}
}

// requestMetrics records flocker_api_requests_total/duration per method,
// the REST-layer counterpart to the convergence loop's own metrics.
func requestMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		metrics.APIRequestDuration.WithLabelValues(c.Request().Method).Observe(time.Since(start).Seconds())
		status := c.Response().Status
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				status = apiErr.Code
			} else if status == 0 {
				status = http.StatusInternalServerError
			}
		}
		metrics.APIRequestsTotal.WithLabelValues(c.Request().Method, fmt.Sprintf("%d", status)).Inc()
		return err
	}
}

func (s *Server) setupRoutes() {
	v1 := s.echo.Group("/v1")

	state := v1.Group("/state")
	state.GET("/datasets", s.listObservedDatasets)
	state.GET("/containers", s.listObservedContainers)
	state.GET("/nodes", s.listNodes)

	config := v1.Group("/configuration")
	config.POST("/datasets", s.createDataset)
	config.POST("/datasets/:id", s.updateDataset)
	config.DELETE("/datasets/:id", s.deleteDataset)
	config.POST("/containers", s.createContainer)
	config.POST("/containers/:name", s.moveContainer)
	config.DELETE("/containers/:name", s.deleteContainer)
}

// Serve runs the HTTPS listener until ctx is canceled. tlsConfig is
// built by pkg/security.CertAuthority.ServerTLSConfig, the same shared
// mutual-TLS configuration used identically by pkg/wire's agent-control
// listener.
func (s *Server) Serve(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	httpServer := &http.Server{
		Addr:      addr,
		Handler:   s.echo,
		TLSConfig: tlsConfig,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServeTLS("", "")
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.WithComponent("restapi").Warn().Err(err).Msg("graceful shutdown failed")
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Handler exposes the underlying echo.Echo for tests that want to drive
// requests directly without a real TLS listener.
func (s *Server) Handler() http.Handler { return s.echo }
