package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/compozy/animagen/engine/infra/monitoring"
	"github.com/compozy/animagen/pkg/logger"
	"github.com/gin-gonic/gin"
)

const (
	httpReadTimeout  = 15 * time.Second
	httpWriteTimeout = 15 * time.Second
	httpIdleTimeout  = 60 * time.Second
	healthTimeout    = 2 * time.Second
)

func metricsStatus(svc *monitoring.Service) string {
	switch {
	case svc.IsInitialized():
		return "enabled"
	case svc.InitializationError() != nil:
		return "unavailable: " + svc.InitializationError().Error()
	default:
		return "disabled"
	}
}

// newMetricsRouter serves the exporter and a /healthz endpoint running every
// check. A failing check turns the response into a 503.
func newMetricsRouter(svc *monitoring.Service, checks map[string]healthCheck) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		code, status := http.StatusOK, "ok"
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				code, status = http.StatusServiceUnavailable, "degraded"
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		c.JSON(code, gin.H{"status": status, "metrics": metricsStatus(svc), "checks": results})
	})
	r.GET(svc.Path(), gin.WrapH(svc.ExporterHandler()))
	return r
}

// startMetricsServer serves the exporter on addr until the returned function
// is called.
func startMetricsServer(
	ctx context.Context,
	addr string,
	svc *monitoring.Service,
	checks map[string]healthCheck,
) (func(context.Context) error, error) {
	log := logger.FromContext(ctx)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:      newMetricsRouter(svc, checks),
		ReadTimeout:  httpReadTimeout,
		WriteTimeout: httpWriteTimeout,
		IdleTimeout:  httpIdleTimeout,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server stopped", "error", err)
		}
	}()
	log.Info("Metrics server listening", "addr", ln.Addr().String(), "path", svc.Path())
	return srv.Shutdown, nil
}
