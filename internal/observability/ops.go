package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// NewOpsRouter builds the optional admin surface: health plus the full
// Prometheus registry over HTTP. The REP metrics socket remains the
// primary scrape path for the proxy.
func NewOpsRouter(service string, startedAt time.Time) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(startedAt).String(),
			"service": service,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})))
	return r
}

// ServeOps runs the admin endpoint until ctx is canceled. A bind failure
// is returned so callers can decide whether it is fatal.
func ServeOps(ctx context.Context, addr, service string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: NewOpsRouter(service, time.Now()),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		log.Error().Err(err).Str("addr", addr).Msg("admin endpoint failed")
		return err
	}
}
