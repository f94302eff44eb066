// Package dashboard serves read-only relay statistics over HTTP.
package dashboard

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/mailslot/internal/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

// shutdownTimeout bounds graceful shutdown after ctx is cancelled.
const shutdownTimeout = 5 * time.Second

// StatsSource is the read side of the counter store.
type StatsSource interface {
	Stats(ctx context.Context) (store.Stats, error)
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Stats  StatsSource
	Port   int
	Out    io.Writer
	Logger *zerolog.Logger
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Stats == nil {
		return fmt.Errorf("dashboard: stats source is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	log := logger.With().Str("component", "dashboard").Logger()

	gin.SetMode(gin.ReleaseMode)
	router, err := newRouter(opts.Stats, log)
	if err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// newRouter builds the gin engine with templates and routes registered.
func newRouter(stats StatsSource, log zerolog.Logger) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery())

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	router.SetHTMLTemplate(tmpl)

	registerRoutes(router, stats, log)
	return router, nil
}

// parseTemplates loads the embedded HTML templates.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}
