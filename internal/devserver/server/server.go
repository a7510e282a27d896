package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"storefront-live/internal/config"
)

func NewHTTPServer(cfg config.DevServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func Run(cfg config.DevServerConfig, handler http.Handler) error {
	return Serve(context.Background(), cfg, handler)
}

// Serve listens until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, cfg config.DevServerConfig, handler http.Handler) error {
	srv := NewHTTPServer(cfg, handler)
	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
			errCh <- srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
