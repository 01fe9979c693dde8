package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/thebushidocollective/han/internal/lock"
)

// httpShutdowner is the subset of *http.Server waitForShutdown needs,
// narrowed so it's trivially fakeable in tests.
type httpShutdowner interface {
	Shutdown(ctx context.Context) error
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func isServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}

// asAlreadyLocked reports whether err wraps a *lock.AlreadyLockedError,
// populating target on success.
func asAlreadyLocked(err error, target **lock.AlreadyLockedError) bool {
	return errors.As(err, target)
}
