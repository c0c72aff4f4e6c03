// Package server provides HTTP bootstrap shared by every tunehub
// surface: security headers, health/version/robots endpoints, pprof
// registration, and graceful shutdown. It mirrors web.go, favicons.go,
// and profile.go.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/tunehub/tunehub/internal/config"
)

const (
	readTimeout  = 10 * time.Second
	shutdownWait = 5 * time.Second
)

// SecurityHeaders sets the same baseline headers web.go sets on every
// response, adding HSTS only once TLS is configured.
func SecurityHeaders(cfg *config.Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.Scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

// RealIP extracts the caller's address, preferring a trusted proxy
// header over the raw socket address, mirroring web.go's realIP.
func RealIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

type healthStatus struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
}

// RoomCounter reports how many rooms are currently resident in memory,
// implemented by *room.Registry.
type RoomCounter interface {
	Len() int
}

func serveHealthCheck(cfg *config.Config, rooms RoomCounter) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		SecurityHeaders(cfg, w)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		count := 0
		if rooms != nil {
			count = rooms.Len()
		}
		_ = json.NewEncoder(w).Encode(healthStatus{Status: "ok", Rooms: count})
	}
}

func serveVersion(cfg *config.Config, version string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		SecurityHeaders(cfg, w)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("tunehub v" + version + "\n"))
	}
}

func serveRobots(cfg *config.Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		SecurityHeaders(cfg, w)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
	}
}

func registerProfileHandlers(cfg *config.Config, mux *httprouter.Router) {
	mux.Handler("GET", cfg.Prefix+"/pprof/allocs", pprof.Handler("allocs"))
	mux.Handler("GET", cfg.Prefix+"/pprof/block", pprof.Handler("block"))
	mux.Handler("GET", cfg.Prefix+"/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handler("GET", cfg.Prefix+"/pprof/heap", pprof.Handler("heap"))
	mux.Handler("GET", cfg.Prefix+"/pprof/mutex", pprof.Handler("mutex"))
	mux.Handler("GET", cfg.Prefix+"/pprof/threadcreate", pprof.Handler("threadcreate"))
	mux.HandlerFunc("GET", cfg.Prefix+"/pprof/cmdline", pprof.Cmdline)
	mux.HandlerFunc("GET", cfg.Prefix+"/pprof/profile", pprof.Profile)
	mux.HandlerFunc("GET", cfg.Prefix+"/pprof/symbol", pprof.Symbol)
	mux.HandlerFunc("GET", cfg.Prefix+"/pprof/trace", pprof.Trace)
}

// Serve builds the http.Server, wires ambient routes plus whatever
// register adds, and blocks until ctx is cancelled, then drains with a
// bounded shutdown deadline. Grounded directly on web.go's ServePage.
func Serve(ctx context.Context, cfg *config.Config, version string, rooms RoomCounter, register func(*httprouter.Router)) error {
	cfg.Prefix = strings.TrimSuffix(cfg.Prefix, "/")

	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		SecurityHeaders(cfg, w)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("An error has occurred. Please try again.\n"))
	}

	mux.GET(cfg.Prefix+"/healthz", serveHealthCheck(cfg, rooms))
	mux.GET(cfg.Prefix+"/version", serveVersion(cfg, version))
	mux.GET(cfg.Prefix+"/robots.txt", serveRobots(cfg))

	if cfg.Profile {
		registerProfileHandlers(cfg, mux)
	}

	register(mux)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      0, // websocket connections are long-lived
	}

	errs := make(chan error, 1)

	go func() {
		var err error
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			cfg.Logf("SERVE: listening on %s://%s%s/", cfg.Scheme(), srv.Addr, cfg.Prefix)
			err = srv.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			cfg.Logf("SERVE: listening on %s://%s%s/", cfg.Scheme(), srv.Addr, cfg.Prefix)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("server error: %w", err)
			return
		}
		errs <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errs:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
