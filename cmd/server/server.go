package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tariel-x/mlmadmin/internal/config"

	"golang.org/x/crypto/acme/autocert"
)

const shutdownTimeout = 10 * time.Second

// startServer serves router in one of three modes and blocks until ctx is
// canceled or a listener fails.
func startServer(ctx context.Context, router http.Handler, cfg *config.Config, selfSigned bool, logger *slog.Logger) error {
	errorLog := log.New(newTLSErrorWriter(logger), "", 0)

	switch {
	case cfg.HTTPOnly:
		logger.Info("Starting HTTP server", "port", cfg.HTTPPort)
		return serve(ctx, logger, newServer(":"+cfg.HTTPPort, router, errorLog), nil)

	case selfSigned:
		tlsConfig, err := selfSignedTLSConfig(cfg.Domain)
		if err != nil {
			return err
		}
		https := newServer(":"+cfg.HTTPSPort, router, errorLog)
		https.TLSConfig = tlsConfig
		redirect := newServer(":"+cfg.HTTPPort, portRedirect(cfg.HTTPSPort), errorLog)

		logger.Info(fmt.Sprintf("HTTPS server (self-signed) starting on port %s", cfg.HTTPSPort))
		return serve(ctx, logger, https, redirect)

	default:
		return serveAutocert(ctx, router, cfg, errorLog, logger)
	}
}

func serveAutocert(ctx context.Context, router http.Handler, cfg *config.Config, errorLog *log.Logger, logger *slog.Logger) error {
	certsDir := getCertsDirectory()
	if err := os.MkdirAll(certsDir, 0700); err != nil {
		return fmt.Errorf("create certs directory: %w", err)
	}

	domain := normalizeDomain(cfg.Domain)
	logger.Info("Configured domain", "domain", cfg.Domain, "normalized", domain)
	if domain == "localhost" || domain == "127.0.0.1" {
		logger.Warn("Let's Encrypt will not work for localhost. Use -self-signed for local development.")
	}

	m := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		HostPolicy: func(ctx context.Context, host string) error {
			if normalizeDomain(host) != domain {
				return fmt.Errorf("host %q not configured (expected %q)", host, domain)
			}
			return nil
		},
		Cache: autocert.DirCache(certsDir),
	}

	// ACME challenges go to autocert, everything else is redirected.
	httpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/.well-known/acme-challenge/") {
			m.HTTPHandler(nil).ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
	})

	https := newServer(":"+cfg.HTTPSPort, router, errorLog)
	https.TLSConfig = m.TLSConfig()
	redirect := newServer(":"+cfg.HTTPPort, httpHandler, errorLog)

	go startCertificateRenewal(ctx, m, domain, logger)

	logger.Info(fmt.Sprintf("HTTPS server starting on port %s for domain: %s", cfg.HTTPSPort, domain))
	logger.Info(fmt.Sprintf("Certificates will be stored in: %s", certsDir))
	return serve(ctx, logger, https, redirect)
}

func newServer(addr string, handler http.Handler, errorLog *log.Logger) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     errorLog,
	}
}

// serve runs primary (TLS when it has a TLSConfig) and the optional plain
// companion server, then shuts both down once ctx ends.
func serve(ctx context.Context, logger *slog.Logger, primary, companion *http.Server) error {
	errCh := make(chan error, 2)

	if companion != nil {
		go func() {
			logger.Info("HTTP redirect server starting", "addr", companion.Addr)
			if err := companion.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http redirect server: %w", err)
			}
		}()
	}

	go func() {
		var err error
		if primary.TLSConfig != nil {
			err = primary.ListenAndServeTLS("", "")
		} else {
			err = primary.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server on %s: %w", primary.Addr, err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := primary.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "addr", primary.Addr, "error", err)
	}
	if companion != nil {
		_ = companion.Shutdown(shutdownCtx)
	}
	return runErr
}

func portRedirect(httpsPort string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if idx := strings.Index(host, ":"); idx != -1 {
			host = host[:idx]
		}
		target := "https://" + host + ":" + httpsPort + r.URL.Path
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
}

func getCertsDirectory() string {
	if dir := os.Getenv("CERTS_DIR"); dir != "" {
		return dir
	}
	execPath, err := os.Executable()
	if err != nil {
		return "certs"
	}
	return filepath.Join(filepath.Dir(execPath), "certs")
}

// normalizeDomain lowercases and strips a leading "www.".
func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(domain, "www.")
}

func selfSignedTLSConfig(domain string) (*tls.Config, error) {
	hosts := []string{"localhost"}
	if domain != "" {
		hosts = []string{domain}
	}
	certPEM, keyPEM, err := generateSelfSignedCert(hosts)
	if err != nil {
		return nil, fmt.Errorf("generate self-signed certificate: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("load self-signed certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
