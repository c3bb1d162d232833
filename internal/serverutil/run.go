package serverutil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// TLSConfig names the certificate and key files for a TLS listener.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

func (c TLSConfig) enabled() bool { return c.CertFile != "" || c.KeyFile != "" }

// Config describes how Run should drive the HTTP server.
type Config struct {
	Server          *http.Server
	TLS             TLSConfig
	ShutdownTimeout time.Duration
	Ready           chan<- struct{}
}

// DefaultShutdownTimeout applies when Config.ShutdownTimeout is unset.
const DefaultShutdownTimeout = 10 * time.Second

// Run starts the configured HTTP server and blocks until it stops. With
// certificate and key paths set the listener speaks TLS. Cancelling the
// context triggers a graceful shutdown bounded by ShutdownTimeout.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Server == nil {
		return fmt.Errorf("server is required")
	}
	if cfg.TLS.enabled() && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "") {
		return fmt.Errorf("both TLS cert file and key file must be provided")
	}

	ln, err := listen(cfg.Server, cfg.TLS)
	if err != nil {
		return err
	}
	if cfg.Ready != nil {
		close(cfg.Ready)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- cfg.Server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return drain(cfg, serveErr)
	}
}

// listen opens the TCP listener and, when TLS is configured, wraps it so the
// loaded certificate takes precedence over any already on the server config.
func listen(srv *http.Server, tc TLSConfig) (net.Listener, error) {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, err
	}
	if !tc.enabled() {
		return ln, nil
	}

	cert, err := tls.LoadX509KeyPair(tc.CertFile, tc.KeyFile)
	if err != nil {
		ln.Close()
		return nil, err
	}
	tlsCfg := &tls.Config{}
	if srv.TLSConfig != nil {
		tlsCfg = srv.TLSConfig.Clone()
	}
	tlsCfg.Certificates = append([]tls.Certificate{cert}, tlsCfg.Certificates...)
	srv.TLSConfig = tlsCfg
	return tls.NewListener(ln, tlsCfg), nil
}

// drain performs the bounded shutdown and reconciles its error with the
// outcome of Serve, which is expected to return ErrServerClosed.
func drain(cfg Config, serveErr <-chan error) error {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := cfg.Server.Shutdown(shutdownCtx)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-shutdownCtx.Done():
		if shutdownErr != nil {
			return shutdownErr
		}
		return shutdownCtx.Err()
	}
	return shutdownErr
}
