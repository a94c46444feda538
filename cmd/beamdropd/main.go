// Command beamdropd serves a LAN file drop: devices on the same network
// upload files through a web page, watch each other's progress live and
// download everything as one archive.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beamdrop/beamdrop/internal/config"
	"github.com/beamdrop/beamdrop/internal/discover"
	"github.com/beamdrop/beamdrop/internal/logging"
	"github.com/beamdrop/beamdrop/internal/server"
)

func main() {
	cfg := config.ParseServerConfig()
	logger := logging.New("beamdropd", cfg.LogLevel)

	ip, err := discover.LocalIP()
	if err != nil {
		logger.Error("could not find local IP address", "error", err)
		os.Exit(1)
	}
	url, err := discover.ServeURL(ip, cfg.Addr)
	if err != nil {
		logger.Error("could not build serve URL", "error", err)
		os.Exit(1)
	}
	qrPNG, err := discover.QRPNG(url)
	if err != nil {
		logger.Error("could not generate QR code", "error", err)
		os.Exit(1)
	}

	srv := server.New(cfg, logger, qrPNG)
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Router(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	if cfg.HTTP3 {
		go func() {
			if err := server.ServeHTTP3(ctx, cfg.Addr, srv.Router(), logger); err != nil {
				logger.Error("http3 listener failed", "error", err)
			}
		}()
	}

	logger.Info("serving", "url", url, "addr", cfg.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
