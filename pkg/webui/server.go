package webui

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Server runs the chat-UI process: the host's HTTP surface plus graceful
// shutdown on interrupt.
type Server struct {
	host    *Host
	httpSrv *http.Server
}

// NewServer binds a host to an address.
func NewServer(host *Host, addr string) *Server {
	return &Server{
		host: host,
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           host.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled or an interrupt arrives, then drains
// connections and tears down every live conversation.
func (s *Server) Run(ctx context.Context) error {
	eg := errgroup.Group{}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		s.host.Close(shutdownCtx)
		log.Info().Msg("chat server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		// Unblocks the signal waiter when the listener fails to start, so a
		// bind error exits the process instead of hanging it.
		defer srvCancel()
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting chat server")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		return nil
	})

	return eg.Wait()
}
