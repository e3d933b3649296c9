package tuned

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/GoSim-25-26J-441/tuning-core/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// ServerOptions selects the listen addresses; an empty address disables
// that listener.
type ServerOptions struct {
	HTTPAddr string
	GRPCAddr string
	Logger   *slog.Logger
}

// Server serves the status endpoints of one run
type Server struct {
	httpSrv *http.Server
	httpLis net.Listener
	grpcSrv *grpc.Server
	health  *health.Server
	grpcLis net.Listener
	logger  *slog.Logger
}

// Listen binds the configured listeners. Nothing is served until Serve.
func Listen(progress *ProgressStore, opts ServerOptions) (*Server, error) {
	s := &Server{logger: logger.OrDefault(opts.Logger)}

	if opts.HTTPAddr != "" {
		lis, err := net.Listen("tcp", opts.HTTPAddr)
		if err != nil {
			return nil, fmt.Errorf("listen http %s: %w", opts.HTTPAddr, err)
		}
		s.httpLis = lis
		s.httpSrv = &http.Server{
			Handler:           NewHTTPServer(progress).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}
	}

	if opts.GRPCAddr != "" {
		lis, err := net.Listen("tcp", opts.GRPCAddr)
		if err != nil {
			if s.httpLis != nil {
				s.httpLis.Close()
			}
			return nil, fmt.Errorf("listen grpc %s: %w", opts.GRPCAddr, err)
		}
		s.grpcLis = lis
		s.grpcSrv, s.health = NewGRPCServer(progress)
	}
	return s, nil
}

// HTTPAddr returns the bound HTTP address, or "" when disabled
func (s *Server) HTTPAddr() string {
	if s.httpLis == nil {
		return ""
	}
	return s.httpLis.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when disabled
func (s *Server) GRPCAddr() string {
	if s.grpcLis == nil {
		return ""
	}
	return s.grpcLis.Addr().String()
}

// Serve runs the listeners until ctx is done, then shuts them down
// gracefully. A listener failure cancels the others and is returned.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.httpSrv != nil {
		g.Go(func() error {
			s.logger.Info("HTTP status server listening", "addr", s.HTTPAddr())
			if err := s.httpSrv.Serve(s.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	if s.grpcSrv != nil {
		g.Go(func() error {
			s.logger.Info("gRPC health server listening", "addr", s.GRPCAddr())
			if err := s.grpcSrv.Serve(s.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})
	return g.Wait()
}

func (s *Server) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.grpcSrv != nil {
		s.health.Shutdown()
		s.grpcSrv.GracefulStop()
	}
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP shutdown error", "error", err)
		}
	}
}
