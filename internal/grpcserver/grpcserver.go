// Package grpcserver exposes the tracking and registry operations over
// gRPC. Messages are the same JSON wire structs the REST API uses; there
// is no generated stub layer, the service descriptors are assembled by
// hand.
package grpcserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/ashita-ai/kiroku/internal/registry"
	"github.com/ashita-ai/kiroku/internal/service/tracking"
)

// Server is the Kiroku gRPC server.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	port       int
	logger     *slog.Logger
}

// Config holds dependencies and settings for the gRPC server.
type Config struct {
	Tracking *tracking.Service
	Registry *registry.Service
	Logger   *slog.Logger
	Port     int
}

// New assembles the gRPC server with both services and the standard
// health service registered.
func New(cfg Config) *Server {
	s := &Server{
		port:   cfg.Port,
		logger: cfg.Logger,
	}
	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
		s.recoveryInterceptor,
		s.loggingInterceptor,
	))

	s.grpcServer.RegisterService(trackingServiceDesc(cfg.Tracking), cfg.Tracking)
	s.grpcServer.RegisterService(registryServiceDesc(cfg.Registry), cfg.Registry)

	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return s
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("grpcserver: listen: %w", err)
	}
	s.logger.Info("grpc server starting", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// Serve serves on a caller-provided listener, for tests.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop drains in-flight RPCs and stops the server.
func (s *Server) Stop() {
	s.logger.Info("grpc server shutting down")
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.grpcServer.GracefulStop()
}

func (s *Server) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	attrs := []any{
		"method", info.FullMethod,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	level := slog.LevelInfo
	if err != nil {
		attrs = append(attrs, "code", status.Code(err).String(), "error", err)
		level = slog.LevelWarn
		if status.Code(err) == codes.Internal {
			level = slog.LevelError
		}
	}
	s.logger.Log(ctx, level, "grpc request", attrs...)
	return resp, err
}

func (s *Server) recoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("grpc handler panic",
				"panic", rec,
				"method", info.FullMethod,
				"stack", string(debug.Stack()),
			)
			err = status.Error(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}

// unary builds a MethodDesc for one request/response pair. The decode
// callback uses whichever codec the client negotiated.
func unary[Req any, Resp any](serviceName, methodName string, fn func(ctx context.Context, req *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + methodName
	return grpc.MethodDesc{
		MethodName: methodName,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			invoke := func(ctx context.Context, req any) (any, error) {
				resp, err := fn(ctx, req.(*Req))
				if err != nil {
					return nil, toStatus(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return invoke(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, invoke)
		},
	}
}
