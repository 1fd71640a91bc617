// Package server exposes the decision authority over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/popwatch/internal/audit"
	"github.com/ppiankov/popwatch/internal/authority"
	"github.com/ppiankov/popwatch/internal/protocol"
)

// DefaultPort is the port serve listens on when none is given.
const DefaultPort = 50071

// Config holds gRPC server configuration.
type Config struct {
	Port         int
	ConfigPath   string
	StoreDir     string
	AuditLogPath string
}

// Server implements the Authority gRPC service.
type Server struct {
	svc      *authority.Service
	auditLog *audit.Log
	cfg      Config
	log      *slog.Logger

	grpcServer *grpc.Server
}

// New creates a server with loaded authority config, popup store and audit log.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	authCfg, hash, err := authority.LoadConfig(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load authority config: %w", err)
	}

	dir := cfg.StoreDir
	if dir == "" {
		dir = authority.DefaultDir()
	}
	store, err := authority.NewStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create popup store: %w", err)
	}
	if err := store.Cleanup(); err != nil {
		logger.Warn("popup store cleanup", "error", err)
	}

	var auditLog *audit.Log
	if cfg.AuditLogPath != "" {
		auditLog, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	s := &Server{
		svc:        authority.NewService(store, auditLog, authCfg, hash, logger),
		auditLog:   auditLog,
		cfg:        cfg,
		log:        logger,
		grpcServer: grpc.NewServer(),
	}
	protocol.RegisterAuthorityServer(s.grpcServer, s)
	return s, nil
}

// Service returns the authority behind the server.
func (s *Server) Service() *authority.Service { return s.svc }

// Serve starts the gRPC server on the configured port. Blocks until stopped.
func (s *Server) Serve() error {
	port := s.cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return s.grpcServer.Serve(lis)
}

// ServeOn starts the gRPC server on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Close cleans up resources.
func (s *Server) Close() error {
	return s.auditLog.Close()
}

// ReloadConfig re-reads the authority config and swaps it in.
// Called by the hot-reloader on file change.
func (s *Server) ReloadConfig() error {
	cfg, hash, err := authority.LoadConfig(s.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to reload authority config: %w", err)
	}
	s.svc.ReloadConfig(cfg, hash)
	return nil
}

// Exception implements the Exception RPC.
func (s *Server) Exception(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := protocol.ExceptionRequestFrom(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	reply, err := s.svc.Exception(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply.ToStruct()
}

// PopupRequest implements the PopupRequest RPC.
func (s *Server) PopupRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := protocol.PopupRequestFrom(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.svc.PopupRequest(ctx, req); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

// Accept implements the Accept RPC.
func (s *Server) Accept(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req protocol.IDRequest
	if err := protocol.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.svc.Accept(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return protocol.Encode(res)
}

// Deny implements the Deny RPC.
func (s *Server) Deny(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req protocol.IDRequest
	if err := protocol.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.svc.Deny(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return protocol.Encode(res)
}

// UseShadow implements the UseShadow RPC.
func (s *Server) UseShadow(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req protocol.PageRequest
	if err := protocol.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.svc.UseShadow(ctx, req.Page); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

// Ack implements the Ack RPC.
func (s *Server) Ack(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req protocol.AckRequest
	if err := protocol.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.svc.Ack(ctx, req.Page, req.Cmd); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{}, nil
}

// pendingList is the ListPending reply body.
type pendingList struct {
	Popups []authority.Popup `json:"popups"`
}

// ListPending implements the ListPending RPC.
func (s *Server) ListPending(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	list, err := s.svc.Pending()
	if err != nil {
		return nil, toStatus(err)
	}
	return protocol.Encode(pendingList{Popups: list})
}

// Subscribe implements the Subscribe RPC. The response header is sent once
// the subscription is registered so clients know when messages can arrive.
func (s *Server) Subscribe(in *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var req protocol.PageRequest
	if err := protocol.Decode(in, &req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	ch, cancel, err := s.svc.Subscribe(req.Page)
	if err != nil {
		return toStatus(err)
	}
	defer cancel()

	if err := stream.SendHeader(metadata.Pairs("page", req.Page)); err != nil {
		return err
	}
	s.log.Debug("page subscribed", "page", req.Page)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("page unsubscribed", "page", req.Page)
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			out, err := msg.ToStruct()
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		}
	}
}

// toStatus maps authority errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, authority.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, authority.ErrResolved), errors.Is(err, authority.ErrUnexpectedAck):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, authority.ErrNoListener):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, authority.ErrInvalidID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, authority.ErrThrottled):
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
