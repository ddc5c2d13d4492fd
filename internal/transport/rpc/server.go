package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/JonasDEMA/agentify-os-sub002/internal/domain"
	"github.com/JonasDEMA/agentify-os-sub002/internal/service"
)

// callTimeout bounds one RPC call; net/rpc handlers carry no caller context.
const callTimeout = 2 * time.Minute

// Server exposes relay RPC endpoints for mesh-side devices and other internal clients.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the relay service.
func NewServer(svc *service.Service) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc}
	if err := rpcServer.RegisterName("Relay", handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
	}, nil
}

// Listen binds the server to addr. Serve must be called to accept connections.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown closes the listener.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("rpc server is not listening")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			log.WithError(err).Warn("RPC accept error")
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	if err := s.listener.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements relay RPC methods.
type Handler struct {
	service *service.Service
}

// UpdateStatusArgs identifies an agent and its new status.
type UpdateStatusArgs struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

// UpdateStatus marks an agent online or offline and reports how many queued
// messages were flushed.
func (h *Handler) UpdateStatus(req *UpdateStatusArgs, resp *domain.UpdateStatusResponse) error {
	if req == nil {
		return errors.New("status request is required")
	}
	if strings.TrimSpace(req.AgentID) == "" {
		return errors.New("agent_id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	agent, flushed, err := h.service.UpdateAgentStatus(ctx, req.AgentID, domain.AgentStatus(req.Status))
	if err != nil {
		return err
	}
	if resp != nil {
		resp.AgentID = agent.AgentID
		resp.Status = agent.Status
		resp.PendingFlushed = flushed
	}
	return nil
}

// RouteMessage routes a message to its targets.
func (h *Handler) RouteMessage(req *domain.Message, resp *domain.RouteResponse) error {
	if req == nil {
		return errors.New("message is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	result, err := h.service.RouteMessage(ctx, req)
	if err != nil {
		return err
	}
	if resp != nil && result != nil {
		*resp = *result
	}
	return nil
}

// Register registers or re-registers an agent.
func (h *Handler) Register(req *domain.RegisterAgentRequest, resp *domain.RegisterAgentResponse) error {
	if req == nil {
		return errors.New("registration request is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	agent, flushed, err := h.service.RegisterAgent(ctx, *req)
	if err != nil {
		return err
	}
	if resp != nil {
		resp.Agent = agent
		resp.PendingFlushed = flushed
	}
	return nil
}
