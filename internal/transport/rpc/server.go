// Package rpc is the remote method table behind every transport.
//
// Calls from the same connection run one at a time, in arrival order, unless
// a handler releases its connection early with Invocation.Unblock.
package rpc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/domain/body"
	logpkg "github.com/kailas-cloud/nova/internal/logger"
	"github.com/kailas-cloud/nova/internal/ratelimit"
)

// Handler serves one method. The invocation is available from ctx.
type Handler func(ctx context.Context, params body.Params) (any, error)

// Invocation describes the call being served.
type Invocation struct {
	Method string
	ConnID string
	UserID string

	release func()
}

// Unblock lets the next call of the same connection start before this one
// returns. Calling it more than once is harmless.
func (i *Invocation) Unblock() {
	if i.release != nil {
		i.release()
	}
}

type invocationKey struct{}

// ContextWithInvocation attaches inv to ctx.
func ContextWithInvocation(ctx context.Context, inv *Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFromContext returns the invocation served under ctx, if any.
func InvocationFromContext(ctx context.Context) (*Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(*Invocation)
	return inv, ok && inv != nil
}

// Call is one inbound request.
type Call struct {
	Method string
	ConnID string
	UserID string
	Params body.Params
}

type connection struct {
	slot chan struct{}
	refs int
}

// Server dispatches calls to registered handlers.
type Server struct {
	limiter *ratelimit.Limiter
	logger  *zap.Logger

	mu      sync.RWMutex
	methods map[string]Handler

	connMu sync.Mutex
	conns  map[string]*connection
}

// NewServer creates an empty method table. limiter and logger may be nil.
func NewServer(limiter *ratelimit.Limiter, logger *zap.Logger) *Server {
	if limiter == nil {
		limiter = ratelimit.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		limiter: limiter,
		logger:  logger,
		methods: make(map[string]Handler),
		conns:   make(map[string]*connection),
	}
}

// Register adds a method. Names are unique.
func (s *Server) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return fmt.Errorf("register method %q: name and handler are required", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.methods[name]; exists {
		return fmt.Errorf("method %s: %w", name, domain.ErrAlreadyRegistered)
	}
	s.methods[name] = h
	s.logger.Debug("Method registered", zap.String("method", name))
	return nil
}

// AddRateLimit applies rule to the given methods.
func (s *Server) AddRateLimit(rule ratelimit.Rule, methods ...string) error {
	_, err := s.limiter.AddRule(rule, methods...)
	return err
}

// Methods returns the registered method names in sorted order.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is a registered method.
func (s *Server) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.methods[name]
	return ok
}

// Call runs c.Method. Rate limits are checked before the connection slot
// is taken.
func (s *Server) Call(ctx context.Context, c Call) (any, error) {
	s.mu.RLock()
	h, ok := s.methods[c.Method]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMethodNotFound, c.Method)
	}

	if err := s.limiter.Allow(ctx, c.Method, c.ConnID); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, c.ConnID)
	if err != nil {
		return nil, err
	}
	defer release()

	inv := &Invocation{Method: c.Method, ConnID: c.ConnID, UserID: c.UserID, release: release}
	ctx = logpkg.WithFields(ctx, zap.String("rpc_method", c.Method))
	return h(ContextWithInvocation(ctx, inv), c.Params)
}

// Disconnect forgets per-connection state.
func (s *Server) Disconnect(connID string) {
	s.limiter.Forget(connID)
}

// acquire takes the connection slot. Calls without a connection id are never
// serialized.
func (s *Server) acquire(ctx context.Context, connID string) (func(), error) {
	if connID == "" {
		return func() {}, nil
	}

	s.connMu.Lock()
	conn, ok := s.conns[connID]
	if !ok {
		conn = &connection{slot: make(chan struct{}, 1)}
		s.conns[connID] = conn
	}
	conn.refs++
	s.connMu.Unlock()

	select {
	case conn.slot <- struct{}{}:
	case <-ctx.Done():
		s.drop(connID, conn)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-conn.slot
			s.drop(connID, conn)
		})
	}, nil
}

func (s *Server) drop(connID string, conn *connection) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	conn.refs--
	if conn.refs == 0 {
		delete(s.conns, connID)
	}
}
