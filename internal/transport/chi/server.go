package chi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/domain/body"
	logpkg "github.com/kailas-cloud/nova/internal/logger"
	"github.com/kailas-cloud/nova/internal/metrics"
	"github.com/kailas-cloud/nova/internal/transport/rpc"
	"github.com/kailas-cloud/nova/internal/validation"
)

// ConnectionHeader lets a client keep its calls serialized across requests.
const ConnectionHeader = "X-Connection-ID"

const maxBodyBytes = 1 << 20

// ErrorCode is the machine-readable code of an error response.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest       ErrorCode = "bad_request"
	CodeUnauthorized     ErrorCode = "unauthorized"
	CodeValidationFailed ErrorCode = "validation_failed"
	CodeForbidden        ErrorCode = "forbidden"
	CodeNotFound         ErrorCode = "not_found"
	CodeRateLimited      ErrorCode = "rate_limited"
	CodeInternalError    ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

// CallResponse wraps a method result.
type CallResponse struct {
	Result any `json:"result"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Pinger is a dependency probed by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server exposes the rpc method table over HTTP.
type Server struct {
	methods       *rpc.Server
	checks        map[string]Pinger
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. checks may be nil.
func NewServer(methods *rpc.Server, checks map[string]Pinger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		methods: methods,
		checks:  checks,
		logger:  logger,
	}
	s.errorHandlers = []errorHandler{
		validationHandler,
		rateLimitHandler,
		sentinelHandler(domain.ErrForbidden, http.StatusForbidden, CodeForbidden),
		sentinelHandler(domain.ErrMethodNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrQueryNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrCollectionNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrInvalidBody, http.StatusBadRequest, CodeBadRequest),
		sentinelHandler(domain.ErrUnsupportedOperator, http.StatusBadRequest, CodeBadRequest),
		sentinelHandler(domain.ErrMissingSearchIndex, http.StatusBadRequest, CodeBadRequest),
	}
	return s
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/methods/{name}", s.CallMethod)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// CallMethod handles POST /methods/{name}. The request body holds the params.
func (s *Server) CallMethod(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var params body.Params
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&params)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	userID := UserIDFromContext(r.Context())
	out, err := s.methods.Call(r.Context(), rpc.Call{
		Method: name,
		ConnID: connectionID(r, userID),
		UserID: userID,
		Params: params,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CallResponse{Result: out})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Checks: make(map[string]string, len(s.checks))}
	httpStatus := http.StatusOK
	for name, c := range s.checks {
		if err := c.Ping(r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, httpStatus, resp)
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// connectionID keys per-connection serialization and rate limits: the
// client-chosen header, else the user, else the remote host.
func connectionID(r *http.Request, userID string) string {
	if id := r.Header.Get(ConnectionHeader); id != "" {
		return id
	}
	if userID != "" {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

// validationHandler reports every failed field.
func validationHandler(w http.ResponseWriter, err error) bool {
	var ve *validation.Error
	if !errors.As(err, &ve) {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
			return true
		}
		return false
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Code:    CodeValidationFailed,
		Message: ve.Message,
		Details: ve.Errors,
	})
	return true
}

// rateLimitHandler returns the message configured on the rule.
func rateLimitHandler(w http.ResponseWriter, err error) bool {
	var rle *domain.RateLimitError
	if !errors.As(err, &rle) {
		return false
	}
	metrics.RateLimitedTotal.WithLabelValues(rle.Method).Inc()
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusTooManyRequests, CodeRateLimited, rle.Message)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
