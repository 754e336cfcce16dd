package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"jctledger/core/events"
	"jctledger/ledger"
	"jctledger/native/schedule"
	"jctledger/observability"
	"jctledger/rpc/middleware"
)

const (
	jsonRPCVersion         = "2.0"
	defaultMaxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codeConflict       = -32009
	codeRejected       = -32030
)

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	MaxBodyBytes int64
	Auth         middleware.AuthConfig
	RateLimit    middleware.RateLimit
	// WriteScope, when set, is required on tokens calling write methods.
	WriteScope string
	Logger     *slog.Logger
}

type Server struct {
	ledger    *ledger.Ledger
	hub       *events.Hub
	auth      *middleware.Authenticator
	limiter   *middleware.RateLimiter
	logger    *slog.Logger
	maxBody   int64
	scope     string
	methods   map[string]method
	httpSrv   *http.Server
	startedAt time.Time
}

type handlerFunc func(ctx context.Context, params []json.RawMessage) (interface{}, *RPCError)

type method struct {
	write   bool
	handler handlerFunc
}

// NewServer wires the schedule methods onto l. hub may be nil, in which case
// /ws/events is not mounted.
func NewServer(l *ledger.Ledger, hub *events.Hub, cfg ServerConfig) (*Server, error) {
	if l == nil {
		return nil, errors.New("rpc: ledger required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return nil, errors.New("rpc: auth enabled without an HMAC secret")
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxRequestBytes
	}
	s := &Server{
		ledger:    l,
		hub:       hub,
		auth:      middleware.NewAuthenticator(cfg.Auth, logger),
		limiter:   middleware.NewRateLimiter(cfg.RateLimit),
		logger:    logger.With(slog.String("component", "rpc")),
		maxBody:   maxBody,
		scope:     strings.TrimSpace(cfg.WriteScope),
		startedAt: time.Now(),
	}
	s.methods = map[string]method{
		"schedule_issue":         {write: true, handler: s.handleScheduleIssue},
		"schedule_propose":       {write: true, handler: s.handleSchedulePropose},
		"schedule_dryRun":        {handler: s.handleScheduleDryRun},
		"schedule_get":           {handler: s.handleScheduleGet},
		"schedule_history":       {handler: s.handleScheduleHistory},
		"schedule_list":          {handler: s.handleScheduleList},
		"schedule_validate":      {handler: s.handleScheduleValidate},
		"schedule_signingDigest": {handler: s.handleScheduleSigningDigest},
		"schedule_export":        {handler: s.handleScheduleExport},
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(s.logger))
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.With(s.limiter.Middleware()).Post("/rpc", s.handle)
	r.With(s.limiter.Middleware()).Post("/", s.handle)
	if s.hub != nil {
		r.With(s.auth.Middleware()).Get("/ws/events", s.handleEventsWS)
	}
	return otelhttp.NewHandler(r, "jct.rpc")
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("serving JSON-RPC", slog.String("addr", listener.Addr().String()))
	err := s.httpSrv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	HTTPStatus int         `json:"-"`
	Code       int         `json:"code"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidParams(message string, data interface{}) *RPCError {
	return &RPCError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: message, Data: data}
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCError(w http.ResponseWriter, id interface{}, err *RPCError) {
	status := err.HTTPStatus
	if status <= 0 {
		status = http.StatusBadRequest
	}
	code := err.Code
	if code == 0 {
		code = codeServerError
	}
	writeError(w, status, id, code, err.Message, err.Data)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.maxBody)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.maxBody)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}

	ctx := r.Context()
	if m.write {
		var scopes []string
		if s.scope != "" {
			scopes = []string{s.scope}
		}
		authCtx, err := s.auth.Authenticate(r, scopes...)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, middleware.ErrScope) {
				status = http.StatusForbidden
			}
			observability.ModuleMetrics().RecordThrottle("auth")
			writeError(w, status, req.ID, codeUnauthorized, err.Error(), nil)
			return
		}
		ctx = authCtx
	}

	start := time.Now()
	result, rpcErr := m.handler(ctx, req.Params)
	status := http.StatusOK
	if rpcErr != nil {
		status = rpcErr.HTTPStatus
		if status <= 0 {
			status = http.StatusBadRequest
		}
	}
	observability.ModuleMetrics().Observe(req.Method, status, time.Since(start))
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr)
		return
	}
	writeResult(w, req.ID, result)
}

// ledgerError maps ledger and validation failures onto JSON-RPC errors.
func ledgerError(err error) *RPCError {
	var rejection *schedule.Rejection
	var invalid *schedule.ValidationError
	switch {
	case errors.As(err, &rejection):
		return &RPCError{
			HTTPStatus: http.StatusUnprocessableEntity,
			Code:       codeRejected,
			Message:    "transition rejected",
			Data:       DecisionResult{Accepted: false, Reason: string(rejection.Reason), Message: rejection.Message},
		}
	case errors.As(err, &invalid):
		return invalidParams("invalid schedule state", map[string]string{"reason": string(invalid.Reason), "message": invalid.Message})
	case errors.Is(err, ledger.ErrNotFound):
		return &RPCError{HTTPStatus: http.StatusNotFound, Code: codeNotFound, Message: "schedule not found"}
	case errors.Is(err, ledger.ErrStaleHead), errors.Is(err, ledger.ErrConflict), errors.Is(err, ledger.ErrAlreadyIssued):
		return &RPCError{HTTPStatus: http.StatusConflict, Code: codeConflict, Message: err.Error()}
	case errors.Is(err, ledger.ErrInvalidSignature):
		return invalidParams("invalid signature", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &RPCError{HTTPStatus: http.StatusServiceUnavailable, Code: codeServerError, Message: "request cancelled"}
	default:
		return &RPCError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "internal error", Data: err.Error()}
	}
}

type healthResult struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResult{Status: "ok", Uptime: time.Since(s.startedAt).Truncate(time.Second).String()})
}
