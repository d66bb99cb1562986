package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"otcswap/archive"
	"otcswap/native/bank"
	"otcswap/native/common"
	"otcswap/native/otc"
	"otcswap/native/registry"
	"otcswap/observability"
	"otcswap/state"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Server exposes the swap engine and token registry over JSON-RPC.
type Server struct {
	engine   *otc.Engine
	registry *registry.Registry
	ledger   *bank.Ledger
	flags    *common.Flags
	manager  *state.Manager
	archive  *archive.Store
	logger   *slog.Logger

	authToken  string
	tradeToken string
	rateLimit  rate.Limit
	rateBurst  int

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

// NewServer wires the RPC surface. The administrative bearer token is read
// from the OTC_RPC_TOKEN environment variable; administrative methods refuse
// to run without it. Trading methods accept the separate OTC_RPC_TRADE_TOKEN
// when one is configured, so operator credentials stay scoped to the admin
// surface. When no trade token is set, trading falls back to the admin token
// (single-operator deployment).
func NewServer(engine *otc.Engine, reg *registry.Registry, ledger *bank.Ledger, flags *common.Flags, manager *state.Manager, store *archive.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		registry:  reg,
		ledger:    ledger,
		flags:     flags,
		manager:   manager,
		archive:   store,
		logger:    logger,
		authToken:  strings.TrimSpace(os.Getenv("OTC_RPC_TOKEN")),
		tradeToken: strings.TrimSpace(os.Getenv("OTC_RPC_TRADE_TOKEN")),
		rateLimit:  rate.Limit(50),
		rateBurst:  100,
		visitors:   make(map[string]*rate.Limiter),
	}
}

// SetRateLimit overrides the per-client request rate.
func (s *Server) SetRateLimit(perSecond float64, burst int) {
	if perSecond > 0 {
		s.rateLimit = rate.Limit(perSecond)
	}
	if burst > 0 {
		s.rateBurst = burst
	}
}

// Router builds the HTTP routes: the RPC endpoint, a liveness probe, and the
// Prometheus scrape endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves the router until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv.ListenAndServe()
}

// RPCRequest is a single JSON-RPC 2.0 call.
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
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
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

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// statusRecorder captures the final HTTP status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	method := s.dispatch(rec, r)
	observability.RPCMetrics().Observe(method, rec.status, time.Since(started))
}

// dispatch parses the request and routes it; it returns the method name for
// metrics, or a placeholder when parsing failed before one was known.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) string {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.allowSource(clientIP(r)) {
		observability.RPCMetrics().RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "too many requests", nil)
		return "throttled"
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return "invalid"
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return "invalid"
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return "invalid"
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return "invalid"
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return "invalid"
	}

	switch req.Method {
	case "otc_createSwap":
		s.tradeAuthed(w, r, req, s.handleCreateSwap)
	case "otc_acceptSwap":
		s.tradeAuthed(w, r, req, s.handleAcceptSwap)
	case "otc_cancelSwap":
		s.tradeAuthed(w, r, req, s.handleCancelSwap)
	case "otc_emergencyWithdraw":
		s.tradeAuthed(w, r, req, s.handleEmergencyWithdraw)
	case "otc_getSwap":
		s.handleGetSwap(w, req)
	case "otc_listActive":
		s.handleListActive(w, req)
	case "otc_listByStatus":
		s.handleListByStatus(w, req)
	case "otc_listByToken":
		s.handleListByToken(w, req)
	case "otc_userOpenSwaps":
		s.handleUserOpenSwaps(w, req)
	case "otc_marketData":
		s.handleMarketData(w, req)
	case "otc_getBalance":
		s.handleGetBalance(w, req)
	case "otc_registryInfo":
		s.handleRegistryInfo(w, req)
	case "otc_validateRange":
		s.authed(w, r, req, s.handleValidateRange)
	case "otc_recheckEmpty":
		s.authed(w, r, req, s.handleRecheckEmpty)
	case "otc_submitToken":
		s.handleSubmitToken(w, req)
	case "otc_setApproved":
		s.authed(w, r, req, s.handleSetApproved)
	case "otc_removeValidated":
		s.authed(w, r, req, s.handleRemoveValidated)
	case "otc_setBlacklisted":
		s.authed(w, r, req, s.handleSetBlacklisted)
	case "otc_setPaused":
		s.authed(w, r, req, s.handleSetPaused)
	case "otc_setShutdown":
		s.authed(w, r, req, s.handleSetShutdown)
	case "otc_prune":
		s.authed(w, r, req, s.handlePrune)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
	return req.Method
}

type rpcHandler func(http.ResponseWriter, *RPCRequest)

func (s *Server) authed(w http.ResponseWriter, r *http.Request, req *RPCRequest, next rpcHandler) {
	if authErr := s.requireToken(r, s.authToken); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	next(w, req)
}

// tradeAuthed guards trading methods. The admin token is always accepted so a
// single-operator deployment needs no second credential.
func (s *Server) tradeAuthed(w http.ResponseWriter, r *http.Request, req *RPCRequest, next rpcHandler) {
	if authErr := s.requireToken(r, s.tradeToken, s.authToken); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	next(w, req)
}

func (s *Server) requireToken(r *http.Request, accepted ...string) *RPCError {
	configured := false
	for _, candidate := range accepted {
		if candidate != "" {
			configured = true
		}
	}
	if !configured {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	for _, candidate := range accepted {
		if candidate == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(candidate)) == 1 {
			return nil
		}
	}
	return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.visitors[source]
	if !ok {
		limiter = rate.NewLimiter(s.rateLimit, s.rateBurst)
		s.visitors[source] = limiter
	}
	return limiter.Allow()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// persistRegistry snapshots the registry after an administrative mutation.
// Failures are logged, not surfaced: the in-memory state already changed.
func (s *Server) persistRegistry() {
	if s.manager == nil || s.registry == nil {
		return
	}
	if err := s.manager.SaveRegistry(s.registry.Snapshot()); err != nil {
		s.logger.Error("failed to persist registry snapshot", "err", err)
	}
}
