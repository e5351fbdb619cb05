// Package toolsvc hosts plain Go functions behind the remote tool invocation
// contract, so demo deployments and tests have real HTTP endpoints to bill
// against without standing up external tool providers.
package toolsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
)

// ToolFunc is the signature a hosted tool implements. Params arrive already
// decoded from the request body; the returned value is serialized into the
// completion envelope.
type ToolFunc func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Handler adapts a Go function into a hosted tool with input validation.
type Handler struct {
	name      string
	toolFunc  ToolFunc
	validator func(map[string]interface{}) error
}

// HandlerOption represents an option for configuring a Handler.
type HandlerOption func(*Handler)

// WithValidator sets a custom validator function for the tool.
func WithValidator(validator func(map[string]interface{}) error) HandlerOption {
	return func(handler *Handler) {
		handler.validator = validator
	}
}

// NewHandler creates a hosted tool for a Go function.
func NewHandler(name string, toolFunc ToolFunc, options ...HandlerOption) *Handler {
	handler := &Handler{
		name:     name,
		toolFunc: toolFunc,
		validator: func(params map[string]interface{}) error {
			// Default validator just ensures params is not nil
			if params == nil {
				return fmt.Errorf("params cannot be nil")
			}
			return nil
		},
	}

	for _, option := range options {
		option(handler)
	}

	return handler
}

// Name returns the tool name requests address this handler by.
func (h *Handler) Name() string {
	return h.name
}

// Validate checks params against the handler's validator.
func (h *Handler) Validate(params map[string]interface{}) error {
	if h.validator != nil {
		return h.validator(params)
	}
	return nil
}

// Execute validates params and runs the tool function.
func (h *Handler) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if h.toolFunc == nil {
		return nil, fmt.Errorf("tool function is nil")
	}

	if err := h.Validate(params); err != nil {
		return nil, fmt.Errorf("input validation failed for %s: %w", h.name, err)
	}

	return h.toolFunc(ctx, params)
}

// Pending is returned by a tool function to signal that it accepted the work
// and will complete it out of band. Fields are merged into the
// acknowledgement envelope, typically a claim check the caller can poll.
type Pending struct {
	Fields map[string]interface{}
}

// Service dispatches invocation requests to registered handlers. It
// implements http.Handler and speaks the invocation wire contract: a POST
// carrying {"tool", "params"} answered by a completed, failed, or pending
// status envelope.
type Service struct {
	mu       sync.RWMutex
	handlers map[string]*Handler
}

// New creates a service with no registered tools.
func New() *Service {
	return &Service{handlers: make(map[string]*Handler)}
}

// Register adds a handler. Registering the same tool name twice is an error.
func (s *Service) Register(handler *Handler) error {
	if handler == nil || handler.name == "" {
		return fmt.Errorf("handler must carry a tool name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handlers[handler.name]; exists {
		return fmt.Errorf("tool '%s' is already registered", handler.name)
	}
	s.handlers[handler.name] = handler
	return nil
}

// Lookup returns the handler registered under name.
func (s *Service) Lookup(name string) (*Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	handler, ok := s.handlers[name]
	return handler, ok
}

// -- invocation wire types --

type requestEnvelope struct {
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params"`
}

type errorBody struct {
	Message string                 `json:"message"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ServeHTTP implements the http.Handler interface. Application-level tool
// failures ride a 200 response with a failed envelope; only transport and
// protocol problems get non-200 statuses, since those are the retryable
// class for callers.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "invocations must be POSTed", http.StatusMethodNotAllowed)
		return
	}

	var req requestEnvelope
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, failedEnvelope("bad_request", fmt.Sprintf("undecodable request body: %v", err)))
		return
	}

	handler, ok := s.Lookup(req.Tool)
	if !ok {
		writeJSON(w, http.StatusOK, failedEnvelope("unknown_tool", fmt.Sprintf("no tool registered under '%s'", req.Tool)))
		return
	}

	if err := handler.Validate(req.Params); err != nil {
		writeJSON(w, http.StatusOK, failedEnvelope("invalid_params", err.Error()))
		return
	}

	result, err := handler.Execute(r.Context(), req.Params)
	if err != nil {
		log.Printf("toolsvc: tool '%s' failed: %v", req.Tool, err)
		writeJSON(w, http.StatusOK, failedEnvelope("execution_failed", err.Error()))
		return
	}

	if pending, ok := result.(Pending); ok {
		envelope := map[string]interface{}{"status": "pending"}
		for key, value := range pending.Fields {
			if key != "status" {
				envelope[key] = value
			}
		}
		writeJSON(w, http.StatusOK, envelope)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "completed",
		"result": result,
	})
}

func failedEnvelope(code, message string) map[string]interface{} {
	return map[string]interface{}{
		"status": "failed",
		"error":  errorBody{Message: message, Code: code},
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("toolsvc: failed to encode response: %v", err)
	}
}
