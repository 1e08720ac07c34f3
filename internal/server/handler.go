package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"example.com/rangehttp/internal/logger"
)

// HandlerFactory builds a handler from its route's raw handler_config.
// mainConfigFilePath is the loaded configuration file, or empty for configurations
// built in code; handlers use it to resolve relative paths.
type HandlerFactory func(handlerConfig json.RawMessage, lg *logger.Logger, mainConfigFilePath string) (Handler, error)

// HandlerRegistry maps handler_type names from the configuration to factories.
// It is safe for concurrent use.
type HandlerRegistry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		factories: make(map[string]HandlerFactory),
	}
}

// Register associates handlerType with factory. Registering a type twice is an error.
func (r *HandlerRegistry) Register(handlerType string, factory HandlerFactory) error {
	if factory == nil {
		return fmt.Errorf("factory for handler type '%s' cannot be nil", handlerType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[handlerType]; exists {
		return fmt.Errorf("handler type '%s' already registered", handlerType)
	}
	r.factories[handlerType] = factory
	return nil
}

// GetFactory returns the factory registered for handlerType.
func (r *HandlerRegistry) GetFactory(handlerType string) (HandlerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[handlerType]
	return factory, ok
}

// Types lists the registered handler types in sorted order.
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// CreateHandler instantiates a handler of handlerType.
func (r *HandlerRegistry) CreateHandler(handlerType string, handlerConfig json.RawMessage, lg *logger.Logger, mainConfigFilePath string) (Handler, error) {
	factory, ok := r.GetFactory(handlerType)
	if !ok {
		return nil, fmt.Errorf("no handler factory registered for type '%s'", handlerType)
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil when creating handler type '%s'", handlerType)
	}
	return factory(handlerConfig, lg, mainConfigFilePath)
}

// HeaderField is a single response header. Names are lower case.
type HeaderField struct {
	Name  string
	Value string
}

// ResponseWriter is how handlers emit a response: one header block, then zero
// or more body chunks. endStream marks the last write of the response.
type ResponseWriter interface {
	// SendHeaders commits the status line and headers. It may be called once.
	SendHeaders(status int, headers []HeaderField, endStream bool) error

	// WriteData sends a chunk of the response body.
	WriteData(p []byte, endStream bool) (n int, err error)
}

// ResponseWriterStream is a ResponseWriter bound to a single request.
type ResponseWriterStream interface {
	ResponseWriter
	// ID is the server-assigned request identifier, also written to the access log.
	ID() uint64
	Context() context.Context
}

// Handler processes requests for a route. Its configuration is fixed when the
// factory builds it; ServeStream may be called concurrently.
type Handler interface {
	ServeStream(resp ResponseWriterStream, req *http.Request)
}

// RouterInterface dispatches a request to the matching handler, or answers it
// with an error response when none matches.
type RouterInterface interface {
	ServeStream(s ResponseWriterStream, req *http.Request)
}
