// Package handlers wires the built-in handler types into a registry.
package handlers

import (
	"example.com/rangehttp/internal/config"
	"example.com/rangehttp/internal/handlers/staticfile"
	"example.com/rangehttp/internal/server"
)

// NewRegistry returns a registry holding every built-in handler type.
func NewRegistry() (*server.HandlerRegistry, error) {
	registry := server.NewHandlerRegistry()
	if err := registry.Register(config.StaticFileServerHandlerType, staticfile.New); err != nil {
		return nil, err
	}
	return registry, nil
}
