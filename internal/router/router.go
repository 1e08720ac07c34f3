package router

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"example.com/rangehttp/internal/config"
	"example.com/rangehttp/internal/logger"
	"example.com/rangehttp/internal/server"
)

// MatchedPathPatternKey is the request context key under which the router
// stores the PathPattern of the route that matched. Handlers mounted under a
// prefix use it to find the part of the path they serve.
type MatchedPathPatternKey struct{}

// WithMatchedPathPattern returns a copy of ctx carrying pattern.
func WithMatchedPathPattern(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, MatchedPathPatternKey{}, pattern)
}

// MatchedPathPattern extracts the pattern stored by WithMatchedPathPattern.
func MatchedPathPattern(ctx context.Context) (string, bool) {
	pattern, ok := ctx.Value(MatchedPathPatternKey{}).(string)
	return pattern, ok
}

type boundRoute struct {
	route   config.Route
	handler server.Handler
}

// Router holds the routing table and dispatches requests.
//
// Handlers are built once, when the router is constructed, and shared by all
// requests to their route.
type Router struct {
	// exactRoutes is keyed by PathPattern.
	exactRoutes map[string]boundRoute

	// prefixRoutes is sorted by PathPattern length, longest first, so the
	// first match is the most specific.
	prefixRoutes []boundRoute

	log *logger.Logger
}

// NewRouter builds the routing table, instantiating one handler per route
// through registry. It fails if any factory does.
func NewRouter(routes []config.Route, registry *server.HandlerRegistry, lg *logger.Logger, mainConfigFilePath string) (*Router, error) {
	if registry == nil {
		return nil, fmt.Errorf("handler registry cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	r := &Router{
		exactRoutes: make(map[string]boundRoute),
		log:         lg,
	}
	for i, route := range routes {
		handler, err := registry.CreateHandler(route.HandlerType, []byte(route.HandlerConfig), lg, mainConfigFilePath)
		if err != nil {
			return nil, fmt.Errorf("routing.routes[%d] (%s %q): %w", i, route.MatchType, route.PathPattern, err)
		}
		bound := boundRoute{route: route, handler: handler}
		switch route.MatchType {
		case config.MatchTypeExact:
			r.exactRoutes[route.PathPattern] = bound
		case config.MatchTypePrefix:
			r.prefixRoutes = append(r.prefixRoutes, bound)
		default:
			return nil, fmt.Errorf("routing.routes[%d]: unknown match_type %q", i, route.MatchType)
		}
		lg.Debug("Route registered", logger.LogFields{
			"path_pattern": route.PathPattern,
			"match_type":   string(route.MatchType),
			"handler_type": route.HandlerType,
		})
	}

	sort.SliceStable(r.prefixRoutes, func(i, j int) bool {
		return len(r.prefixRoutes[i].route.PathPattern) > len(r.prefixRoutes[j].route.PathPattern)
	})
	return r, nil
}

// MatchedRouteInfo is the result of a successful lookup.
type MatchedRouteInfo struct {
	Handler server.Handler
	Route   config.Route
}

// FindRoute matches path against the table. Exact routes win over prefix
// routes, and among prefixes the longest wins. It returns nil when nothing matches.
func (r *Router) FindRoute(path string) *MatchedRouteInfo {
	if bound, ok := r.exactRoutes[path]; ok {
		return &MatchedRouteInfo{Handler: bound.handler, Route: bound.route}
	}
	for _, bound := range r.prefixRoutes {
		if strings.HasPrefix(path, bound.route.PathPattern) {
			return &MatchedRouteInfo{Handler: bound.handler, Route: bound.route}
		}
	}
	return nil
}

// ServeStream dispatches req to the matching handler, or answers 404.
func (r *Router) ServeStream(s server.ResponseWriterStream, req *http.Request) {
	matched := r.FindRoute(req.URL.Path)
	if matched == nil {
		r.log.Info("No route matched for request", logger.LogFields{
			"path":       req.URL.Path,
			"request_id": s.ID(),
		})
		server.SendDefaultErrorResponse(s, http.StatusNotFound, req, "", r.log)
		return
	}

	req = req.WithContext(WithMatchedPathPattern(req.Context(), matched.Route.PathPattern))
	matched.Handler.ServeStream(s, req)
}
