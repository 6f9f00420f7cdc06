package oracle

import (
	"context"
	"log/slog"

	"github.com/bowerhall/multiai/internal/logger"
)

// Router sends each request to the oracle registered for its persona,
// falling back when none is.
type Router struct {
	routes   map[string]Oracle
	fallback Oracle
	log      *slog.Logger
}

func NewRouter(fallback Oracle) *Router {
	return &Router{
		routes:   make(map[string]Oracle),
		fallback: fallback,
		log:      logger.With("component", "oracle"),
	}
}

func (r *Router) Route(personaID string, o Oracle) {
	r.routes[personaID] = o
}

func (r *Router) Generate(ctx context.Context, req Request) (string, error) {
	o, ok := r.routes[req.Persona.ID]
	if !ok {
		o = r.fallback
	}

	reply, err := o.Generate(ctx, req)
	if err != nil {
		r.log.Warn("generation failed", "persona", req.Persona.ID, "error", err)
		return "", err
	}
	return reply, nil
}
