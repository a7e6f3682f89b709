package server

import (
	"context"

	"github.com/globalworming/low-tech-ai-pocs/relay"
	"github.com/globalworming/low-tech-ai-pocs/slots"
)

// TokenStatus is the token-store view used by readiness checks.
type TokenStatus interface {
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// Deps are the collaborators the HTTP surface reports on. Tokens and Hub
// may be nil.
type Deps struct {
	Store     *slots.Store
	Scheduler *relay.Scheduler
	Tokens    TokenStatus
	Hub       *Hub
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	store  *slots.Store
	sched  *relay.Scheduler
	tokens TokenStatus
	hub    *Hub
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{store: d.Store, sched: d.Scheduler, tokens: d.Tokens, hub: d.Hub}
}
