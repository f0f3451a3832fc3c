// Package middleware wraps a user turn with cross-cutting steps such as input
// validation, logging, rate limiting and error classification.
package middleware

import (
	"context"
)

// Context represents the middleware execution context of one turn
type Context struct {
	// Session the turn belongs to
	SessionID string

	// Original user input
	Input string

	// Final answer, set once the turn completed
	Answer string

	// Transcript write failure of a completed turn
	PersistErr error

	// Metadata for passing data between middlewares
	Metadata map[string]any

	// Internal state
	context context.Context
}

// NewContext creates a new middleware context
func NewContext(ctx context.Context, sessionID, input string) *Context {
	return &Context{
		SessionID: sessionID,
		Input:     input,
		Metadata:  make(map[string]any),
		context:   ctx,
	}
}

// Context returns the underlying context.Context
func (c *Context) Context() context.Context {
	if c.context == nil {
		return context.Background()
	}
	return c.context
}

// WithContext replaces the underlying context.Context
func (c *Context) WithContext(ctx context.Context) {
	c.context = ctx
}

// Middleware defines the interface for middleware components
// Middlewares can intercept and modify a turn before and after it runs
type Middleware interface {
	// Name returns the name of the middleware for logging and debugging
	Name() string

	// Execute runs the middleware logic
	// It receives the current context and a next handler to continue the chain
	// Returning error will stop the middleware chain
	Execute(ctx *Context, next Handler) error
}

// Handler is the function called to pass control to the next middleware
type Handler func(*Context) error

// MiddlewareChain represents a sequence of middleware to be executed
type MiddlewareChain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...Middleware) *MiddlewareChain {
	return &MiddlewareChain{
		middlewares: middlewares,
	}
}

// Add appends a middleware to the chain
func (c *MiddlewareChain) Add(m Middleware) *MiddlewareChain {
	c.middlewares = append(c.middlewares, m)
	return c
}

// Names returns the middleware names in execution order
func (c *MiddlewareChain) Names() []string {
	names := make([]string, 0, len(c.middlewares))
	for _, m := range c.middlewares {
		names = append(names, m.Name())
	}
	return names
}

// Execute runs all middlewares in the chain
func (c *MiddlewareChain) Execute(ctx *Context, finalHandler Handler) error {
	if c == nil {
		return finalHandler(ctx)
	}
	return c.executeMiddleware(ctx, 0, finalHandler)
}

// executeMiddleware recursively executes middlewares in sequence
func (c *MiddlewareChain) executeMiddleware(ctx *Context, index int, finalHandler Handler) error {
	if index >= len(c.middlewares) {
		// All middlewares executed, call the final handler
		return finalHandler(ctx)
	}

	// Create a handler for the next middleware
	nextHandler := func(ctx *Context) error {
		return c.executeMiddleware(ctx, index+1, finalHandler)
	}

	// Execute current middleware
	return c.middlewares[index].Execute(ctx, nextHandler)
}
