// Package httpapi is the display node's read-only status surface.
package httpapi

import (
	"context"
	"net/http"

	"crossing/internal/display"
	"crossing/internal/history"
)

type StateSource interface {
	Snapshot() display.Snapshot
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	State   StateSource
	Results history.Repository
	// DB is checked by /healthz; nil skips the check.
	DB Pinger
}

func NewMux(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, deps.DB)
	registerStatus(mux, deps.State, deps.Results)
	return mux
}
