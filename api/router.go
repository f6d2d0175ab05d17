package api

import (
	"net/http"
)

// Registrar mounts its routes on a mux. Every handler in api/handlers
// implements it.
type Registrar interface {
	Register(mux *http.ServeMux)
}

// NewMux builds the API mux from the given registrars.
func NewMux(regs ...Registrar) *http.ServeMux {
	mux := http.NewServeMux()
	for _, r := range regs {
		if r != nil {
			r.Register(mux)
		}
	}
	return mux
}
