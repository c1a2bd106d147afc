package controllers

import (
	"github.com/go-chi/chi/v5"

	"github.com/rzbill/evstore/internal/runtime"
	logpkg "github.com/rzbill/evstore/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general *GeneralController
	streams *StreamsController
}

// NewControllerRegistry initializes all controllers over rt.
func NewControllerRegistry(rt *runtime.Runtime, logger logpkg.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt, logger),
		streams: NewStreamsController(rt, logger),
	}
}

// RegisterAllRoutes registers every controller's routes on r.
func (r *ControllerRegistry) RegisterAllRoutes(router chi.Router) {
	r.general.RegisterRoutes(router)
	r.streams.RegisterRoutes(router)
}
