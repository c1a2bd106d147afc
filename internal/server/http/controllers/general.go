package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rzbill/evstore/internal/runtime"
	logpkg "github.com/rzbill/evstore/pkg/log"
)

// GeneralController serves health, tenant listing and metrics.
type GeneralController struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime, logger logpkg.Logger) *GeneralController {
	return &GeneralController{rt: rt, logger: logger}
}

// RegisterRoutes registers general routes on r.
func (c *GeneralController) RegisterRoutes(r chi.Router) {
	r.Get("/v1/healthz", c.handleHealth)
	r.Get("/v1/tenants", c.handleListTenants)
	r.Method(http.MethodGet, "/metrics", c.rt.Metrics().Handler())
}

// handleHealth returns 200 {"status":"ok"} when the backend is reachable and
// 503 otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		c.logger.Warn("health check failed", logpkg.Err(err))
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (c *GeneralController) handleListTenants(w http.ResponseWriter, r *http.Request) {
	list, err := c.rt.Store().Tenants(r.Context())
	if err != nil {
		writeStoreError(w, c.logger, err)
		return
	}
	if list == nil {
		list = []string{}
	}
	writeJSON(w, tenantsResp{Tenants: list})
}
