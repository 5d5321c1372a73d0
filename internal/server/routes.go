package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/domus/internal/api/v1"
	"github.com/gosuda/domus/internal/api/ws"
)

func registerAuthRoutes(api huma.API, deps Deps) {
	v1.RegisterAuthRoutes(api, deps.Store, deps.Auth)
}

func registerAPIRoutes(api huma.API, deps Deps) {
	v1.RegisterSessionRoutes(api)
	v1.RegisterTenantRoutes(api, deps.Store, deps.Guard)
	v1.RegisterHouseRoutes(api, deps.Store, deps.Guard)
	v1.RegisterCommandRoutes(api, deps.Commands)
	v1.RegisterAuditRoutes(api, deps.Audit)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/commands/{id}", hub.ServeCommand)
}
