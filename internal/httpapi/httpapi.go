// Package httpapi implements spec.md §6's representative HTTP surface as
// a thin chi router over the domain services, grounded on the teacher's
// internal/server.Server (chi.NewRouter, middleware.Recoverer/RequestID,
// a *Server struct holding every collaborator the handlers close over).
package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"alnorchestrator/internal/broadcast"
	"alnorchestrator/internal/catalog"
	"alnorchestrator/internal/config"
	"alnorchestrator/internal/devices"
	"alnorchestrator/internal/models"
	"alnorchestrator/internal/offline"
	"alnorchestrator/internal/session"
	"alnorchestrator/internal/video"
)

// Version is reported by GET /health.
const Version = "0.1.0"

// Aggregator is the narrow seam into internal/aggregator.Aggregator.
type Aggregator interface {
	Snapshot() (models.SyncFullSnapshot, string)
}

// Server is the §6 HTTP surface, grounded on the teacher's
// internal/server.Server composition.
type Server struct {
	session *session.Service
	agg     Aggregator
	offline *offline.Service
	video   *video.Service
	catalog *catalog.Catalog
	devices *devices.Registry
	bcast   *broadcast.Layer
	cfg     *config.Config

	startedAt time.Time

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// New constructs a Server wiring every collaborator the §6 handlers need.
func New(sess *session.Service, agg Aggregator, off *offline.Service, vid *video.Service, cat *catalog.Catalog, devs *devices.Registry, bcast *broadcast.Layer, cfg *config.Config) *Server {
	return &Server{
		session:   sess,
		agg:       agg,
		offline:   off,
		video:     vid,
		catalog:   cat,
		devices:   devs,
		bcast:     bcast,
		cfg:       cfg,
		startedAt: time.Now().UTC(),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Router builds the chi mux, mirroring the teacher's
// internal/server.Server.Router layering of global middleware ahead of
// route registration.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	s.routes(r)
	return r
}
