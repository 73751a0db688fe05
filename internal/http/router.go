package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/ilyacantor/autonomos-platform-sub006/internal/http/handlers"
	httpMW "github.com/ilyacantor/autonomos-platform-sub006/internal/http/middleware"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

const serviceName = "driftd"

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	CORSOrigins    []string
	AuthMiddleware *httpMW.AuthMiddleware

	MappingHandler  *httpH.MappingHandler
	DriftHandler    *httpH.DriftHandler
	ApprovalHandler *httpH.ApprovalHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.TraceContext())
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/metrics", cfg.HealthHandler.Metrics)
	}

	protected := r.Group("/")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireAuth())
	}
	privileged := protected.Group("/")
	reviewers := protected.Group("/")
	if cfg.AuthMiddleware != nil {
		privileged.Use(cfg.AuthMiddleware.RequireRole(httpMW.RoleMappingAdmin))
		reviewers.Use(cfg.AuthMiddleware.RequireRole(httpMW.RoleReviewer, httpMW.RoleMappingAdmin))
	}

	// Mappings
	if cfg.MappingHandler != nil {
		protected.GET("/mappings/:source/:entity/:field", cfg.MappingHandler.GetMapping)
		protected.GET("/api/mappings/:source/:entity", cfg.MappingHandler.ListActive)
		protected.GET("/api/mappings/:source/:entity/:field/versions", cfg.MappingHandler.ListVersions)
		privileged.POST("/mappings", cfg.MappingHandler.UpsertMapping)
		privileged.POST("/api/mappings/:id/activate", cfg.MappingHandler.Activate)
		privileged.POST("/api/mappings/:id/deactivate", cfg.MappingHandler.Deactivate)
	}

	// Drift
	if cfg.DriftHandler != nil {
		protected.POST("/drift/repair", cfg.DriftHandler.Repair)
		protected.GET("/api/drift/tickets", cfg.DriftHandler.ListTickets)
		protected.POST("/api/sources/:source/:entity/snapshot", cfg.DriftHandler.Snapshot)
		protected.POST("/api/sources/:source/:entity/scan", cfg.DriftHandler.Scan)
		protected.GET("/api/sources/:source/:entity/fingerprints", cfg.DriftHandler.Fingerprints)
		protected.POST("/api/ingest/:source/:entity", cfg.DriftHandler.Ingest)
	}

	// Review queue
	if cfg.ApprovalHandler != nil {
		reviewers.POST("/approvals/:id/approve", cfg.ApprovalHandler.Approve)
		reviewers.POST("/approvals/:id/reject", cfg.ApprovalHandler.Reject)
		protected.GET("/api/approvals", cfg.ApprovalHandler.List)
		protected.GET("/api/approvals/:id", cfg.ApprovalHandler.Get)
	}

	return r
}
