package app

import (
	httpx "github.com/ilyacantor/autonomos-platform-sub006/internal/http"
	httpH "github.com/ilyacantor/autonomos-platform-sub006/internal/http/handlers"
	httpMW "github.com/ilyacantor/autonomos-platform-sub006/internal/http/middleware"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/observability"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

func wireServer(log *logger.Logger, cfg Config, svc Services, metrics *observability.Metrics) (*httpx.Server, error) {
	am, err := httpMW.NewAuthMiddleware(log, httpMW.AuthConfig{
		SecretKey: cfg.JWTSecretKey,
		Disabled:  cfg.AuthDisabled,
	})
	if err != nil {
		return nil, err
	}
	return httpx.NewServer(httpx.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		CORSOrigins:     cfg.CORSOrigins,
		AuthMiddleware:  am,
		MappingHandler:  httpH.NewMappingHandler(svc.Registry, svc.Contracts, svc.Pipeline),
		DriftHandler:    httpH.NewDriftHandler(svc.Pipeline, svc.Connector),
		ApprovalHandler: httpH.NewApprovalHandler(svc.Review),
		HealthHandler:   httpH.NewHealthHandler(metrics),
	}), nil
}
