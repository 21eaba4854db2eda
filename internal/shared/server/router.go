package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taxrecovery-backend/internal/batches"
	"taxrecovery-backend/internal/documents"
	"taxrecovery-backend/internal/services/health"
	"taxrecovery-backend/internal/shared/config"
	"taxrecovery-backend/internal/shared/metrics"
	"taxrecovery-backend/internal/shared/server/middleware"
	"taxrecovery-backend/internal/shared/server/respond"
)

// RouterDeps carries the handlers the router wires up.
type RouterDeps struct {
	Config          config.Config
	BatchHandler    *batches.Handler
	DocumentHandler *documents.Handler
	Health          *health.Service
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	// Liveness and metrics stay outside auth so probes need no identity.
	r.GET("/health", func(c *gin.Context) {
		status := deps.Health.Status(c.Request.Context())
		code := http.StatusOK
		if ok, _ := status["ok"].(bool); !ok {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, status)
	})
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.Use(middleware.Auth(deps.Config.Env))
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			"UPLOAD": {Rate: 0.2, Burst: 3}, // batch uploads and analyze submissions
		},
		GroupFor: func(c *gin.Context) string {
			if c.Request.Method == http.MethodPost {
				return "UPLOAD"
			}
			return ""
		},
	}))

	registerMeRoutes(api)
	if deps.BatchHandler != nil {
		deps.BatchHandler.RegisterRoutes(api)
	}
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
